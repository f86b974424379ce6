package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/pipeline"
)

func newGatewayTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestInvoker(t *testing.T, serverURL string) *GatewayInvoker {
	t.Helper()
	inv, err := NewGatewayInvoker(Endpoint{
		Name:      "openai",
		BaseURL:   serverURL + "/",
		APIKey:    "test-api-key",
		Timeout:   5 * time.Second,
		RateLimit: 100,
	}, nil)
	require.NoError(t, err)
	return inv
}

func TestGatewayInvoker_Invoke(t *testing.T) {
	articleID := uuid.New()

	t.Run("posts the stage request and decodes the result", func(t *testing.T) {
		var received pipeline.StageRequest
		var path, auth, contentType, articleHeader string

		server := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			auth = r.Header.Get("Authorization")
			contentType = r.Header.Get("Content-Type")
			articleHeader = r.Header.Get("X-Article-ID")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"artifact":"## Intro\n\nBody","title":"Heat pumps explained"}`))
		})

		inv := newTestInvoker(t, server.URL)
		res, err := inv.Invoke(context.Background(), pipeline.StageRequest{
			ArticleID: articleID,
			Stage:     domain.StageOutline,
			Provider:  "openai",
			Model:     "gpt-4o",
			Keyword:   "heat pumps",
			Artifacts: domain.Artifacts{ResearchNotes: "notes"},
		})
		require.NoError(t, err)

		assert.Equal(t, "/stages/outline", path)
		assert.Equal(t, "Bearer test-api-key", auth)
		assert.Equal(t, "application/json", contentType)
		assert.Equal(t, articleID.String(), articleHeader)
		assert.Equal(t, "heat pumps", received.Keyword)
		assert.Equal(t, "notes", received.Artifacts.ResearchNotes)
		assert.Equal(t, "## Intro\n\nBody", res.Artifact)
		assert.Equal(t, "Heat pumps explained", res.Title)
	})

	t.Run("decodes scores", func(t *testing.T) {
		server := newGatewayTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"score":12.5,"suggestions":["vary sentence length"]}`))
		})

		res, err := newTestInvoker(t, server.URL).Invoke(context.Background(), pipeline.StageRequest{
			ArticleID: articleID,
			Stage:     domain.StageAIDetection,
		})
		require.NoError(t, err)
		require.NotNil(t, res.Score)
		assert.InDelta(t, 12.5, *res.Score, 0.001)
		assert.Equal(t, []string{"vary sentence length"}, res.Suggestions)
	})

	t.Run("undecodable body is invalid output", func(t *testing.T) {
		server := newGatewayTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>oops</html>`))
		})

		_, err := newTestInvoker(t, server.URL).Invoke(context.Background(), pipeline.StageRequest{
			ArticleID: articleID,
			Stage:     domain.StageContentGeneration,
			Model:     "gpt-4o",
		})
		var stageErr *domain.StageExecutionError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, domain.StageFailureInvalidOutput, stageErr.Kind)
		assert.Equal(t, domain.StageContentGeneration, stageErr.Stage)
		assert.Equal(t, "openai", stageErr.Provider)
		assert.ErrorIs(t, err, domain.ErrStageExecution)
	})

	t.Run("client error returns APIError with gateway message", func(t *testing.T) {
		server := newGatewayTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"unknown model","code":"model_not_found"}}`))
		})

		_, err := newTestInvoker(t, server.URL).Invoke(context.Background(), pipeline.StageRequest{
			ArticleID: articleID,
			Stage:     domain.StageResearch,
		})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "unknown model", apiErr.Message)
		assert.Equal(t, "model_not_found", apiErr.Code)
		assert.False(t, apiErr.IsTransient())
	})

	t.Run("plain text error body is kept", func(t *testing.T) {
		server := newGatewayTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad key"))
		})

		_, err := newTestInvoker(t, server.URL).Invoke(context.Background(), pipeline.StageRequest{
			ArticleID: articleID,
			Stage:     domain.StageResearch,
		})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "bad key", apiErr.Message)
	})

	t.Run("context deadline surfaces to the caller", func(t *testing.T) {
		release := make(chan struct{})
		server := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		// Runs before server.Close, which waits for in-flight handlers.
		t.Cleanup(func() { close(release) })

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := newTestInvoker(t, server.URL).Invoke(ctx, pipeline.StageRequest{
			ArticleID: articleID,
			Stage:     domain.StageResearch,
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewGatewayInvoker_Validation(t *testing.T) {
	_, err := NewGatewayInvoker(Endpoint{BaseURL: "http://gw"}, nil)
	assert.Error(t, err)

	_, err = NewGatewayInvoker(Endpoint{Name: "openai", BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestAPIError_IsTransient(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		e := &APIError{Provider: "p", StatusCode: tt.status}
		assert.Equal(t, tt.want, e.IsTransient(), "status %d", tt.status)
	}
}

func TestRegisterAll(t *testing.T) {
	reg := pipeline.NewInvokerRegistry()
	err := RegisterAll(reg, []Endpoint{
		{Name: "research", BaseURL: "http://research.internal"},
		{Name: "openai", BaseURL: "http://llm.internal"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "research"}, reg.Providers())

	err = RegisterAll(reg, []Endpoint{{Name: "openai", BaseURL: "http://other"}}, nil)
	assert.Error(t, err)

	err = RegisterAll(pipeline.NewInvokerRegistry(), []Endpoint{{Name: "bad", BaseURL: ""}}, nil)
	assert.Error(t, err)
}
