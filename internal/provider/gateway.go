// Package provider calls model, research, plagiarism and image providers
// through HTTP gateways.
//
// Each provider name in the generation config maps to a gateway that
// accepts a stage request as JSON at POST {base_url}/stages/{stage} and
// answers with a stage result. Vendor-specific clients live behind the
// gateway; this package only speaks the gateway contract.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/httpclient"
	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/pipeline"
)

// maxResponseBytes caps a gateway response.
const maxResponseBytes = 10 << 20

// Endpoint describes one provider gateway.
// Defined here so the package does not import the config package.
type Endpoint struct {
	// Name is the provider name referenced by generation configs.
	Name string
	// BaseURL is the gateway base URL.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout is the HTTP timeout per attempt.
	Timeout time.Duration
	// RateLimit is the request rate to this gateway.
	RateLimit float64
	// MaxRetries is the number of retries on 429 and 5xx.
	MaxRetries int
}

// gatewayErrorResponse is the error body a gateway may return.
type gatewayErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// GatewayInvoker implements pipeline.Invoker over an HTTP gateway.
type GatewayInvoker struct {
	name    string
	baseURL string
	client  *httpclient.Client
}

// Compile-time interface verification.
var _ pipeline.Invoker = (*GatewayInvoker)(nil)

// NewGatewayInvoker creates an invoker for ep.
func NewGatewayInvoker(ep Endpoint, metrics *observability.Metrics) (*GatewayInvoker, error) {
	if ep.Name == "" {
		return nil, errors.New("provider: endpoint name is required")
	}
	u, err := url.Parse(ep.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider %s: invalid base url %q", ep.Name, ep.BaseURL)
	}
	if ep.Timeout <= 0 {
		ep.Timeout = 2 * time.Minute
	}

	cfg := httpclient.Config{
		Timeout:    ep.Timeout,
		RateLimit:  ep.RateLimit,
		MaxRetries: ep.MaxRetries,
		Metrics:    metrics,
	}
	if ep.APIKey != "" {
		cfg.APIKey = "Bearer " + ep.APIKey
		cfg.APIKeyHeader = "Authorization"
	}

	return &GatewayInvoker{
		name:    ep.Name,
		baseURL: strings.TrimRight(ep.BaseURL, "/"),
		client:  httpclient.New(cfg),
	}, nil
}

// Name returns the provider name.
func (g *GatewayInvoker) Name() string {
	return g.name
}

// Invoke posts req to the gateway's stage endpoint. Undecodable responses
// are invalid-output stage errors; HTTP failures are *APIError.
func (g *GatewayInvoker) Invoke(ctx context.Context, req pipeline.StageRequest) (*pipeline.StageResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", g.name, err)
	}

	endpoint := g.baseURL + "/stages/" + url.PathEscape(string(req.Stage))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", g.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Article-ID", req.ArticleID.String())

	resp, err := g.client.Do(httpReq)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, &APIError{Provider: g.name, StatusCode: statusErr.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("%s: request failed: %w", g.name, err)
	}

	respBody, err := httpclient.ReadBody(resp, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response body: %w", g.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(g.name, resp.StatusCode, respBody)
	}

	var result pipeline.StageResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &domain.StageExecutionError{
			Stage:    req.Stage,
			Provider: g.name,
			Model:    req.Model,
			Kind:     domain.StageFailureInvalidOutput,
			Err:      fmt.Errorf("failed to decode gateway response: %w", err),
		}
	}
	return &result, nil
}

func parseAPIError(provider string, statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp gatewayErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Code = errResp.Error.Code
	}
	return apiErr
}
