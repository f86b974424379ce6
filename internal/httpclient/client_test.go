package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/observability"
)

func fastClient(cfg Config) *Client {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	return New(cfg)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{})

	assert.Equal(t, 30*time.Second, c.client.Timeout)
	assert.Equal(t, DefaultUserAgent, c.config.UserAgent)
	assert.Equal(t, 3, c.config.MaxRetries)
	assert.Equal(t, time.Second, c.config.RetryDelay)
	assert.Equal(t, float64(10), c.config.RateLimit)
	assert.Equal(t, 10, c.config.BurstSize)
}

func TestClient_Headers(t *testing.T) {
	var gotUA, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotKey = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Run("config user agent and api key", func(t *testing.T) {
		c := fastClient(Config{UserAgent: "NewsBot/2.0", APIKey: "Bearer k", APIKeyHeader: "Authorization"})
		resp, err := c.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "NewsBot/2.0", gotUA)
		assert.Equal(t, "Bearer k", gotKey)
	})

	t.Run("request user agent wins", func(t *testing.T) {
		c := fastClient(Config{UserAgent: "NewsBot/2.0"})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		req.Header.Set("User-Agent", "Custom/3.0")
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "Custom/3.0", gotUA)
		assert.Empty(t, gotKey)
	})
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var count atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if count.Add(1) < 3 {
					w.Header().Set("Retry-After", "0")
					w.WriteHeader(status)
					return
				}
				_, _ = w.Write([]byte("ok"))
			}))
			defer server.Close()

			resp, err := fastClient(Config{}).Get(context.Background(), server.URL)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, int32(3), count.Load())
		})
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := fastClient(Config{}).Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), count.Load())
}

func TestClient_ExhaustedRetries(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	resp, err := fastClient(Config{MaxRetries: 2, Metrics: m}).Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Nil(t, resp)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, 3, statusErr.Attempts)
	assert.Equal(t, int32(3), count.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("127.0.0.1", "status_503")))
}

func TestClient_ResendsBodyOnRetry(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	resp, err := fastClient(Config{}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestClient_ContextCancelledDuringRetryWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fastClient(Config{}).Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Config{RateLimit: 10, BurstSize: 2})
	start := time.Now()
	for i := 0; i < 4; i++ {
		resp, err := c.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "requests beyond the burst wait for tokens")
}

func TestClient_PerHostLimiters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := fastClient(Config{PerHost: true})
	for _, u := range []string{server.URL, strings.Replace(server.URL, "127.0.0.1", "localhost", 1)} {
		resp, err := c.Get(context.Background(), u)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, 2, c.limiters.Len())
}

func TestReadBody(t *testing.T) {
	mk := func(s string) *http.Response {
		return &http.Response{Body: io.NopCloser(strings.NewReader(s))}
	}

	b, err := ReadBody(mk("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = ReadBody(mk("hello!"), 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	b, err = ReadBody(mk("unbounded"), 0)
	require.NoError(t, err)
	assert.Equal(t, "unbounded", string(b))
}

func TestHostLimiters(t *testing.T) {
	h := NewHostLimiters(1, 1)
	a := h.For("a.example")
	assert.Same(t, a, h.For("a.example"))
	assert.NotSame(t, a, h.For("b.example"))

	assert.True(t, a.Allow())
	assert.False(t, a.Allow(), "burst of one is consumed")
	assert.True(t, h.For("b.example").Allow(), "other hosts keep their budget")
}
