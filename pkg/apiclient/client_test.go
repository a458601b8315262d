package apiclient_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/apiclient"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(opts ...apiclient.Option) *apiclient.Client {
	return apiclient.NewClient(slog.Default(), append([]apiclient.Option{apiclient.WithBackoffBase(time.Millisecond)}, opts...)...)
}

func TestClient_GetIsCached(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"page":%q}`, r.URL.Query().Get("page"))
	}))
	defer server.Close()

	client := newClient()
	ctx := context.Background()

	first, err := client.Execute(ctx, apiclient.Request{URL: server.URL, Query: map[string]string{"page": "1"}})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, map[string]any{"page": "1"}, first.Value())

	second, err := client.Execute(ctx, apiclient.Request{Method: "get", URL: server.URL, Query: map[string]string{"page": "1"}})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), hits.Load())

	_, err = client.Execute(ctx, apiclient.Request{URL: server.URL, Query: map[string]string{"page": "2"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_CacheExpiresAfterTTL(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	now := time.Now()
	client := newClient(apiclient.WithClock(func() time.Time { return now }))

	_, err := client.Execute(context.Background(), apiclient.Request{URL: server.URL})
	require.NoError(t, err)

	now = now.Add(apiclient.DefaultCacheTTL)

	_, err = client.Execute(context.Background(), apiclient.Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_CacheEvictsOldestFirst(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newClient(apiclient.WithCache(time.Minute, 2))
	ctx := context.Background()

	for _, path := range []string{"/a", "/b", "/c"} {
		_, err := client.Execute(ctx, apiclient.Request{URL: server.URL + path})
		require.NoError(t, err)
	}

	response, err := client.Execute(ctx, apiclient.Request{URL: server.URL + "/c"})
	require.NoError(t, err)
	assert.True(t, response.Cached)

	response, err = client.Execute(ctx, apiclient.Request{URL: server.URL + "/a"})
	require.NoError(t, err)
	assert.False(t, response.Cached)
	assert.Equal(t, int32(4), hits.Load())
}

func TestClient_PostIsNeverCached(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newClient()

	for range 2 {
		response, err := client.Execute(context.Background(), apiclient.Request{Method: http.MethodPost, URL: server.URL, Body: map[string]any{"a": 1}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, response.StatusCode)
	}

	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ConcurrentGetsShareOneCall(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte("shared"))
	}))
	defer server.Close()

	client := newClient()

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			response, err := client.Execute(context.Background(), apiclient.Request{URL: server.URL})
			assert.NoError(t, err)
			assert.Equal(t, "shared", string(response.Body))
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	var hits atomic.Int32

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("shared"))
	}))
	defer server.Close()

	client := newClient()

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)

	go func() {
		_, err := client.Execute(leaderCtx, apiclient.Request{URL: server.URL})
		leaderErr <- err
	}()

	require.Eventually(t, func() bool {
		return hits.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancelLeader()

	select {
	case err := <-leaderErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	followerResponse := make(chan *apiclient.Response, 1)

	go func() {
		response, err := client.Execute(context.Background(), apiclient.Request{URL: server.URL})
		assert.NoError(t, err)
		followerResponse <- response
	}()

	close(release)

	select {
	case response := <-followerResponse:
		require.NotNil(t, response)
		assert.Equal(t, "shared", string(response.Body))
	case <-time.After(time.Second):
		t.Fatal("follower did not return")
	}

	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_SharedResponsesAreIndependentCopies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Trace", "a")
		_, _ = w.Write([]byte("shared"))
	}))
	defer server.Close()

	client := newClient()

	first, err := client.Execute(context.Background(), apiclient.Request{URL: server.URL})
	require.NoError(t, err)

	first.Body[0] = 'X'
	first.Headers.Set("X-Trace", "mutated")

	second, err := client.Execute(context.Background(), apiclient.Request{URL: server.URL})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "shared", string(second.Body))
	assert.Equal(t, "a", second.Headers.Get("X-Trace"))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	response, err := newClient().Execute(context.Background(), apiclient.Request{Method: http.MethodPost, URL: server.URL, Retries: 2})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(response.Body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newClient().Execute(context.Background(), apiclient.Request{URL: server.URL, Retries: 3})
	require.Error(t, err)

	var requestErr *apiclient.RequestError
	require.ErrorAs(t, err, &requestErr)
	assert.Equal(t, http.StatusNotFound, requestErr.StatusCode)
	assert.Equal(t, 1, requestErr.Attempts)
	assert.Equal(t, int32(1), hits.Load())

	var statusErr *apiclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.False(t, apiclient.IsTimeout(err))
}

func TestClient_TimeoutIsDistinctFromStatus(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := newClient().Execute(context.Background(), apiclient.Request{URL: server.URL, Timeout: 30 * time.Millisecond, Retries: 1})
	require.Error(t, err)
	assert.True(t, apiclient.IsTimeout(err))
	assert.Contains(t, err.Error(), "timeout")

	var statusErr *apiclient.StatusError
	assert.False(t, errors.As(err, &statusErr))

	var requestErr *apiclient.RequestError
	require.ErrorAs(t, err, &requestErr)
	assert.Equal(t, 2, requestErr.Attempts)
	assert.Positive(t, requestErr.Duration)
}

func TestClient_AuthStrategies(t *testing.T) {
	tests := []struct {
		name  string
		auth  *apiclient.Auth
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "bearer",
			auth: &apiclient.Auth{Type: apiclient.AuthBearer, Token: "tok"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			},
		},
		{
			name: "basic",
			auth: &apiclient.Auth{Type: apiclient.AuthBasic, Username: "ann", Password: "secret"},
			check: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "ann", user)
				assert.Equal(t, "secret", pass)
			},
		},
		{
			name: "api key header",
			auth: &apiclient.Auth{Type: apiclient.AuthAPIKey, Value: "k1"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k1", r.Header.Get("X-API-Key"))
			},
		},
		{
			name: "api key query",
			auth: &apiclient.Auth{Type: apiclient.AuthAPIKey, Key: "apikey", Value: "k2", InQuery: true},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k2", r.URL.Query().Get("apikey"))
			},
		},
		{
			name: "custom",
			auth: &apiclient.Auth{Type: apiclient.AuthCustom, Headers: map[string]string{"X-Signature": "abc"}},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "abc", r.Header.Get("X-Signature"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.check(t, r)
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			_, err := newClient().Execute(context.Background(), apiclient.Request{URL: server.URL, Auth: tt.auth})
			require.NoError(t, err)
		})
	}
}

func TestClient_RateLimited(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	limiter := ratelimit.New(nil, map[ratelimit.LimitType]ratelimit.Rule{
		ratelimit.APICall: {Limit: 1, Window: time.Minute},
	}, slog.Default())
	client := newClient(apiclient.WithRateLimiter(limiter))

	_, err := client.Execute(context.Background(), apiclient.Request{Method: http.MethodPost, URL: server.URL, RateLimitID: "p1"})
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), apiclient.Request{Method: http.MethodPost, URL: server.URL, RateLimitID: "p1", Retries: 3})
	require.ErrorIs(t, err, apiclient.ErrRateLimited)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_InvalidRequest(t *testing.T) {
	_, err := newClient().Execute(context.Background(), apiclient.Request{URL: "not a url"})
	require.Error(t, err)

	_, err = newClient().Execute(context.Background(), apiclient.Request{Method: "BREW", URL: "http://example.com"})
	require.Error(t, err)
}
