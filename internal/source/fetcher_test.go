package source

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_syncer/internal/retry"
)

func testFetcher() *Fetcher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewFetcher(Config{
		Timeout: 5 * time.Second,
		Retry:   retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}, logger)
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"value": 7}`))
	}))
	defer srv.Close()

	var out struct {
		Value int `json:"value"`
	}
	err := testFetcher().GetJSON(context.Background(), srv.URL, &out)

	require.NoError(t, err)
	assert.Equal(t, 7, out.Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_ReturnsStatusErrorAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var out map[string]any
	err := testFetcher().GetJSON(context.Background(), srv.URL, &out)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_DecodeErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := testFetcher().GetJSON(context.Background(), srv.URL, &out)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcher_GetText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("a\nb\n"))
	}))
	defer srv.Close()

	text, err := testFetcher().GetText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", text)
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, 20, ClampPageSize(0, 20))
	assert.Equal(t, 50, ClampPageSize(50, 20))
	assert.Equal(t, MaxPageSize, ClampPageSize(1000, 20))
}
