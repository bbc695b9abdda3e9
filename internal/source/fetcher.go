// Package source holds the HTTP plumbing shared by the upstream catalog
// clients in its subpackages.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"catalog_syncer/internal/retry"
)

// MaxPageSize caps the page size requested from any upstream.
const MaxPageSize = 100

const userAgent = "CatalogSyncer/1.0"

// Config holds the settings of one upstream catalog.
type Config struct {
	BaseURL         string
	PageSize        int
	Timeout         time.Duration
	RequestInterval time.Duration
	Retry           retry.Policy
}

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// ClampPageSize applies the default and the MaxPageSize cap.
func ClampPageSize(n, def int) int {
	if n <= 0 {
		n = def
	}
	if n > MaxPageSize {
		n = MaxPageSize
	}
	return n
}

// Fetcher performs paced, retried GET requests. One Fetcher is shared by all
// workers of a source, so the pacing is global for that upstream.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *slog.Logger
}

func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	policy := cfg.Retry
	policy.Retryable = isTransient

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		policy:  policy,
		logger:  logger,
	}
}

// GetJSON fetches url and decodes the JSON body into out.
func (f *Fetcher) GetJSON(ctx context.Context, url string, out any) error {
	return f.do(ctx, url, "application/json", func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

// GetText fetches url and returns the raw body.
func (f *Fetcher) GetText(ctx context.Context, url string) (string, error) {
	var text string
	err := f.do(ctx, url, "text/plain", func(body io.Reader) error {
		b, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		text = string(b)
		return nil
	})
	return text, err
}

func (f *Fetcher) do(ctx context.Context, url, accept string, read func(io.Reader) error) error {
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		return f.doRequest(ctx, url, accept, read)
	}, func(attempt int, wait time.Duration, err error) {
		f.logger.Warn("request failed, retrying",
			"url", url,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	return nil
}

func (f *Fetcher) doRequest(ctx context.Context, url, accept string, read func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	return read(resp.Body)
}

// isTransient is the retry allowlist: status errors and transport failures.
// A cancelled context is never retried.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	return !retry.IsPermanent(err)
}
