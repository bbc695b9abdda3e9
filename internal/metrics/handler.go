package metrics

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewRouter serves /metrics from gatherer and /healthz, which is healthy when
// every named check answers.
func NewRouter(gatherer prometheus.Gatherer, checks map[string]Pinger) http.Handler {
	names := slices.Sorted(maps.Keys(checks))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
		defer cancel()

		for _, name := range names {
			if err := checks[name].PingContext(ctx); err != nil {
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// NewServer wraps the router in an http.Server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, checks map[string]Pinger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(gatherer, checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
