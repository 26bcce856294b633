// Package adminapi exposes the core server's HTTP control surface: crawl
// and test-suite triggers, and pool/runner/resource stats, behind the
// same middleware chain the remote-browser admin server used.
package adminapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/crawler"
	"github.com/Zeeeepa/browserqa/internal/metrics"
	"github.com/Zeeeepa/browserqa/internal/middleware"
	"github.com/Zeeeepa/browserqa/internal/pool"
	"github.com/Zeeeepa/browserqa/internal/resource"
	"github.com/Zeeeepa/browserqa/internal/runner"
	"github.com/Zeeeepa/browserqa/internal/transport"
)

// Deps bundles the components the admin API fronts.
type Deps struct {
	Config    *config.Config
	Pool      *pool.Pool
	Runner    *runner.Runner
	Crawler   *crawler.Crawler
	Monitor   *resource.Monitor
	Transport *transport.Transport
}

// Server is the admin HTTP server plus whatever middleware it owns the
// lifecycle of (currently, only the rate limiter needs an explicit
// Close on shutdown).
type Server struct {
	Handler     http.Handler
	rateLimiter *middleware.RateLimiterMiddleware
}

// Close releases resources owned by the middleware chain. Safe to call
// even if rate limiting was never enabled.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
}

// NewServer builds the admin API's handler, applying the same
// middleware ordering as the remote-browser admin server (middlewares
// are applied innermost-first, so the last one applied runs first):
// CORS and security headers sit closest to the mux, then API key auth,
// then rate limiting, then logging, with Recovery and the request
// Timeout as the two outermost layers wrapping everything else. Rate
// limiting therefore runs before API key auth, so every request,
// authenticated or not, counts against its client's limit.
func NewServer(deps Deps) *Server {
	mux := http.NewServeMux()
	h := &handlers{deps: deps}

	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /stats/pool", h.poolStats)
	mux.HandleFunc("GET /stats/resource", h.resourceStats)
	mux.HandleFunc("POST /crawl", h.runCrawl)
	mux.HandleFunc("POST /tests/run", h.runTests)

	var finalHandler http.Handler = mux
	finalHandler = middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.Config.CORSAllowedOrigins})(finalHandler)
	finalHandler = middleware.SecurityHeaders(finalHandler)

	if deps.Config.APIKeyEnabled {
		log.Info().Msg("adminapi: API key authentication enabled")
		finalHandler = middleware.APIKey(deps.Config)(finalHandler)
	}

	srv := &Server{}
	if deps.Config.RateLimitEnabled {
		log.Info().Int("requests_per_minute", deps.Config.RateLimitRPM).Bool("trust_proxy", deps.Config.TrustProxy).
			Msg("adminapi: rate limiting enabled")
		srv.rateLimiter = middleware.NewRateLimitMiddleware(deps.Config.RateLimitRPM, deps.Config.TrustProxy)
		finalHandler = srv.rateLimiter.Handler()(finalHandler)
	}

	finalHandler = middleware.Logging(finalHandler)
	finalHandler = middleware.Recovery(finalHandler)
	finalHandler = middleware.Timeout(deps.Config.RequestTimeout)(finalHandler)

	srv.Handler = finalHandler
	return srv
}
