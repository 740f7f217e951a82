// Package server assembles the gateway: routes, middleware chain, and the
// drain hooks main uses during shutdown.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talentwire/voicebridge/pkg/gateway/auth"
	"github.com/talentwire/voicebridge/pkg/gateway/config"
	"github.com/talentwire/voicebridge/pkg/gateway/handlers"
	"github.com/talentwire/voicebridge/pkg/gateway/lifecycle"
	"github.com/talentwire/voicebridge/pkg/gateway/live/session"
	"github.com/talentwire/voicebridge/pkg/gateway/live/sessions"
	"github.com/talentwire/voicebridge/pkg/gateway/live/upstream"
	"github.com/talentwire/voicebridge/pkg/gateway/metrics"
	"github.com/talentwire/voicebridge/pkg/gateway/mw"
	"github.com/talentwire/voicebridge/pkg/gateway/ratelimit"
	"github.com/talentwire/voicebridge/pkg/jobs"
	"github.com/talentwire/voicebridge/pkg/store"
)

// Dependencies carries the collaborators main wires in. Optional fields
// (DB, Metrics, NewUpstream) may be nil.
type Dependencies struct {
	Config  config.Config
	Logger  *slog.Logger
	Store   store.Store
	Jobs    jobs.Sink
	Tokens  *auth.TokenIssuer
	DB      handlers.Pinger
	Metrics *metrics.Metrics

	// Directory defaults to WorkOS when an API key is configured, else the
	// claims-trusting fallback.
	Directory auth.Directory

	// NewUpstream overrides the provider connection factory, for tests.
	NewUpstream handlers.UpstreamFactory
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	tokens    *auth.TokenIssuer
	lifecycle *lifecycle.Lifecycle
	tracker   *sessions.Tracker
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
}

func New(deps Dependencies) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens := deps.Tokens
	if tokens == nil {
		var err error
		tokens, err = auth.NewTokenIssuer(
			[]byte(deps.Config.ScopedTokenSecret),
			[]byte(deps.Config.UserTokenSecret),
			deps.Config.ScopedTokenTTL,
		)
		if err != nil {
			return nil, err
		}
	}

	directory := deps.Directory
	if directory == nil {
		if deps.Config.WorkOSAPIKey != "" {
			directory = auth.NewWorkOSDirectory(deps.Config.WorkOSAPIKey)
		} else {
			directory = auth.ClaimsDirectory{}
		}
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    logger,
		mux:       http.NewServeMux(),
		tokens:    tokens,
		lifecycle: &lifecycle.Lifecycle{},
		tracker:   sessions.NewTracker(),
		metrics:   deps.Metrics,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   deps.Config.RateLimitRPS,
			Burst:                 deps.Config.RateLimitBurst,
			MaxConcurrentSessions: 4,
		}),
	}

	controller := &handlers.Controller{
		Store:                  deps.Store,
		Jobs:                   deps.Jobs,
		Tokens:                 tokens,
		Metrics:                deps.Metrics,
		Logger:                 logger,
		PublicBaseURL:          deps.Config.PublicBaseURL,
		MaxDurationHintSeconds: deps.Config.MaxDurationHintSeconds,
	}

	gate := &auth.Gate{Tokens: tokens, Directory: directory, Logger: logger}

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle, DB: deps.DB})
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.Handle("/v1/interviews", handlers.CreateHandler{
		Controller: controller,
		Lifecycle:  s.lifecycle,
	})
	s.mux.Handle("/v1/interviews/live", handlers.AttachHandler{
		Controller: controller,
		Gate:       gate,
		Tracker:    s.tracker,
		Lifecycle:  s.lifecycle,
		Limiter:    s.limiter,
		Logger:     logger,
		Upstream: upstream.Config{
			URL:              deps.Config.UpstreamURL,
			Key:              deps.Config.UpstreamAPIKey,
			Model:            deps.Config.UpstreamModel,
			QueueSize:        deps.Config.UpstreamQueueSize,
			HandshakeTimeout: deps.Config.UpstreamHandshakeTimeout,
		},
		Session: session.Config{
			PingInterval:       deps.Config.WSPingInterval,
			WriteTimeout:       deps.Config.WSWriteTimeout,
			MaxSessionDuration: deps.Config.WSMaxSessionDuration,
		},
		MaxMessageBytes: deps.Config.WSMaxMessageBytes,
		NewUpstream:     deps.NewUpstream,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})

	return s, nil
}

// Handler returns the mux wrapped in the middleware chain, outermost last.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.tokens, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.Instrument(s.metrics, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Drain hooks, called by main in order: stop taking new work, warn live
// sessions, bounded wait, hard cancel.

func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) WarnLiveSessions(message string) int {
	return s.tracker.WarnAll(message)
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.tracker.CancelAll()
}

// LiveSessionCount reports currently attached sessions, for drain logging.
func (s *Server) LiveSessionCount() int {
	return s.tracker.Count()
}
