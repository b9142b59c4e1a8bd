// Package server exposes the ledger engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"reserveledger/core"
	"reserveledger/observability"
	"reserveledger/services/ledgerd/journal"
)

// EventLog pages through journaled receipts.
type EventLog interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress     string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxBodyBytes      int64
}

// Server hosts the ledger API, health and metrics endpoints.
type Server struct {
	cfg     Config
	engine  *core.Engine
	events  EventLog
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

// New constructs a new HTTP server. events may be nil when the journal is
// disabled.
func New(cfg Config, engine *core.Engine, events EventLog, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		events:  events,
		auth:    auth,
		limiter: limiter,
		logger:  logger.With("component", "http"),
	}, nil
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Use(s.limiter.Middleware)

		v.Get("/assets", s.handleListAssets)
		v.Get("/pool/{role}/{asset}", s.handlePool)
		v.Get("/rebalancer", s.handleRebalancerConfig)
		v.Get("/stability/deposits/{owner}", s.handleStabilityDeposit)
		v.Get("/stability/snapshot", s.handleStabilitySnapshot)
		v.Get("/staking/stakes/{owner}", s.handleStakingPosition)
		v.Get("/issuance", s.handleIssuance)
		v.Get("/balances/{token}/{holder}", s.handleBalance)
		v.Get("/events", s.handleEvents)

		v.Group(func(a chi.Router) {
			a.Use(s.auth.Middleware)
			a.Post("/assets", s.handleRegisterAsset)
			a.Post("/assets/ratios", s.handleUpdateRatios)
			a.Post("/pool/debt/increase", s.handleIncreaseDebt)
			a.Post("/pool/debt/decrease", s.handleDecreaseDebt)
			a.Post("/pool/collateral/pull", s.handlePullCollateral)
			a.Post("/pool/collateral/send", s.handleSendCollateral)
			a.Post("/pool/redistribute", s.handleRedistribute)
			a.Post("/pool/return", s.handleReturn)
			a.Post("/pool/rebalance", s.handleRebalance)
			a.Post("/stability/provide", s.handleProvide)
			a.Post("/stability/withdraw", s.handleWithdraw)
			a.Post("/stability/offset", s.handleOffset)
			a.Post("/staking/stake", s.handleStake)
			a.Post("/staking/unstake", s.handleUnstake)
			a.Post("/staking/fees/collateral", s.handleCollateralFee)
			a.Post("/staking/fees/debt", s.handleDebtFee)
			a.Post("/issuance/fund", s.handleFundIssuance)
			a.Post("/admin/yield", s.handleConfigureYield)
			a.Post("/admin/rebalancer", s.handleConfigureRebalancer)
			a.Post("/admin/splits", s.handleSetSplits)
			a.Post("/admin/issuance/period", s.handleIssuancePeriod)
			a.Post("/admin/pause", s.handlePause)
			a.Post("/bank/mint", s.handleMint)
			a.Post("/bank/approve", s.handleApprove)
			a.Post("/bank/fee", s.handleTransferFee)
			a.Post("/vault/yield", s.handleVaultYield)
			a.Post("/vault/halt", s.handleVaultHalt)
		})
	})
	return otelhttp.NewHandler(r, "ledgerd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe records request metrics labelled by the matched route.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		observability.ModuleMetrics().Observe(moduleOf(r.URL.Path), r.Method+" "+route, recorder.status, elapsed)
		s.logger.Debug("http request", "method", r.Method, "path", route, "status", recorder.status, "remote", clientID(r), "duration", elapsed)
	})
}

// moduleOf returns the first path segment below /v1.
func moduleOf(path string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(path, "/"), "v1/")
	module, _, _ := strings.Cut(trimmed, "/")
	if module == "" {
		return "root"
	}
	return module
}
