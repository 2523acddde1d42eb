// Package server exposes the pool and relayer clients over a small HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"poolbridge/internal/config"
	"poolbridge/internal/hmacauth"
	"poolbridge/internal/jobstore"
	"poolbridge/internal/relayer"
	"poolbridge/internal/telemetry"
	"poolbridge/internal/watcher"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PoolReader is the read side of pool.Client the API serves.
type PoolReader interface {
	CurrentRoot(ctx context.Context) (*uint256.Int, fr.Element, error)
	NullifierExists(ctx context.Context, nullifier fr.Element) (bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Relayer is the part of relayer.Client the API forwards to.
type Relayer interface {
	Info(ctx context.Context) (relayer.Info, error)
	Fee(ctx context.Context) (uint64, error)
	SendTransactions(ctx context.Context, batch []relayer.TransactionRequest) (string, error)
	Job(ctx context.Context, id string) (relayer.Job, error)
}

type Deps struct {
	Pool      PoolReader
	Relayer   Relayer
	Store     jobstore.Store
	Telemetry *telemetry.Telemetry
	// Watcher, when set, follows every accepted job in the background.
	Watcher *watcher.Watcher
}

type Server struct {
	cfg        *config.AppConfig
	pool       PoolReader
	relayer    Relayer
	store      jobstore.Store
	watcher    *watcher.Watcher
	tel        *telemetry.Telemetry
	logger     *slog.Logger
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	dbHealthFn func(context.Context) error
	now        func() time.Time

	// background watches stop when the server shuts down
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		pool:    deps.Pool,
		relayer: deps.Relayer,
		store:   deps.Store,
		watcher: deps.Watcher,
		tel:     tel,
		logger:  tel.Logger.With("component", "server"),
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew(),
		},
		now:      time.Now,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /api/v1/metrics", tel.MetricsHandler())
	mux.HandleFunc("GET /api/v1/pool/root", s.handleRoot)
	mux.HandleFunc("GET /api/v1/pool/nullifiers/{nullifier}", s.handleNullifier)
	mux.HandleFunc("GET /api/v1/relayer/fee", s.handleFee)
	mux.Handle("POST /api/v1/transactions", s.hmac.Middleware(http.HandlerFunc(s.handleTransactions)))
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJob)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and cancels background job watches.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.bgCancel()
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request served",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
