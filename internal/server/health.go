package server

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 2 * time.Second

type dependencyHealth struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type healthResponse struct {
	Status      string           `json:"status"`
	RPC         dependencyHealth `json:"rpc"`
	BlockNumber uint64           `json:"block_number,omitempty"`
	Relayer     dependencyHealth `json:"relayer"`
	Database    dependencyHealth `json:"database"`
	PendingJobs int              `json:"pending_jobs"`
}

// check runs fn under the health timeout and reports its outcome.
func check(ctx context.Context, fn func(context.Context) error) dependencyHealth {
	if fn == nil {
		return dependencyHealth{Connected: true}
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		return dependencyHealth{Error: err.Error()}
	}
	return dependencyHealth{
		Connected: true,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp healthResponse

	var g errgroup.Group
	g.Go(func() error {
		resp.RPC = check(ctx, func(ctx context.Context) error {
			n, err := s.pool.BlockNumber(ctx)
			resp.BlockNumber = n
			return err
		})
		return nil
	})
	g.Go(func() error {
		resp.Relayer = check(ctx, func(ctx context.Context) error {
			_, err := s.relayer.Info(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		resp.Database = check(ctx, s.dbHealthFn)
		return nil
	})
	_ = g.Wait()

	if pending, err := s.store.Pending(ctx); err == nil {
		resp.PendingJobs = len(pending)
		s.tel.SetPendingJobs(len(pending))
	}

	healthy := resp.RPC.Connected && resp.Relayer.Connected && resp.Database.Connected
	resp.Status = "healthy"
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
