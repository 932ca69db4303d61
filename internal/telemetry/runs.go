package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// RunsRecorded counts run records by outcome.
// Labels: result (written, dropped, failed)
var RunsRecorded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "runs",
		Name:      "recorded_total",
		Help:      "Total number of chat runs handed to the run recorder",
	},
	[]string{"result"},
)

// RunRecorder writes one JSON file per chat turn under
// <dir>/session_<id>/<response_id>.json. Writes happen on a bounded worker
// pool. When every worker is busy the run is dropped, so Record never
// blocks a turn.
type RunRecorder struct {
	dir    string
	pool   *ants.Pool
	logger *logging.Logger
	wg     sync.WaitGroup
}

// NewRunRecorder creates the runs directory and the worker pool. A disabled
// config yields a recorder whose Record does nothing.
func NewRunRecorder(cfg config.RunsConfig, logger *logging.Logger) (*RunRecorder, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &RunRecorder{dir: cfg.Dir, logger: logger.Named("runs")}
	if !cfg.Enabled {
		return r, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("runs dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating runs dir: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			RunsRecorded.WithLabelValues("failed").Inc()
			r.logger.Error(context.Background(), "run writer panicked", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating run writer pool: %w", err)
	}
	r.pool = pool
	return r, nil
}

// Record implements chat.RunRecorder.
func (r *RunRecorder) Record(ctx context.Context, run chat.Run) {
	if r == nil || r.pool == nil {
		return
	}
	// The write outlives the request.
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	err := r.pool.Submit(func() {
		defer r.wg.Done()
		if err := r.write(run); err != nil {
			RunsRecorded.WithLabelValues("failed").Inc()
			r.logger.Warn(ctx, "writing run record failed",
				zap.String("response_id", run.ResponseID),
				zap.Error(err))
			return
		}
		RunsRecorded.WithLabelValues("written").Inc()
	})
	if err != nil {
		r.wg.Done()
		RunsRecorded.WithLabelValues("dropped").Inc()
		r.logger.Warn(ctx, "run record dropped",
			zap.String("response_id", run.ResponseID),
			zap.Error(err))
	}
}

// Path returns where the record for run is written.
func (r *RunRecorder) Path(run chat.Run) string {
	return filepath.Join(r.dir, "session_"+strconv.FormatInt(run.SessionID, 10), run.ResponseID+".json")
}

func (r *RunRecorder) write(run chat.Run) error {
	target := r.Path(run)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	body, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".run-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// Close waits for pending writes, up to ctx, then releases the pool.
func (r *RunRecorder) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	defer r.pool.Release()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for run writes: %w", ctx.Err())
	}
}

var _ chat.RunRecorder = (*RunRecorder)(nil)
