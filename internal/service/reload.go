package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/refdata"
)

// LoadFunc builds a fresh dataset generation.
type LoadFunc func(ctx context.Context) (*refdata.Dataset, error)

// Reloader loads reference data and installs it into a Service. Reloads are
// serialized; a failed reload keeps the current generation.
type Reloader struct {
	svc   *Service
	load  LoadFunc
	clock clockwork.Clock
	mu    sync.Mutex
}

// NewReloader returns a Reloader for svc.
func NewReloader(svc *Service, load LoadFunc, clock clockwork.Clock) *Reloader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reloader{svc: svc, load: load, clock: clock}
}

// Reload loads a new generation and swaps it in.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.clock.Now()
	ds, err := r.load(ctx)
	if err != nil {
		r.outcome("error")
		return eris.Wrap(err, "service: reload")
	}
	prev := r.svc.Swap(ds)
	r.outcome("success")

	fields := []zap.Field{
		zap.String("generation", ds.Generation),
		zap.Duration("elapsed", r.clock.Since(start)),
	}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.Generation))
	}
	r.svc.log.Info("service: reference data reloaded", fields...)
	return nil
}

func (r *Reloader) outcome(o string) {
	if r.svc.metrics != nil {
		r.svc.metrics.DatasetLoads.WithLabelValues(o).Inc()
	}
}

// Run reloads on every trigger and, when interval is positive, on a timer.
// It blocks until ctx is cancelled. Reload errors are logged.
func (r *Reloader) Run(ctx context.Context, interval time.Duration, trigger <-chan struct{}) {
	log := r.svc.log.With(zap.String("component", "service.reloader"))

	var tick <-chan time.Time
	if interval > 0 {
		ticker := r.clock.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		case <-tick:
		}
		if err := r.Reload(ctx); err != nil {
			log.Error("service: reload failed, keeping current data", zap.Error(err))
		}
	}
}
