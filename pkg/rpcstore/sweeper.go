package rpcstore

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Sweeper removes expired entries on a cron schedule, independent of offload
// traffic.
type Sweeper struct {
	store    *Store
	schedule string
	logger   Logger
}

// NewSweeper validates schedule (five-field cron syntax).
func NewSweeper(store *Store, schedule string, logger Logger) (*Sweeper, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	return &Sweeper{store: store, schedule: schedule, logger: logger}, nil
}

// Run sweeps at every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(w.schedule, w.store.Now(), false)
		if err != nil {
			return fmt.Errorf("next sweep: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		removed, err := w.store.SweepExpired(ctx, w.store.Now())
		if err != nil {
			w.logf("sweep failed: %v", err)
			continue
		}
		if removed > 0 {
			w.logf("swept %d expired rpc payloads", removed)
		}
	}
}

func (w *Sweeper) logf(format string, v ...any) {
	if w.logger != nil {
		w.logger.Printf(format, v...)
	}
}
