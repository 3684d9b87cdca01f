package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Driver owns the periodic trigger. Constructing it performs no work;
// cycles only run between Start and Stop.
type Driver struct {
	orchestrator *Orchestrator
	interval     time.Duration
	logger       *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a driver that triggers a full cycle every interval.
func NewDriver(orchestrator *Orchestrator, interval time.Duration, logger *logrus.Logger) *Driver {
	return &Driver{
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger,
	}
}

// Start launches the periodic cycle loop. Calling Start on a running
// driver is a no-op.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(ctx, d.done)
	d.logger.WithField("interval", d.interval.String()).Info("Sync driver started")
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Info("Sync driver stopped")
}

// run triggers one cycle immediately, then one per tick. A slow cycle
// simply delays the next tick's work; cycles never overlap.
func (d *Driver) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	d.cycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

func (d *Driver) cycle(ctx context.Context) {
	start := time.Now()
	if err := d.orchestrator.RunCycle(ctx); err != nil && ctx.Err() == nil {
		d.logger.WithError(err).Error("Sync cycle ended early")
		return
	}
	d.logger.WithField("duration", time.Since(start).String()).Debug("Sync cycle complete")
}
