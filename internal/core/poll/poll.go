// Package poll owns the vendor polling loop. It periodically rebuilds the
// normalized snapshot and publishes a snapshot_update event; host surfaces
// serve reads out of the cached snapshot rather than calling the vendor.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dcrawley/reveald/internal/core/model"
	"github.com/dcrawley/reveald/internal/core/state"
)

// DefaultInterval is how often the coordinator refreshes when no interval
// is configured.
const DefaultInterval = 5 * time.Minute

// TokenSource keeps vendor credentials fresh ahead of a poll cycle.
type TokenSource interface {
	EnsureValid(ctx context.Context) error
}

// SnapshotBuilder produces a normalized snapshot from the vendor API.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context) (*model.Snapshot, error)
}

// Coordinator runs the refresh cycle on a single background goroutine.
// On-demand refreshes requested while a cycle is running coalesce into at
// most one follow-up cycle.
type Coordinator struct {
	tokens   TokenSource
	builder  SnapshotBuilder
	bus      *state.EventBus
	interval time.Duration
	log      *slog.Logger

	mu          sync.RWMutex
	snapshot    *model.Snapshot
	lastSuccess bool
	lastError   error

	refreshC chan struct{}
	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

// New creates a coordinator. A non-positive interval falls back to
// DefaultInterval.
func New(tokens TokenSource, builder SnapshotBuilder, bus *state.EventBus, interval time.Duration, log *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		tokens:   tokens,
		builder:  builder,
		bus:      bus,
		interval: interval,
		log:      log,
		refreshC: make(chan struct{}, 1),
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Start performs one synchronous refresh so callers see a populated
// snapshot immediately, then launches the background loop. The initial
// refresh error is returned but does not prevent the loop from starting;
// later cycles may recover.
func (c *Coordinator) Start(ctx context.Context) error {
	err := c.refresh(ctx)
	go c.run(ctx)
	return err
}

// Stop terminates the background loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopC) })
	<-c.doneC
}

// Snapshot returns the most recent successful snapshot, or nil if no cycle
// has succeeded yet.
func (c *Coordinator) Snapshot() *model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastSuccess reports whether the most recent cycle succeeded, along with
// its error when it did not.
func (c *Coordinator) LastSuccess() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess, c.lastError
}

// RequestRefresh schedules an immediate refresh. If one is already
// pending the request is absorbed.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshC <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.doneC)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopC:
			return
		case <-ticker.C:
			c.cycle(ctx)
		case <-c.refreshC:
			c.cycle(ctx)
			ticker.Reset(c.interval)
		}
	}
}

func (c *Coordinator) cycle(ctx context.Context) {
	if err := c.refresh(ctx); err != nil {
		c.log.Error("poll: refresh cycle failed", "error", err)
	}
}

// refresh runs one full cycle: token check, snapshot rebuild, publish.
// On failure the previous snapshot stays in place.
func (c *Coordinator) refresh(ctx context.Context) error {
	start := time.Now()

	if err := c.tokens.EnsureValid(ctx); err != nil {
		c.recordFailure(err)
		return err
	}

	snap, err := c.builder.BuildSnapshot(ctx)
	if err != nil {
		c.recordFailure(err)
		return err
	}

	c.mu.Lock()
	c.snapshot = snap
	c.lastSuccess = true
	c.lastError = nil
	c.mu.Unlock()

	c.log.Info("poll: snapshot refreshed", "cameras", len(snap.Cameras), "photos", len(snap.RecentPhotos), "duration", time.Since(start))
	c.bus.Publish(state.Event{Type: state.EventSnapshotUpdate, Data: snap})
	return nil
}

func (c *Coordinator) recordFailure(err error) {
	c.mu.Lock()
	c.lastSuccess = false
	c.lastError = err
	c.mu.Unlock()

	c.bus.Publish(state.Event{Type: state.EventRefreshFailed, Data: err.Error()})
}
