// Package shutdown implements the drain-then-exit policy: every active
// capture gets a bounded opportunity to stop cleanly before being
// force-killed. The coordinator is fed by an explicit trigger, never by
// OS signal handlers, so the policy is testable on its own.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vrcbz/dvr/internal/registry"
)

// ErrTimeout is returned when the drain window elapsed and remaining
// processes had to be force-killed; the process exits non-zero.
var ErrTimeout = errors.New("drain timeout exceeded, remaining captures force-killed")

type State int

const (
	Running State = iota
	Draining
	Terminated
)

// pollInterval is how often the coordinator checks the registry for
// emptiness while draining. Exits are observed through the same
// registry-removal path as normal completion.
const pollInterval = 50 * time.Millisecond

type Coordinator struct {
	reg     *registry.Registry
	timeout time.Duration

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func New(reg *registry.Registry, timeout time.Duration) *Coordinator {
	return &Coordinator{
		reg:     reg,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Drain moves the coordinator to Draining and gives every active
// capture the drain window to exit cooperatively. Overlapping calls do
// not restart the timer or re-issue stops: later callers block until
// the first drain finishes and share its result.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		<-c.done
		return c.err
	}
	c.state = Draining
	c.mu.Unlock()

	err := c.drain(ctx)

	c.mu.Lock()
	c.state = Terminated
	c.err = err
	c.mu.Unlock()
	close(c.done)
	return err
}

func (c *Coordinator) drain(ctx context.Context) error {
	sessions := c.reg.List()
	if len(sessions) == 0 {
		slog.InfoContext(ctx, "no active recordings, terminating immediately")
		return nil
	}

	slog.InfoContext(ctx, "stopping active recordings", "count", len(sessions))

	var g errgroup.Group
	for _, sess := range sessions {
		g.Go(func() error {
			handle := sess.Handle()
			if handle == nil {
				return nil
			}
			if err := handle.StopRequest(); err != nil {
				slog.WarnContext(ctx, "cooperative stop failed",
					"user", sess.User, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if c.reg.Len() == 0 {
				slog.InfoContext(ctx, "all recordings stopped cleanly")
				return nil
			}
		case <-timer.C:
			return c.forceKill(ctx)
		case <-ctx.Done():
			return c.forceKill(ctx)
		}
	}
}

func (c *Coordinator) forceKill(ctx context.Context) error {
	remaining := c.reg.List()
	slog.WarnContext(ctx, "drain window elapsed, force killing", "count", len(remaining))
	for _, sess := range remaining {
		handle := sess.Handle()
		if handle == nil {
			continue
		}
		if err := handle.Kill(); err != nil {
			slog.ErrorContext(ctx, "force kill failed", "user", sess.User, "error", err)
		}
	}
	return ErrTimeout
}
