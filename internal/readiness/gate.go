// Package readiness provides bounded-time waits over the vehicle link's
// asynchronous state streams.
package readiness

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle"
)

// homeEpsilon rejects the degenerate (0, 0) fix reported before the vehicle
// has a real home position.
const homeEpsilon = 0.0001

// ErrTimeout is returned when a wait exceeds its deadline. Callers
// distinguish it from link failures with errors.Is: a connection timeout at
// boot aborts the server, a health timeout is only a warning.
var ErrTimeout = errors.New("readiness wait timed out")

// Gate waits on the link's state streams until a predicate holds. Each wait
// subscribes for its own duration only; the subscription is released on both
// the success and the timeout path.
type Gate struct {
	link vehicle.Link
}

func NewGate(link vehicle.Link) *Gate {
	return &Gate{link: link}
}

// WaitConnected resolves once the link reports a connected vehicle.
func (g *Gate) WaitConnected(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	states := g.link.ConnectionState(waitCtx)
	for {
		select {
		case s, ok := <-states:
			if !ok {
				return errors.New("connection state stream closed")
			}
			if s.IsConnected {
				return nil
			}
		case <-waitCtx.Done():
			return deadlineErr(waitCtx, "waiting for vehicle connection")
		}
	}
}

// WaitHealthy resolves once both global position and home position are OK.
func (g *Gate) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	health := g.link.Health(waitCtx)
	for {
		select {
		case h, ok := <-health:
			if !ok {
				return errors.New("health stream closed")
			}
			if h.IsGlobalPositionOK && h.IsHomePositionOK {
				return nil
			}
		case <-waitCtx.Done():
			return deadlineErr(waitCtx, "waiting for vehicle health")
		}
	}
}

// WaitHome resolves with the first non-degenerate home position fix.
func (g *Gate) WaitHome(ctx context.Context, timeout time.Duration) (vehicle.HomePosition, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	home := g.link.Home(waitCtx)
	for {
		select {
		case h, ok := <-home:
			if !ok {
				return vehicle.HomePosition{}, errors.New("home position stream closed")
			}
			if abs(h.LatitudeDeg) > homeEpsilon && abs(h.LongitudeDeg) > homeEpsilon {
				return h, nil
			}
		case <-waitCtx.Done():
			return vehicle.HomePosition{}, deadlineErr(waitCtx, "waiting for home position")
		}
	}
}

func deadlineErr(ctx context.Context, what string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ErrTimeout, what)
	}
	return errors.Wrap(ctx.Err(), what)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
