// Package sim is an in-process vehicle link for development without a
// flight controller and for server tests. It enforces the ordering rules a
// real autopilot would: arm before takeoff, upload before mission start.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/mission"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle"
)

const (
	// PX4 SITL default home
	defaultHomeLat = 47.397742
	defaultHomeLon = 8.545594

	streamInterval = 100 * time.Millisecond
)

// Link simulates a connected vehicle. State reports are generated from the
// current state every streamInterval.
type Link struct {
	homeLat float64
	homeLon float64

	mu        sync.Mutex
	connected bool
	armed     bool
	flying    bool
	plan      *mission.Plan
	missionOn bool
}

func New() *Link {
	return &Link{homeLat: defaultHomeLat, homeLon: defaultHomeLon}
}

// NewAt places the simulated home at the given coordinates.
func NewAt(latDeg, lonDeg float64) *Link {
	return &Link{homeLat: latDeg, homeLon: lonDeg}
}

func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

func (l *Link) ConnectionState(ctx context.Context) <-chan vehicle.ConnectionState {
	return stream(ctx, func() vehicle.ConnectionState {
		l.mu.Lock()
		defer l.mu.Unlock()
		return vehicle.ConnectionState{IsConnected: l.connected}
	})
}

func (l *Link) Health(ctx context.Context) <-chan vehicle.Health {
	return stream(ctx, func() vehicle.Health {
		l.mu.Lock()
		defer l.mu.Unlock()
		return vehicle.Health{IsGlobalPositionOK: l.connected, IsHomePositionOK: l.connected}
	})
}

// Home reports the degenerate (0, 0) fix until the vehicle is connected,
// like an autopilot without a position estimate.
func (l *Link) Home(ctx context.Context) <-chan vehicle.HomePosition {
	return stream(ctx, func() vehicle.HomePosition {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.connected {
			return vehicle.HomePosition{}
		}
		return vehicle.HomePosition{LatitudeDeg: l.homeLat, LongitudeDeg: l.homeLon}
	})
}

func (l *Link) Arm(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return errors.New("arming rejected: vehicle not connected")
	}
	l.armed = true
	return nil
}

func (l *Link) Takeoff(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.armed {
		return errors.New("takeoff rejected: vehicle not armed")
	}
	l.flying = true
	return nil
}

func (l *Link) Land(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return errors.New("land rejected: vehicle not connected")
	}
	l.flying = false
	l.missionOn = false
	l.armed = false // autopilots disarm after landing
	return nil
}

func (l *Link) ClearMission(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.plan == nil {
		return errors.New("no mission to clear")
	}
	l.plan = nil
	l.missionOn = false
	return nil
}

func (l *Link) UploadMission(ctx context.Context, plan mission.Plan) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(plan.Items) == 0 {
		return errors.New("mission upload rejected: empty plan")
	}
	p := plan
	l.plan = &p
	return nil
}

func (l *Link) StartMission(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.plan == nil {
		return errors.New("mission start rejected: no mission uploaded")
	}
	if !l.flying {
		return errors.New("mission start rejected: vehicle not flying")
	}
	l.missionOn = true
	return nil
}

// Armed reports the simulated arming state, for tests.
func (l *Link) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armed
}

// MissionActive reports whether an uploaded mission is running, for tests.
func (l *Link) MissionActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.missionOn
}

// CurrentPlan returns the uploaded plan, or nil, for tests.
func (l *Link) CurrentPlan() *mission.Plan {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.plan == nil {
		return nil
	}
	p := *l.plan
	return &p
}

// stream emits snapshots until ctx is cancelled, then closes the channel.
func stream[T any](ctx context.Context, snapshot func() T) <-chan T {
	ch := make(chan T, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()
		for {
			select {
			case ch <- snapshot():
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
