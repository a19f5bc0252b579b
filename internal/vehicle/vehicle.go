// Package vehicle defines the flight-controller link the command server
// drives, plus the shared flight state visible to all client sessions.
package vehicle

import (
	"context"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/mission"
)

// ConnectionState reports whether the autopilot is reachable over the link.
type ConnectionState struct {
	IsConnected bool
}

// Health combines the position readiness signals required before a mission
// upload can be expected to succeed.
type Health struct {
	IsGlobalPositionOK bool
	IsHomePositionOK   bool
}

// HomePosition is the vehicle's recorded takeoff/reference location.
type HomePosition struct {
	LatitudeDeg  float64
	LongitudeDeg float64
}

// Link is the flight-controller connection. Stream methods return a channel
// that delivers state reports until ctx is cancelled; the channel is closed
// when the subscription ends. Command methods block until the vehicle has
// accepted or rejected the command, honoring ctx cancellation, and return an
// error with a human-readable message on rejection.
type Link interface {
	Connect(ctx context.Context) error

	ConnectionState(ctx context.Context) <-chan ConnectionState
	Health(ctx context.Context) <-chan Health
	Home(ctx context.Context) <-chan HomePosition

	Arm(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	ClearMission(ctx context.Context) error
	UploadMission(ctx context.Context, plan mission.Plan) error
	StartMission(ctx context.Context) error
}
