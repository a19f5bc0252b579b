package command

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/mission"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/readiness"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/telemetry"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle"
)

// Timings holds the settle pauses and per-command deadlines. The settle
// pauses give the link time to propagate state internally before the next
// dependent call; they are scheduling hints, not timeouts.
type Timings struct {
	ArmSettle    time.Duration
	ClearSettle  time.Duration
	UploadSettle time.Duration
	HomeFetch    time.Duration
	StatusRead   time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ArmSettle:    time.Second,
		ClearSettle:  300 * time.Millisecond,
		UploadSettle: 500 * time.Millisecond,
		HomeFetch:    10 * time.Second,
		StatusRead:   2 * time.Second,
	}
}

// Result is the outcome of one command: the reply line for the client and
// whether the session should close.
type Result struct {
	Reply        string
	CloseSession bool
}

// Handler validates commands against the shared flight state and executes
// them against the link. All link-mutating commands are serialized behind one
// mutex scoped to the link, so concurrent sessions cannot interleave
// arm/takeoff sequences.
type Handler struct {
	link    vehicle.Link
	gate    *readiness.Gate
	state   *vehicle.FlightState
	patrol  mission.Params
	events  *telemetry.Publisher
	timings Timings

	linkMu sync.Mutex
}

func NewHandler(link vehicle.Link, state *vehicle.FlightState, patrol mission.Params, events *telemetry.Publisher, timings Timings) *Handler {
	return &Handler{
		link:    link,
		gate:    readiness.NewGate(link),
		state:   state,
		patrol:  patrol,
		events:  events,
		timings: timings,
	}
}

// Handle executes one command. Failures never corrupt the flight state:
// flying is flipped only after the triggering link call has been accepted.
func (h *Handler) Handle(ctx context.Context, kind Kind) Result {
	switch kind {
	case Takeoff:
		return h.takeoff(ctx)
	case Mission:
		return h.mission(ctx)
	case Land:
		return h.land(ctx)
	case Status:
		return h.status(ctx)
	case Stop:
		return Result{Reply: "OK stop", CloseSession: true}
	}
	return Result{Reply: "IGNORED"}
}

func (h *Handler) takeoff(ctx context.Context) Result {
	h.linkMu.Lock()
	defer h.linkMu.Unlock()

	if err := h.link.Arm(ctx); err != nil {
		return errResult(err)
	}
	h.settle(ctx, h.timings.ArmSettle)
	if err := h.link.Takeoff(ctx); err != nil {
		return errResult(err)
	}

	h.state.SetFlying(true)
	h.events.Publish("takeoff", "vehicle airborne")
	return Result{Reply: "OK takeoff"}
}

func (h *Handler) mission(ctx context.Context) Result {
	// admission check before any link call
	if !h.state.Flying() {
		return Result{Reply: "ERR not flying"}
	}

	h.linkMu.Lock()
	defer h.linkMu.Unlock()

	// a stale home position must never be reused, fetch fresh per mission
	home, err := h.gate.WaitHome(ctx, h.timings.HomeFetch)
	if err != nil {
		return errResult(err)
	}

	plan := mission.BuildPatrol(home.LatitudeDeg, home.LongitudeDeg, h.patrol)

	// best-effort: clearing a nonexistent mission fails harmlessly and must
	// not block the new upload
	if err := h.link.ClearMission(ctx); err != nil {
		log.Printf("mission clear before upload failed (continuing): %v", err)
	} else {
		h.settle(ctx, h.timings.ClearSettle)
	}

	if err := h.link.UploadMission(ctx, plan); err != nil {
		return errResult(err)
	}
	h.settle(ctx, h.timings.UploadSettle)
	if err := h.link.StartMission(ctx); err != nil {
		return errResult(err)
	}

	h.events.Publish("mission", fmt.Sprintf("patrol started around %.6f,%.6f", home.LatitudeDeg, home.LongitudeDeg))
	return Result{Reply: "OK mission started"}
}

func (h *Handler) land(ctx context.Context) Result {
	h.linkMu.Lock()
	defer h.linkMu.Unlock()

	if err := h.link.Land(ctx); err != nil {
		return errResult(err)
	}

	h.state.SetFlying(false)
	h.events.Publish("land", "vehicle landing")
	return Result{Reply: "OK land"}
}

func (h *Handler) status(ctx context.Context) Result {
	connected, err := h.currentConnection(ctx)
	if err != nil {
		return errResult(err)
	}

	h.state.SetConnected(connected)
	return Result{Reply: fmt.Sprintf("OK connected=%t flying=%t", connected, h.state.Flying())}
}

// currentConnection reads the first report from the connection state stream.
func (h *Handler) currentConnection(ctx context.Context) (bool, error) {
	readCtx, cancel := context.WithTimeout(ctx, h.timings.StatusRead)
	defer cancel()

	select {
	case s, ok := <-h.link.ConnectionState(readCtx):
		if !ok {
			return false, errors.New("connection state stream closed")
		}
		return s.IsConnected, nil
	case <-readCtx.Done():
		return false, errors.New("no connection report from vehicle")
	}
}

func (h *Handler) settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func errResult(err error) Result {
	return Result{Reply: "ERR " + err.Error()}
}
