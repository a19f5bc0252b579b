// Package mavlink implements the vehicle link over MAVLink, speaking to a
// PX4-style autopilot through gomavlib.
package mavlink

import (
	"context"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/pkg/errors"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/mission"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle"
)

const (
	// our own system id, out of the autopilot range
	systemID = 245

	autopilotComponent = 1 // MAV_COMP_ID_AUTOPILOT1

	homePositionMessageID = 242

	defaultSerialBaud = 57600
)

// target identifies the autopilot once its first heartbeat has been seen.
type target struct {
	channel *gomavlib.Channel
	system  byte
}

// Link drives an autopilot over MAVLink. Create with New, then Connect once;
// the internal event loop runs until the Connect context is cancelled.
//
// Command methods must not be called concurrently with each other; the
// command handler serializes them.
type Link struct {
	address string
	node    *gomavlib.Node

	connection *fanout[vehicle.ConnectionState]
	health     *fanout[vehicle.Health]
	home       *fanout[vehicle.HomePosition]

	acks        chan *common.MessageCommandAck
	missionReqs chan int
	missionAcks chan common.MAV_MISSION_RESULT

	mu         sync.Mutex
	target     *target
	gpsHealthy bool
	homeSeen   bool
}

func New(address string) *Link {
	return &Link{
		address:     address,
		connection:  newFanout[vehicle.ConnectionState](true),
		health:      newFanout[vehicle.Health](true),
		home:        newFanout[vehicle.HomePosition](false),
		acks:        make(chan *common.MessageCommandAck, 8),
		missionReqs: make(chan int, 8),
		missionAcks: make(chan common.MAV_MISSION_RESULT, 8),
	}
}

// Connect opens the MAVLink endpoint and starts the event loop. The vehicle
// is not necessarily reachable yet; readiness is observed through the
// connection state stream.
func (l *Link) Connect(ctx context.Context) error {
	endpoint, err := parseEndpoint(l.address)
	if err != nil {
		return err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:       []gomavlib.EndpointConf{endpoint},
		Dialect:         common.Dialect,
		OutVersion:      gomavlib.V2,
		OutSystemID:     systemID,
		HeartbeatPeriod: time.Second,
	})
	if err != nil {
		return errors.Wrapf(err, "opening MAVLink endpoint %s", l.address)
	}
	l.node = node

	go l.runEventLoop(ctx)
	return nil
}

func (l *Link) runEventLoop(ctx context.Context) {
	defer l.node.Close()

	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			l.handleEvent(evt)
		}
	}
}

func (l *Link) handleEvent(evt gomavlib.Event) {
	switch e := evt.(type) {
	case *gomavlib.EventChannelClose:
		l.mu.Lock()
		lost := l.target != nil && l.target.channel == e.Channel
		if lost {
			l.target = nil
		}
		l.mu.Unlock()
		if lost {
			log.Printf("vehicle channel closed")
			l.connection.publish(vehicle.ConnectionState{})
		}
	case *gomavlib.EventFrame:
		l.handleFrame(e)
	}
}

func (l *Link) handleFrame(e *gomavlib.EventFrame) {
	switch m := e.Message().(type) {
	case *common.MessageHeartbeat:
		if m.Type == common.MAV_TYPE_GCS {
			return
		}
		l.mu.Lock()
		first := l.target == nil
		l.target = &target{channel: e.Channel, system: e.SystemID()}
		l.mu.Unlock()
		if first {
			log.Printf("vehicle heartbeat from system %d", e.SystemID())
		}
		l.connection.publish(vehicle.ConnectionState{IsConnected: true})

	case *common.MessageSysStatus:
		gps := m.OnboardControlSensorsHealth&common.MAV_SYS_STATUS_SENSOR_GPS != 0
		l.mu.Lock()
		l.gpsHealthy = gps
		homeSeen := l.homeSeen
		l.mu.Unlock()
		l.health.publish(vehicle.Health{IsGlobalPositionOK: gps, IsHomePositionOK: homeSeen})

	case *common.MessageHomePosition:
		l.mu.Lock()
		l.homeSeen = true
		gps := l.gpsHealthy
		l.mu.Unlock()
		l.home.publish(vehicle.HomePosition{
			LatitudeDeg:  float64(m.Latitude) / 1e7,
			LongitudeDeg: float64(m.Longitude) / 1e7,
		})
		l.health.publish(vehicle.Health{IsGlobalPositionOK: gps, IsHomePositionOK: true})

	case *common.MessageCommandAck:
		select {
		case l.acks <- m:
		default:
		}

	case *common.MessageMissionRequestInt:
		select {
		case l.missionReqs <- int(m.Seq):
		default:
		}

	case *common.MessageMissionRequest:
		// older autopilots request items with the non-INT variant
		select {
		case l.missionReqs <- int(m.Seq):
		default:
		}

	case *common.MessageMissionAck:
		select {
		case l.missionAcks <- m.Type:
		default:
		}
	}
}

func (l *Link) ConnectionState(ctx context.Context) <-chan vehicle.ConnectionState {
	return l.connection.subscribe(ctx)
}

func (l *Link) Health(ctx context.Context) <-chan vehicle.Health {
	return l.health.subscribe(ctx)
}

// Home subscribes to home position fixes and nudges the autopilot to send
// one, so every mission build gets a fresh fix instead of a cached
// broadcast.
func (l *Link) Home(ctx context.Context) <-chan vehicle.HomePosition {
	ch := l.home.subscribe(ctx)
	if t, err := l.vehicleTarget(); err == nil {
		msg := &common.MessageCommandLong{
			TargetSystem:    t.system,
			TargetComponent: autopilotComponent,
			Command:         common.MAV_CMD_REQUEST_MESSAGE,
			Param1:          homePositionMessageID,
		}
		if err := l.node.WriteMessageTo(t.channel, msg); err != nil {
			log.Printf("requesting home position: %v", err)
		}
	}
	return ch
}

func (l *Link) Arm(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
}

func (l *Link) Takeoff(ctx context.Context) error {
	// NaN altitude lets the autopilot use its configured takeoff altitude
	nan := float32(math.NaN())
	return l.command(ctx, common.MAV_CMD_NAV_TAKEOFF, nan, 0, 0, nan, nan, nan, nan)
}

func (l *Link) Land(ctx context.Context) error {
	nan := float32(math.NaN())
	return l.command(ctx, common.MAV_CMD_NAV_LAND, 0, 0, 0, nan, nan, nan, nan)
}

func (l *Link) StartMission(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_MISSION_START)
}

func (l *Link) ClearMission(ctx context.Context) error {
	t, err := l.vehicleTarget()
	if err != nil {
		return err
	}

	l.drainMissionReplies()
	msg := &common.MessageMissionClearAll{
		TargetSystem:    t.system,
		TargetComponent: autopilotComponent,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
	if err := l.node.WriteMessageTo(t.channel, msg); err != nil {
		return errors.Wrap(err, "sending mission clear")
	}
	return l.awaitMissionAck(ctx, "mission clear")
}

// UploadMission runs the MAVLink mission transfer: announce the item count,
// answer each item request, finish on the mission ack.
func (l *Link) UploadMission(ctx context.Context, plan mission.Plan) error {
	t, err := l.vehicleTarget()
	if err != nil {
		return err
	}

	items := missionItems(t.system, plan)
	l.drainMissionReplies()

	count := &common.MessageMissionCount{
		TargetSystem:    t.system,
		TargetComponent: autopilotComponent,
		Count:           uint16(len(items)),
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
	if err := l.node.WriteMessageTo(t.channel, count); err != nil {
		return errors.Wrap(err, "sending mission count")
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "mission upload interrupted")
		case seq := <-l.missionReqs:
			if seq < 0 || seq >= len(items) {
				return errors.Errorf("vehicle requested mission item %d of %d", seq, len(items))
			}
			if err := l.node.WriteMessageTo(t.channel, items[seq]); err != nil {
				return errors.Wrapf(err, "sending mission item %d", seq)
			}
		case res := <-l.missionAcks:
			if res != common.MAV_MISSION_ACCEPTED {
				return errors.Errorf("mission upload rejected: %v", res)
			}
			return nil
		}
	}
}

// command sends a COMMAND_LONG and waits for its ack.
func (l *Link) command(ctx context.Context, cmd common.MAV_CMD, params ...float32) error {
	t, err := l.vehicleTarget()
	if err != nil {
		return err
	}

	l.drainCommandAcks()
	var p [7]float32
	copy(p[:], params)
	msg := &common.MessageCommandLong{
		TargetSystem:    t.system,
		TargetComponent: autopilotComponent,
		Command:         cmd,
		Param1:          p[0],
		Param2:          p[1],
		Param3:          p[2],
		Param4:          p[3],
		Param5:          p[4],
		Param6:          p[5],
		Param7:          p[6],
	}
	if err := l.node.WriteMessageTo(t.channel, msg); err != nil {
		return errors.Wrapf(err, "sending %v", cmd)
	}
	return l.awaitCommandAck(ctx, cmd)
}

func (l *Link) awaitCommandAck(ctx context.Context, cmd common.MAV_CMD) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %v ack", cmd)
		case ack := <-l.acks:
			if ack.Command != cmd {
				continue
			}
			switch ack.Result {
			case common.MAV_RESULT_ACCEPTED:
				return nil
			case common.MAV_RESULT_IN_PROGRESS:
				// final ack still coming
			default:
				return errors.Errorf("%v rejected: %v", cmd, ack.Result)
			}
		}
	}
}

func (l *Link) awaitMissionAck(ctx context.Context, what string) error {
	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for %s ack", what)
	case res := <-l.missionAcks:
		if res != common.MAV_MISSION_ACCEPTED {
			return errors.Errorf("%s rejected: %v", what, res)
		}
		return nil
	}
}

// drainCommandAcks discards acks left over from fire-and-forget sends such
// as the home position request, so they cannot satisfy a later command.
func (l *Link) drainCommandAcks() {
	for {
		select {
		case <-l.acks:
		default:
			return
		}
	}
}

// drainMissionReplies discards replies left over from an aborted transfer.
func (l *Link) drainMissionReplies() {
	for {
		select {
		case <-l.missionReqs:
		case <-l.missionAcks:
		default:
			return
		}
	}
}

func (l *Link) vehicleTarget() (target, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.target == nil {
		return target{}, errors.New("vehicle link not connected")
	}
	return *l.target, nil
}

// missionItems encodes the plan for transfer: a speed change first, then the
// waypoints in order.
func missionItems(system byte, plan mission.Plan) []*common.MessageMissionItemInt {
	items := make([]*common.MessageMissionItemInt, 0, len(plan.Items)+1)
	if len(plan.Items) == 0 {
		return items
	}

	items = append(items, &common.MessageMissionItemInt{
		TargetSystem:    system,
		TargetComponent: autopilotComponent,
		Seq:             0,
		Frame:           common.MAV_FRAME_MISSION,
		Command:         common.MAV_CMD_DO_CHANGE_SPEED,
		Autocontinue:    1,
		Param1:          1, // ground speed
		Param2:          float32(plan.Items[0].SpeedMps),
		Param3:          -1, // throttle unchanged
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	})

	for i, wp := range plan.Items {
		var hold float32
		if !wp.FlyThrough {
			hold = 1
		}
		items = append(items, &common.MessageMissionItemInt{
			TargetSystem:    system,
			TargetComponent: autopilotComponent,
			Seq:             uint16(i + 1),
			Frame:           common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
			Command:         common.MAV_CMD_NAV_WAYPOINT,
			Autocontinue:    1,
			Param1:          hold,
			Param2:          1, // acceptance radius, meters
			Param4:          float32(math.NaN()),
			X:               int32(math.Round(wp.LatitudeDeg * 1e7)),
			Y:               int32(math.Round(wp.LongitudeDeg * 1e7)),
			Z:               float32(wp.AltitudeM),
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		})
	}

	return items
}

// parseEndpoint maps MAVSDK-style addresses (udp://:14540, tcp://host:port,
// serial:///dev/ttyUSB0:57600) onto gomavlib endpoint configurations.
func parseEndpoint(address string) (gomavlib.EndpointConf, error) {
	switch {
	case strings.HasPrefix(address, "udp://"):
		hostport := strings.TrimPrefix(address, "udp://")
		if strings.HasPrefix(hostport, ":") {
			return gomavlib.EndpointUDPServer{Address: "0.0.0.0" + hostport}, nil
		}
		return gomavlib.EndpointUDPClient{Address: hostport}, nil

	case strings.HasPrefix(address, "tcp://"):
		return gomavlib.EndpointTCPClient{Address: strings.TrimPrefix(address, "tcp://")}, nil

	case strings.HasPrefix(address, "serial://"):
		rest := strings.TrimPrefix(address, "serial://")
		device := rest
		baud := defaultSerialBaud
		if i := strings.LastIndex(rest, ":"); i > 0 {
			b, err := strconv.Atoi(rest[i+1:])
			if err != nil {
				return nil, errors.Errorf("bad baud rate in vehicle address %q", address)
			}
			device = rest[:i]
			baud = b
		}
		return gomavlib.EndpointSerial{Device: device, Baud: baud}, nil
	}

	return nil, errors.Errorf("unsupported vehicle address %q (want udp://, tcp:// or serial://)", address)
}
