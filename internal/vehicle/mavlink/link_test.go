package mavlink

import (
	"context"
	"math"
	"testing"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/mission"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := parseEndpoint("udp://:14540")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointUDPServer{Address: "0.0.0.0:14540"}, ep)

	ep, err = parseEndpoint("udp://192.168.1.12:14550")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointUDPClient{Address: "192.168.1.12:14550"}, ep)

	ep, err = parseEndpoint("tcp://10.0.0.2:5760")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointTCPClient{Address: "10.0.0.2:5760"}, ep)

	ep, err = parseEndpoint("serial:///dev/ttyUSB0:921600")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointSerial{Device: "/dev/ttyUSB0", Baud: 921600}, ep)

	ep, err = parseEndpoint("serial:///dev/ttyACM0")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: defaultSerialBaud}, ep)

	_, err = parseEndpoint("ftp://nope")
	require.Error(t, err)

	_, err = parseEndpoint("serial:///dev/ttyUSB0:fast")
	require.Error(t, err)
}

func TestMissionItemsEncoding(t *testing.T) {
	plan := mission.BuildPatrol(47.397742, 8.545594, mission.DefaultParams())
	items := missionItems(1, plan)

	require.Len(t, items, 5)

	speed := items[0]
	assert.Equal(t, common.MAV_CMD_DO_CHANGE_SPEED, speed.Command)
	assert.Equal(t, uint16(0), speed.Seq)
	assert.Equal(t, float32(5), speed.Param2)

	for i, wp := range plan.Items {
		item := items[i+1]
		assert.Equal(t, uint16(i+1), item.Seq)
		assert.Equal(t, common.MAV_CMD_NAV_WAYPOINT, item.Command)
		assert.Equal(t, common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT, item.Frame)
		assert.Equal(t, uint8(1), item.Autocontinue)
		assert.Equal(t, int32(math.Round(wp.LatitudeDeg*1e7)), item.X)
		assert.Equal(t, int32(math.Round(wp.LongitudeDeg*1e7)), item.Y)
		assert.Equal(t, float32(wp.AltitudeM), item.Z)
		// fly-through waypoints have no hold time
		assert.Equal(t, float32(0), item.Param1)
	}
}

func TestMissionItemsEmptyPlan(t *testing.T) {
	assert.Empty(t, missionItems(1, mission.Plan{}))
}

func TestFanoutReplaysLastValue(t *testing.T) {
	f := newFanout[vehicle.ConnectionState](true)
	f.publish(vehicle.ConnectionState{IsConnected: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.subscribe(ctx)
	s := <-ch
	assert.True(t, s.IsConnected)
}

func TestFanoutNoReplayForHomeFixes(t *testing.T) {
	f := newFanout[vehicle.HomePosition](false)
	f.publish(vehicle.HomePosition{LatitudeDeg: 1, LongitudeDeg: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.subscribe(ctx)
	select {
	case <-ch:
		t.Fatal("stale home fix replayed to new subscriber")
	default:
	}

	f.publish(vehicle.HomePosition{LatitudeDeg: 2, LongitudeDeg: 2})
	h := <-ch
	assert.Equal(t, 2.0, h.LatitudeDeg)
}

func TestFanoutClosesSubscriptionOnCancel(t *testing.T) {
	f := newFanout[vehicle.Health](true)

	ctx, cancel := context.WithCancel(context.Background())
	ch := f.subscribe(ctx)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCommandsFailBeforeHeartbeat(t *testing.T) {
	l := New("udp://:14540")

	err := l.Arm(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestDrainCommandAcksDiscardsLeftovers(t *testing.T) {
	l := New("udp://:14540")
	// ack left behind by a home position request nobody waited for
	l.acks <- &common.MessageCommandAck{
		Command: common.MAV_CMD_REQUEST_MESSAGE,
		Result:  common.MAV_RESULT_ACCEPTED,
	}
	l.acks <- &common.MessageCommandAck{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
		Result:  common.MAV_RESULT_DENIED,
	}

	l.drainCommandAcks()
	assert.Empty(t, l.acks)
}

func TestAwaitCommandAckSkipsOtherCommands(t *testing.T) {
	l := New("udp://:14540")
	l.acks <- &common.MessageCommandAck{
		Command: common.MAV_CMD_REQUEST_MESSAGE,
		Result:  common.MAV_RESULT_ACCEPTED,
	}
	l.acks <- &common.MessageCommandAck{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
		Result:  common.MAV_RESULT_DENIED,
	}

	err := l.awaitCommandAck(context.Background(), common.MAV_CMD_COMPONENT_ARM_DISARM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}
