package telemetry

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	uuid "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records Publish calls; everything else is inert.
type fakeClient struct {
	mu       sync.Mutex
	messages []published
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return doneToken{} }
func (c *fakeClient) Disconnect(quiesce uint) {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return doneToken{} }

func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) recorded() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func TestPublishSendsControlEvent(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "scout-1")

	p.Publish("takeoff", "vehicle airborne")

	msgs := client.recorded()
	require.Len(t, msgs, 1)
	assert.Equal(t, "/devices/scout-1/events/control", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.False(t, msgs[0].retained)

	var ev Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &ev))
	assert.Equal(t, "scout-1", ev.DeviceID)
	assert.Equal(t, "takeoff", ev.Event)
	assert.Equal(t, "vehicle airborne", ev.Detail)
	assert.False(t, ev.Timestamp.IsZero())

	_, err := uuid.Parse(ev.MessageID)
	assert.NoError(t, err)
}

func TestPublishOmitsEmptyDetail(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "scout-1")

	p.Publish("land", "")

	msgs := client.recorded()
	require.Len(t, msgs, 1)
	assert.NotContains(t, string(msgs[0].payload), "detail")
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() { p.Publish("takeoff", "x") })
}
