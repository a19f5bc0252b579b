// Package telemetry publishes control events (command outcomes, flight state
// transitions) to an MQTT broker when one is configured.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	uuid "github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	qos    = 1
	retain = false

	connectTimeout = 5 * time.Second
	publishTimeout = 10 * time.Second
)

// Event is the JSON payload published for every control event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
	DeviceID  string    `json:"device_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
}

// Publisher sends control events for one device. A nil *Publisher is valid
// and publishes nothing; event publishing is optional.
type Publisher struct {
	client   mqtt.Client
	deviceID string
	topic    string
}

func NewPublisher(client mqtt.Client, deviceID string) *Publisher {
	return &Publisher{
		client:   client,
		deviceID: deviceID,
		topic:    fmt.Sprintf("/devices/%s/events/control", deviceID),
	}
}

// Publish sends one control event. Delivery is fire-and-forget: command
// handling must not stall on a slow broker, so failures are only logged.
func (p *Publisher) Publish(event, detail string) {
	if p == nil {
		return
	}

	b, err := json.Marshal(Event{
		Timestamp: time.Now().UTC(),
		MessageID: uuid.New().String(),
		DeviceID:  p.deviceID,
		Event:     event,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("marshal control event %q: %v", event, err)
		return
	}

	tok := p.client.Publish(p.topic, qos, retain, b)
	go func() {
		if !tok.WaitTimeout(publishTimeout) {
			log.Printf("control event %q not delivered within %v", event, publishTimeout)
			return
		}
		if err := tok.Error(); err != nil {
			log.Printf("control event %q failed: %v", event, err)
		}
	}()
}

// NewMQTTClient connects to the broker and returns a ready client.
func NewMQTTClient(brokerAddress, deviceID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerAddress).
		SetClientID("droneserver-" + deviceID).
		SetProtocolVersion(4) // MQTT 3.1.1

	client := mqtt.NewClient(opts)

	log.Printf("Connecting MQTT broker %s...", brokerAddress)
	tok := client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, errors.Errorf("MQTT connection to %s timed out", brokerAddress)
	}
	if err := tok.Error(); err != nil {
		return nil, errors.Wrap(err, "MQTT connect")
	}
	log.Printf("..Connected")

	return client, nil
}
