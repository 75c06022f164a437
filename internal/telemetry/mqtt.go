package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roverlab/rover/internal/telemetry/eventbus"
)

// MQTTPublisher mirrors every eventbus event onto an MQTT broker topic, one
// JSON message per event. Like Server, it is an optional observability
// side-channel.
type MQTTPublisher struct {
	client mqtt.Client
	bus    *eventbus.Bus
	topic  string
}

// NewMQTTPublisher connects to broker and returns a publisher ready to Run.
func NewMQTTPublisher(broker, clientID, topic string, bus *eventbus.Bus) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: connecting to mqtt broker %s: %w", broker, token.Error())
	}
	return &MQTTPublisher{client: client, bus: bus, topic: topic}, nil
}

// Run blocks, publishing every event this rover's bus produces, until the
// bus's subscription channel closes or ctx is cancelled.
func (p *MQTTPublisher) Run(ctx context.Context) error {
	eventCh := p.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("telemetry: marshal event for mqtt: %v", err)
				continue
			}
			token := p.client.Publish(p.topic, 0, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				log.Printf("telemetry: mqtt publish: %v", err)
			}
		}
	}
}

// Disconnect performs a clean disconnect from the broker.
func (p *MQTTPublisher) Disconnect() {
	p.client.Disconnect(250)
}
