package main

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// telemetryTopic is the MQTT topic battery status snapshots are published to.
const telemetryTopic = "power/batteryplus/status"

// statusPayload is the JSON message published on visible percent changes.
type statusPayload struct {
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	VoltageMV int    `json:"voltage_mv"`
	EMAMV     int    `json:"ema_mv"`
	Internal  int    `json:"internal_percent"`
	Visible   int    `json:"visible_percent"`
}

func (m *monitor) statusPayload(visible int) statusPayload {
	return statusPayload{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    m.statusTx,
		VoltageMV: m.rawMV,
		EMAMV:     m.emaMV,
		Internal:  m.internal,
		Visible:   visible,
	}
}

// telemetryPublisher publishes battery status snapshots. Abstracted so tests
// can substitute a fake.
type telemetryPublisher interface {
	Publish(s statusPayload) error
	Close()
}

// mqttPublisher publishes to an actual MQTT broker.
type mqttPublisher struct {
	client paho.Client
}

func newMQTTPublisher(broker string) (*mqttPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("batteryplus").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &mqttPublisher{client: client}, nil
}

// Publish sends one snapshot, QoS 0, not retained.
func (p *mqttPublisher) Publish(s statusPayload) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	token := p.client.Publish(telemetryTopic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
