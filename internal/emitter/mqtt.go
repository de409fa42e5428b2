// Package emitter publishes capture events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cjeanneret/RaspiCam/internal/debug"
	"github.com/cjeanneret/RaspiCam/internal/logic/capture"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Payload formats.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Config selects the broker and how events are published.
type Config struct {
	Broker   string // host:port or URL
	Topic    string // prefix; events go to <Topic>/<outcome>
	ClientID string
	QoS      byte
	Format   string // json (default) or msgpack
}

// Payload is the wire form of a capture.Event.
type Payload struct {
	ID         string    `json:"id" msgpack:"id"`
	Trigger    string    `json:"trigger" msgpack:"trigger"`
	AcceptedAt time.Time `json:"accepted_at" msgpack:"accepted_at"`
	Outcome    string    `json:"outcome" msgpack:"outcome"`
	Path       string    `json:"path,omitempty" msgpack:"path,omitempty"`
	Name       string    `json:"name,omitempty" msgpack:"name,omitempty"`
	Size       int64     `json:"size,omitempty" msgpack:"size,omitempty"`
	Notify     string    `json:"notify,omitempty" msgpack:"notify,omitempty"`
	Error      string    `json:"error,omitempty" msgpack:"error,omitempty"`
	DurationMs int64     `json:"duration_ms" msgpack:"duration_ms"`
}

// NewPayload converts an event.
func NewPayload(ev capture.Event) Payload {
	p := Payload{
		ID:         ev.ID,
		Trigger:    string(ev.Trigger),
		AcceptedAt: ev.AcceptedAt,
		Outcome:    ev.Outcome.String(),
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Stored() {
		p.Path = ev.Image.Path
		p.Name = ev.Image.Name
		p.Size = ev.Image.Size
		p.Notify = ev.Notification.String()
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}

// Stats are emitter counters.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTT is a capture.Sink publishing every event to the broker.
type MQTT struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published map[string]uint64
	errors    uint64
}

// NewMQTT validates cfg and prepares an emitter. Call Connect before use.
func NewMQTT(cfg Config) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "raspicam/captures"
	}
	cfg.Topic = strings.TrimRight(cfg.Topic, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "raspicam"
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatJSON
	case FormatJSON, FormatMsgpack:
	default:
		return nil, fmt.Errorf("unknown mqtt payload format %q (json|msgpack)", cfg.Format)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", cfg.QoS)
	}
	return &MQTT{cfg: cfg, published: make(map[string]uint64)}, nil
}

// brokerURL adds the tcp scheme when the broker is a bare host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect dials the broker with auto-reconnect enabled.
func (e *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		debug.Info("MQTT connected to %s", e.cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		debug.Error(err, "MQTT connection to %s lost, reconnecting", e.cfg.Broker)
	}

	return e.connectWith(ctx, mqtt.NewClient(opts))
}

func (e *MQTT) connectWith(ctx context.Context, client mqtt.Client) error {
	e.client = client

	debug.Verbose("Connecting to MQTT broker %s", e.cfg.Broker)
	token := client.Connect()

	// Disconnect(0) stops paho from retrying in the background.
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Topic returns the topic an event is published to.
func (e *MQTT) Topic(ev capture.Event) string {
	return e.cfg.Topic + "/" + ev.Outcome.String()
}

// Encode serializes the event in the configured format.
func (e *MQTT) Encode(ev capture.Event) ([]byte, error) {
	p := NewPayload(ev)
	if e.cfg.Format == FormatMsgpack {
		return msgpack.Marshal(p)
	}
	return json.Marshal(p)
}

// Record publishes ev. It fails fast when the client is disconnected.
func (e *MQTT) Record(_ context.Context, ev capture.Event) error {
	if e.client == nil || !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := e.Encode(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}

	topic := e.Topic(ev)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	debug.Verbose("MQTT: published %s (%d bytes)", topic, len(payload))
	return nil
}

// Disconnect closes the connection with a short grace period.
func (e *MQTT) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		debug.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

// Stats returns a copy of the counters.
func (e *MQTT) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTT) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTT) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
