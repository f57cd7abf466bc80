package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/session"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttCommandQueue   = 32
)

// MQTTConfig selects the broker and topic root of the bridge.
type MQTTConfig struct {
	// Broker is host:port or a full URL such as tcp://host:1883.
	Broker   string
	Topic    string
	ClientID string
}

// MQTTStats reports bridge activity.
type MQTTStats struct {
	Connected bool  `json:"connected"`
	Commands  int64 `json:"commands"`
	Published int64 `json:"published"`
	Errors    int64 `json:"errors"`
}

// MQTTBridge keeps remote players in step: it executes commands published
// on <topic>/command, acknowledges them on <topic>/response and publishes
// every session's events, frame events excepted, on <topic>/events/<id>.
type MQTTBridge struct {
	cfg      MQTTConfig
	sessions *session.Manager
	relay    *Relay
	log      *slog.Logger
	client   mqtt.Client
	commands chan Command

	connected atomic.Bool
	received  atomic.Int64
	published atomic.Int64
	errors    atomic.Int64
}

// NewMQTTBridge creates a bridge. If log is nil, slog.Default() is used.
func NewMQTTBridge(cfg MQTTConfig, sessions *session.Manager, relay *Relay, log *slog.Logger) *MQTTBridge {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = "reel"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "reel"
	}
	return &MQTTBridge{
		cfg:      cfg,
		sessions: sessions,
		relay:    relay,
		log:      log.With("component", "mqtt"),
		commands: make(chan Command, mqttCommandQueue),
	}
}

func (b *MQTTBridge) commandTopic() string  { return b.cfg.Topic + "/command" }
func (b *MQTTBridge) responseTopic() string { return b.cfg.Topic + "/response" }

func (b *MQTTBridge) eventTopic(id string) string {
	return b.cfg.Topic + "/events/" + id
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Run connects to the broker and bridges until ctx is cancelled.
func (b *MQTTBridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(b.cfg.Broker))
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		b.connected.Store(true)
		b.log.Info("mqtt connected", "broker", b.cfg.Broker, "client_id", b.cfg.ClientID)
		// Subscriptions do not survive a reconnect with a clean session.
		if tok := c.Subscribe(b.commandTopic(), 1, b.onMessage); tok.WaitTimeout(mqttConnectTimeout) && tok.Error() != nil {
			b.log.Error("mqtt subscribe", "topic", b.commandTopic(), "error", tok.Error())
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.connected.Store(false)
		b.log.Warn("mqtt connection lost, reconnecting", "broker", b.cfg.Broker, "error", err)
	}
	b.client = mqtt.NewClient(opts)

	b.log.Info("connecting to mqtt broker", "broker", b.cfg.Broker)
	tok := b.client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timeout", b.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", b.cfg.Broker, err)
	}

	sub := b.relay.Subscribe("", eventBuffer)
	defer b.relay.Unsubscribe(sub)
	defer func() {
		if b.client.IsConnected() {
			b.client.Unsubscribe(b.commandTopic()).WaitTimeout(mqttPublishTimeout)
		}
		b.client.Disconnect(250)
		b.connected.Store(false)
		b.log.Info("mqtt disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-b.commands:
			b.publish(b.responseTopic(), respond(b.sessions, cmd))
		case m, ok := <-sub.C():
			if !ok {
				return nil
			}
			if m.Kind == playback.EventFrameShown {
				continue
			}
			b.publish(b.eventTopic(m.Session), m)
		}
	}
}

func (b *MQTTBridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := parseCommand(msg.Payload())
	if err != nil {
		b.errors.Add(1)
		b.log.Warn("invalid mqtt command", "topic", msg.Topic(), "error", err)
		b.publish(b.responseTopic(), Response{Ack: "unknown", Status: "error", Error: err.Error(), Timestamp: time.Now()})
		return
	}
	b.received.Add(1)
	b.log.Debug("mqtt command received", "command", cmd.Command, "session", cmd.Session)
	select {
	case b.commands <- cmd:
	default:
		b.errors.Add(1)
		b.log.Warn("command queue full, dropping command", "command", cmd.Command, "session", cmd.Session)
	}
}

func parseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if cmd.Command == "" || cmd.Session == "" {
		return Command{}, fmt.Errorf("%w: command and session are required", ErrBadRequest)
	}
	return cmd, nil
}

func (b *MQTTBridge) publish(topic string, v any) {
	if b.client == nil || !b.connected.Load() {
		b.errors.Add(1)
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.errors.Add(1)
		b.log.Error("marshal mqtt payload", "topic", topic, "error", err)
		return
	}
	tok := b.client.Publish(topic, 0, false, payload)
	if !tok.WaitTimeout(mqttPublishTimeout) || tok.Error() != nil {
		b.errors.Add(1)
		b.log.Warn("mqtt publish failed", "topic", topic, "error", tok.Error())
		return
	}
	b.published.Add(1)
}

// Stats returns a snapshot of the bridge counters.
func (b *MQTTBridge) Stats() MQTTStats {
	return MQTTStats{
		Connected: b.connected.Load(),
		Commands:  b.received.Load(),
		Published: b.published.Load(),
		Errors:    b.errors.Load(),
	}
}
