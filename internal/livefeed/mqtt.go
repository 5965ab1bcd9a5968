package livefeed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/banshee-data/soccer-diffusion/internal/convert"
	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
)

// MessageHandler handles one MQTT payload.
type MessageHandler func(topic string, payload []byte) error

// PubSub is the broker surface used by the live feed and the trajectory
// publisher.
type PubSub interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// MQTTClient wraps a paho client.
type MQTTClient struct {
	client mqtt.Client
}

// NewMQTTClient connects to the broker.
func NewMQTTClient(opts MQTTOptions) (*MQTTClient, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		o.SetPassword(opts.Password)
	}
	o.SetAutoReconnect(true)
	o.SetCleanSession(true)
	o.SetOrderMatters(true)
	o.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(o)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, token.Error())
	}
	return &MQTTClient{client: client}, nil
}

// Subscribe registers handler for topic. Handler errors are logged.
func (c *MQTTClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			monitoring.L().Warn("mqtt handler failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe removes subscriptions.
func (c *MQTTClient) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("unsubscribe: %w", token.Error())
	}
	return nil
}

// Publish sends payload and waits for the broker to accept it.
func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}
	return nil
}

// IsConnected reports the connection state.
func (c *MQTTClient) IsConnected() bool { return c.client.IsConnected() }

// Disconnect closes the connection after up to 250ms of draining.
func (c *MQTTClient) Disconnect() { c.client.Disconnect(250) }

// mqttBacklog bounds the events queued between the broker callback and
// the handler.
const mqttBacklog = 256

// MQTTSource receives raw messages published on a topic.
type MQTTSource struct {
	ps      PubSub
	topic   string
	qos     byte
	dropped atomic.Int64
}

// NewMQTTSource returns a source subscribed to topic at QoS 0.
func NewMQTTSource(ps PubSub, topic string) *MQTTSource {
	return &MQTTSource{ps: ps, topic: topic}
}

// Dropped is the number of events discarded because the handler fell
// behind or the payload could not be decoded.
func (s *MQTTSource) Dropped() int64 { return s.dropped.Load() }

// Run subscribes and delivers events on the calling goroutine until ctx
// is cancelled.
func (s *MQTTSource) Run(ctx context.Context, handle Handler) error {
	events := make(chan convert.Event, mqttBacklog)
	err := s.ps.Subscribe(s.topic, s.qos, func(topic string, payload []byte) error {
		ev, err := decode(topic, payload)
		if err != nil {
			s.dropped.Add(1)
			return err
		}
		select {
		case events <- ev:
		default:
			s.dropped.Add(1)
			return fmt.Errorf("%s: handler backlog full", topic)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.ps.Unsubscribe(s.topic); err != nil {
			monitoring.L().Warn("mqtt unsubscribe failed", zap.String("topic", s.topic), zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			handle(ev)
		}
	}
}
