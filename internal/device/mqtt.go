package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/config"
)

const publishTimeout = 5 * time.Second

// Broker is the MQTT connection shared by all relays.
type Broker struct {
	client paho.Client
}

// NewBroker connects to the configured broker. Reconnects are automatic.
func NewBroker(cfg config.MQTTConfig) (*Broker, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout.Duration()) {
		return nil, fmt.Errorf("mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to broker: %w", err)
	}

	return &Broker{client: client}, nil
}

// Close disconnects from the broker.
func (b *Broker) Close() {
	b.client.Disconnect(1000)
}

// MQTTOptions configures one relay.
type MQTTOptions struct {
	CommandTopic string
	StateTopic   string // optional feedback topic
	PayloadOn    string
	PayloadOff   string
	Retain       bool
}

// MQTTRelay switches a relay by publishing to a command topic.
type MQTTRelay struct {
	id     string
	broker *Broker
	opts   MQTTOptions

	mu       sync.Mutex
	watchers []func(on bool)
}

// NewMQTTRelay creates a relay and subscribes to its state topic, if any.
func NewMQTTRelay(id string, b *Broker, opts MQTTOptions) (*MQTTRelay, error) {
	r := &MQTTRelay{id: id, broker: b, opts: opts}

	if opts.StateTopic != "" {
		token := b.client.Subscribe(opts.StateTopic, 1, r.onState)
		if !token.WaitTimeout(publishTimeout) {
			return nil, fmt.Errorf("mqtt: subscribe %s: timeout", opts.StateTopic)
		}
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt: subscribe %s: %w", opts.StateTopic, err)
		}
	}
	return r, nil
}

func (r *MQTTRelay) ID() string { return r.id }

// Set publishes the on/off payload with QoS 1.
func (r *MQTTRelay) Set(ctx context.Context, on bool) error {
	payload := r.opts.PayloadOff
	if on {
		payload = r.opts.PayloadOn
	}

	token := r.broker.client.Publish(r.opts.CommandTopic, 1, r.opts.Retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("mqtt: publish %s: timeout", r.opts.CommandTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", r.opts.CommandTopic, err)
	}
	return nil
}

// Watch registers a state feedback callback.
func (r *MQTTRelay) Watch(fn func(on bool)) {
	r.mu.Lock()
	r.watchers = append(r.watchers, fn)
	r.mu.Unlock()
}

func (r *MQTTRelay) onState(_ paho.Client, msg paho.Message) {
	on, ok := parseState(string(msg.Payload()), r.opts.PayloadOn, r.opts.PayloadOff)
	if !ok {
		log.Warn().
			Str("device", r.id).
			Str("topic", msg.Topic()).
			Str("payload", string(msg.Payload())).
			Msg("Unrecognized state payload")
		return
	}

	r.mu.Lock()
	watchers := append([]func(bool){}, r.watchers...)
	r.mu.Unlock()

	for _, fn := range watchers {
		fn(on)
	}
}

// Close unsubscribes from the state topic. The broker stays connected.
func (r *MQTTRelay) Close() error {
	if r.opts.StateTopic == "" {
		return nil
	}
	token := r.broker.client.Unsubscribe(r.opts.StateTopic)
	token.WaitTimeout(publishTimeout)
	return token.Error()
}

// parseState accepts the configured payloads and common boolean spellings.
func parseState(payload, on, off string) (bool, bool) {
	p := strings.TrimSpace(payload)
	switch {
	case p == on:
		return true, true
	case p == off:
		return false, true
	}
	switch strings.ToLower(p) {
	case "on", "1", "true":
		return true, true
	case "off", "0", "false":
		return false, true
	}
	return false, false
}
