// SPDX-License-Identifier: MIT

// Package mqtt sends safety alarm events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/internal/transport"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultConnectTimeout = 10 * time.Second
	publishTimeout        = 10 * time.Second
	disconnectQuiesceMs   = 250
)

// ErrNotConnected is returned when an alarm is sent while the broker link is down.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// Config holds the broker connection settings.
type Config struct {
	Broker         string // e.g. "tcp://localhost:1883"
	Topic          string
	ClientID       string // generated when empty
	Username       string
	Password       string
	QoS            byte
	NodeID         string // stamped on every event; generated when empty
	ConnectTimeout time.Duration
}

// client is the subset of paho.Client the notifier uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Notifier publishes AlarmEvents as JSON. Send never waits for the broker;
// delivery is confirmed in the background and failures are only logged.
type Notifier struct {
	cfg    Config
	client client

	wg        sync.WaitGroup
	closeOnce sync.Once

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewNotifier connects to the broker. If the broker does not answer within
// the connect timeout the notifier is still returned and paho keeps retrying
// in the background.
func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt broker and topic are required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", cfg.QoS)
	}
	cfg = withDefaults(cfg)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(paho.Client) {
		applog.Infof("MQTTNotifier: Connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		applog.Warnf("MQTTNotifier: Connection to %s lost: %v", cfg.Broker, err)
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		applog.Warnf("MQTTNotifier: Broker %s not reachable after %s, retrying in background", cfg.Broker, cfg.ConnectTimeout)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection error: %w", err)
	}

	return newNotifier(cfg, c), nil
}

func withDefaults(cfg Config) Config {
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "resonance-" + cfg.NodeID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return cfg
}

func newNotifier(cfg Config, c client) *Notifier {
	return &Notifier{cfg: cfg, client: c}
}

// NodeID returns the identifier stamped on every event.
func (n *Notifier) NodeID() string {
	return n.cfg.NodeID
}

// Send publishes AlarmEvents; any other value is ignored.
func (n *Notifier) Send(data any) error {
	ev, ok := data.(transport.AlarmEvent)
	if !ok {
		return nil
	}
	if ev.NodeID == "" {
		ev.NodeID = n.cfg.NodeID
	}

	if !n.client.IsConnected() {
		n.failed.Add(1)
		return ErrNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		n.failed.Add(1)
		return fmt.Errorf("failed to marshal alarm: %w", err)
	}

	token := n.client.Publish(n.cfg.Topic, n.cfg.QoS, false, payload)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			n.failed.Add(1)
			applog.Warnf("MQTTNotifier: Publish of %s timed out", ev.Event)
			return
		}
		if err := token.Error(); err != nil {
			n.failed.Add(1)
			applog.Warnf("MQTTNotifier: Publish of %s failed: %v", ev.Event, err)
			return
		}
		n.sent.Add(1)
		applog.Debugf("MQTTNotifier: Published %s to %s", ev.Event, n.cfg.Topic)
	}()
	return nil
}

// Sent returns the number of events confirmed by the broker.
func (n *Notifier) Sent() uint64 { return n.sent.Load() }

// Failed returns the number of events that were not delivered.
func (n *Notifier) Failed() uint64 { return n.failed.Load() }

// Close waits for pending confirmations and disconnects.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		n.wg.Wait()
		n.client.Disconnect(disconnectQuiesceMs)
		applog.Infof("MQTTNotifier: Disconnected (sent %d, failed %d)", n.sent.Load(), n.failed.Load())
	})
	return nil
}

var _ transport.Transport = (*Notifier)(nil)
