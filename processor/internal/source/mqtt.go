package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greendelivery/coldchain/processor/internal/config"
)

const connectTimeout = 10 * time.Second

// MQTT subscribes to the package telemetry topic and forwards every payload.
type MQTT struct {
	cfg config.MQTTConfig
	out chan<- Message
	now func() time.Time
}

// NewMQTT creates a subscriber writing to out.
func NewMQTT(cfg config.MQTTConfig, out chan<- Message) *MQTT {
	return &MQTT{cfg: cfg, out: out, now: time.Now}
}

// Run connects, subscribes and blocks until ctx is cancelled. The
// subscription is renewed on every reconnect.
func (m *MQTT) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("source: mqtt connection lost", "broker", m.cfg.Broker, "err", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			slog.Info("source: mqtt connected", "broker", m.cfg.Broker, "topic", m.cfg.Topic)
			tok := c.Subscribe(m.cfg.Topic, m.cfg.QoS, m.handler(ctx))
			if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
				slog.Error("source: mqtt subscribe failed", "topic", m.cfg.Topic, "err", tok.Error())
			}
		})
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password())
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("source: mqtt connect %s: %w", m.cfg.Broker, err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	client.Disconnect(250)
	slog.Info("source: mqtt disconnected", "broker", m.cfg.Broker)
	return nil
}

// handler pushes each message into the processor channel. With ordered
// delivery this blocks the client's router, which is the backpressure we
// want when the processor is slow.
func (m *MQTT) handler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		err := Push(ctx, m.out, Message{
			Origin:     "mqtt:" + msg.Topic(),
			Payload:    msg.Payload(),
			ReceivedAt: m.now(),
		})
		if err != nil {
			slog.Debug("source: shutting down, payload not queued", "topic", msg.Topic())
		}
	}
}
