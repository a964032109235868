// Package notify announces committed job transitions to a dispatch board over MQTT.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/lifecycle"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Connect dials the broker and waits for the connection.
func Connect(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(timeout).
		SetOnConnectHandler(func(mqtt.Client) {
			log.WithField("broker", broker).Info("Connected to MQTT broker")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).WithField("broker", broker).Warn("Lost MQTT connection")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	return client, nil
}

// Publisher implements lifecycle.Publisher on top of an MQTT client.
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewPublisher publishes to <prefix>/<technician>/<job> with QoS 1.
func NewPublisher(client Client, prefix string) *Publisher {
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     1,
		timeout: 5 * time.Second,
	}
}

// Topic returns the topic a transition is published on.
func (p *Publisher) Topic(tr lifecycle.Transition) string {
	return fmt.Sprintf("%s/%s/%d", p.prefix, tr.TechnicianID, tr.JobID)
}

// Publish sends the transition as JSON and waits for the broker.
func (p *Publisher) Publish(ctx context.Context, tr lifecycle.Transition) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(tr), p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrPublishTimeout
	}
}

// Close disconnects from the broker, allowing in-flight messages a moment to drain.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
