package application

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type BrokerPublisherParams struct {
	MQTTClient MQTTClient

	Log zerolog.Logger
}

// BrokerPublisher owns one broker connection for one bridge handle. Once
// Disconnect has been called it drops every publish. No lock is held across
// client calls, so Disconnect never waits on a publish stuck on the network.
type BrokerPublisher struct {
	client MQTTClient

	disconnected atomic.Bool

	log zerolog.Logger
}

func NewBrokerPublisher(params BrokerPublisherParams) (*BrokerPublisher, error) {
	if params.MQTTClient == nil {
		return nil, fmt.Errorf("MQTTClient is nil")
	}
	return &BrokerPublisher{client: params.MQTTClient, log: params.Log}, nil
}

func (p *BrokerPublisher) Connect() error {
	if p.disconnected.Load() {
		return newBridgeError(ErrConnection, "connect broker", fmt.Errorf("publisher already disconnected"))
	}
	if err := p.client.Connect(); err != nil {
		p.log.Error().Err(err).Msg("failed to connect to mqtt broker")
		return newBridgeError(ErrConnection, "connect broker", err)
	}
	p.log.Info().Msg("connected to mqtt broker")
	return nil
}

// Publish sends value to TopicPrefix+topicSuffix. Failures are logged and
// swallowed so that one lost reading does not stop the bridge.
func (p *BrokerPublisher) Publish(topicSuffix, value string, retained bool) {
	_ = p.PublishReading(Reading{Key: topicSuffix, Value: value, Retained: retained})
}

// PublishReading is Publish with the PublishError still returned.
func (p *BrokerPublisher) PublishReading(r Reading) error {
	topic := TopicPrefix + r.Key
	if p.disconnected.Load() {
		p.log.Debug().Str("topic", topic).Msg("publisher disconnected, reading dropped")
		return newBridgeError(ErrPublish, "publish "+topic, fmt.Errorf("publisher disconnected"))
	}

	if err := p.client.Publish(topic, 0, r.Retained, r.Value); err != nil {
		err = newBridgeError(ErrPublish, "publish "+topic, err)
		p.log.Warn().Err(err).Msg("failed to publish reading")
		return err
	}
	p.log.Debug().Str("topic", topic).Str("value", r.Value).Bool("retained", r.Retained).Msg("published")
	return nil
}

// PublishDiagnostics publishes the fixed diagnostic set.
func (p *BrokerPublisher) PublishDiagnostics() error {
	var firstErr error
	for _, r := range DiagnosticReadings() {
		if err := p.PublishReading(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		p.log.Info().Msg("published constant test values")
	}
	return firstErr
}

// Disconnect marks the publisher closed before closing the connection. A
// publish already handed to the client may still complete or fail on its own.
func (p *BrokerPublisher) Disconnect() {
	if !p.disconnected.CompareAndSwap(false, true) {
		return
	}
	p.client.Disconnect()
	p.log.Info().Msg("disconnected from mqtt broker")
}

func (p *BrokerPublisher) Status() MQTTStatus {
	return p.client.Status()
}
