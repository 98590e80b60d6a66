// Package bus wraps the MQTT client used to decouple the gateway interceptor
// from the telemetry persister. One topic per (device, sensor family) pair
// carries JSON-encoded readings at QoS 1.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rwilli/localweather/internal/types"
	"github.com/rwilli/localweather/pkg/config"
	"go.uber.org/zap"
)

// DefaultTopicPrefix is the topic namespace used when none is configured.
const DefaultTopicPrefix = "localweather"

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// ReadingTopic returns the topic carrying readings for one device and family.
func ReadingTopic(prefix, deviceID string, family types.SensorFamily) string {
	return fmt.Sprintf("%s/%s/%s", prefix, deviceID, family)
}

// ReadingFilter returns the subscription filter matching all reading topics.
func ReadingFilter(prefix string) string {
	return prefix + "/+/+"
}

// Client is a thin wrapper around the paho MQTT client with the reading
// topic conventions baked in.
type Client struct {
	mqtt   mqtt.Client
	prefix string
	logger *zap.SugaredLogger
}

// NewClient connects to the configured broker. Each pipeline component passes
// a distinct role so concurrent components hold distinct client identities.
// With manualAcks set, subscribed messages are only acknowledged once the
// handler reports success, giving at-least-once consumption.
func NewClient(cfg config.BusData, role string, manualAcks bool, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("bus.broker is not configured")
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultTopicPrefix
	}
	clientID = clientID + "-" + role

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetAutoAckDisabled(manualAcks)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("bus connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Infof("connected to bus at %s as %s", cfg.Broker, clientID)
	})

	c := &Client{
		mqtt:   mqtt.NewClient(opts),
		prefix: prefix,
		logger: logger,
	}

	token := c.mqtt.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Auto-reconnect keeps trying in the background; publishes and
		// subscribes will succeed once the broker is reachable.
		logger.Warnf("bus not reachable after %v, continuing with reconnect in background", connectTimeout)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("could not connect to bus at %s: %w", cfg.Broker, err)
	}

	return c, nil
}

// TopicPrefix returns the configured topic namespace.
func (c *Client) TopicPrefix() string {
	return c.prefix
}

// PublishReading publishes one reading to its (device, family) topic. It
// blocks until the broker acknowledges the QoS 1 publish or the timeout
// elapses.
func (c *Client) PublishReading(r types.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not encode reading: %w", err)
	}

	topic := ReadingTopic(c.prefix, r.DeviceID, r.Family)
	token := c.mqtt.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}

// SubscribeReadings subscribes to all reading topics. The handler is invoked
// for each decoded reading; when the client was created with manual acks, the
// message is acknowledged only after the handler returns nil, so a crash
// before a durable write causes redelivery rather than loss. Undecodable
// payloads are acknowledged and skipped.
func (c *Client) SubscribeReadings(handler func(types.Reading) error) error {
	filter := ReadingFilter(c.prefix)
	token := c.mqtt.Subscribe(filter, 1, func(_ mqtt.Client, m mqtt.Message) {
		var r types.Reading
		if err := json.Unmarshal(m.Payload(), &r); err != nil {
			c.logger.Warnf("skipping undecodable message on %s: %v", m.Topic(), err)
			m.Ack()
			return
		}
		if err := handler(r); err != nil {
			c.logger.Errorf("handler failed for message on %s, leaving unacknowledged: %v", m.Topic(), err)
			return
		}
		m.Ack()
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe to %s timed out", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s failed: %w", filter, err)
	}
	c.logger.Infof("subscribed to %s", filter)
	return nil
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (c *Client) Close() {
	c.mqtt.Disconnect(250)
}
