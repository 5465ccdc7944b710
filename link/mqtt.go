package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ScanHandler is called for every message on the scan topic. msg is nil
// when the payload could not be decoded.
type ScanHandler func(msg *ScanMessage, err error)

// Subscriber manages the MQTT connection and the scan subscription
type Subscriber struct {
	client      mqtt.Client
	config      MQTTConfig
	handler     ScanHandler
	logger      *log.Logger
	isConnected bool
	mu          sync.RWMutex
}

// NewSubscriber builds a client for config. It returns nil, nil when no
// broker is configured, which disables MQTT. Call Start to connect.
func NewSubscriber(config *Config, handler ScanHandler, logger *log.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = log.Default()
	}
	if !config.MQTTEnabled() {
		logger.Info("MQTT disabled: no broker configured")
		return nil, nil
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Subscriber{
		config:  config.MQTT,
		handler: handler,
		logger:  logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTT.Broker)
	opts.SetClientID(config.MQTT.ClientID)
	if config.MQTT.Username != "" {
		opts.SetUsername(config.MQTT.Username)
		opts.SetPassword(config.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Scans must reach the matcher in capture order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(s.onReconnecting)

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// NewSubscriberWithClient wires a Subscriber to an existing client such as
// MockClient
func NewSubscriberWithClient(client mqtt.Client, config MQTTConfig, handler ScanHandler, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.Default()
	}
	return &Subscriber{
		client:  client,
		config:  config,
		handler: handler,
		logger:  logger,
	}
}

// Start connects in the background, retrying with exponential backoff until
// connected or ctx is done
func (s *Subscriber) Start(ctx context.Context) {
	go s.connectWithRetry(ctx)
}

func (s *Subscriber) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		s.logger.Info("connecting to MQTT broker", "broker", s.config.Broker)

		token := s.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				s.logger.Info("connected to MQTT broker")
				s.setConnected(true)
				return
			}
			s.logger.Warn("MQTT connection failed", "err", token.Error())
		} else {
			s.logger.Warn("MQTT connection timeout")
		}

		s.logger.Info("retrying MQTT connection", "in", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the scan topic; it runs again after every reconnect
func (s *Subscriber) onConnect(client mqtt.Client) {
	s.setConnected(true)
	if err := s.Subscribe(); err != nil {
		s.logger.Error("subscribe failed", "err", err)
	}
}

// Subscribe registers the scan handler on the configured topic
func (s *Subscriber) Subscribe() error {
	s.logger.Info("subscribing", "topic", s.config.ScanTopic)
	token := s.client.Subscribe(s.config.ScanTopic, s.config.QoS, s.handleMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", s.config.ScanTopic, token.Error())
	}
	return nil
}

// onConnectionLost is a transient event while auto-reconnect is enabled
func (s *Subscriber) onConnectionLost(client mqtt.Client, err error) {
	s.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", "err", err)
	s.setConnected(false)
}

func (s *Subscriber) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	s.logger.Info("MQTT reconnecting")
}

func (s *Subscriber) handleMessage(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	s.logger.Debug("scan received", "topic", msg.Topic(), "bytes", len(payload))

	scan, err := DecodeScan(payload)
	if err != nil {
		s.logger.Warn("dropping scan", "topic", msg.Topic(), "err", err)
	}
	if s.handler != nil {
		s.handler(scan, err)
	}
}

// IsConnected returns true if the MQTT client is connected
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *Subscriber) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (s *Subscriber) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.logger.Info("disconnecting from MQTT broker")
		s.client.Disconnect(250)
		s.setConnected(false)
	}
}

// Client returns the underlying MQTT client for publishing
func (s *Subscriber) Client() mqtt.Client {
	return s.client
}
