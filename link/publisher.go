package link

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kwv/ndtscan/ndt"
)

// ErrNotConnected is returned by Publish while the client is offline
var ErrNotConnected = errors.New("MQTT client not connected")

// Publisher publishes pose, odometry and transform messages for every
// handled scan
type Publisher struct {
	client      mqtt.Client
	prefix      string
	mapFrame    string
	sensorFrame string
	qos         byte
	retain      bool
	logger      *log.Logger
	last        *PoseMessage
	mu          sync.RWMutex
}

// NewPublisher creates a publisher for the topics under config.PublishPrefix.
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, config MQTTConfig, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	prefix := config.PublishPrefix
	if prefix == "" {
		prefix = "ndtscan"
	}
	return &Publisher{
		client:      client,
		prefix:      prefix,
		mapFrame:    config.MapFrame,
		sensorFrame: config.SensorFrame,
		qos:         config.QoS,
		retain:      config.Retain,
		logger:      logger,
	}
}

// Topic returns the full topic name for a suffix such as "pose"
func (p *Publisher) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.prefix, suffix)
}

// Publish sends the pose, the odometry and the map to sensor transform
func (p *Publisher) Publish(odom ndt.Odometry, result ndt.MatchResult, tf ndt.Transform) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}

	pose := NewPoseMessage(odom)
	messages := []struct {
		suffix  string
		payload any
	}{
		{"pose", pose},
		{"odometry", NewOdometryMessage(odom, result)},
		{"transform", TransformMessage{
			Parent:    p.mapFrame,
			Child:     p.sensorFrame,
			Matrix:    tf,
			Timestamp: odom.Stamp.UnixMilli(),
		}},
	}
	for _, m := range messages {
		if err := p.publish(p.Topic(m.suffix), m.payload); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.last = &pose
	p.mu.Unlock()

	p.logger.Debug("published pose", "x", pose.X, "y", pose.Y, "theta", pose.Theta, "converged", pose.Converged)
	return nil
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastPose returns the last published pose
func (p *Publisher) LastPose() (PoseMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return PoseMessage{}, false
	}
	return *p.last, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
