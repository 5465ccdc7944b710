package link

import (
	"fmt"
	"os"

	"github.com/kwv/ndtscan/ndt"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration: matcher parameters plus the MQTT
// and HTTP surfaces.
type Config struct {
	Matcher ndt.Config `yaml:"matcher" json:"matcher"`
	MQTT    MQTTConfig `yaml:"mqtt" json:"mqtt"`
	HTTP    HTTPConfig `yaml:"http" json:"http"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	ScanTopic     string `yaml:"scanTopic" json:"scanTopic"`         // Incoming ScanMessage payloads
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"` // <prefix>/pose, /odometry, /transform
	MapFrame      string `yaml:"mapFrame" json:"mapFrame"`
	SensorFrame   string `yaml:"sensorFrame" json:"sensorFrame"`
	QoS           byte   `yaml:"qos" json:"qos"`
	Retain        bool   `yaml:"retain" json:"retain"`
}

// HTTPConfig holds the read-only API settings
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// DefaultConfig returns a configuration with MQTT disabled
func DefaultConfig() *Config {
	return &Config{
		Matcher: ndt.DefaultConfig(),
		MQTT: MQTTConfig{
			ClientID:      "ndtscan",
			ScanTopic:     "ndtscan/scan",
			PublishPrefix: "ndtscan",
			MapFrame:      "map",
			SensorFrame:   "laser",
			Retain:        true,
		},
		HTTP: HTTPConfig{Addr: ":4040"},
	}
}

// LoadConfig loads the service configuration from a YAML file. Fields
// missing from the file keep their defaults; MQTT environment variables
// override the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME,
// MQTT_PASSWORD and MQTT_PUBLISH_PREFIX when they are set
func (c *Config) ApplyEnv() {
	overlay := map[string]*string{
		"MQTT_BROKER":         &c.MQTT.Broker,
		"MQTT_CLIENT_ID":      &c.MQTT.ClientID,
		"MQTT_USERNAME":       &c.MQTT.Username,
		"MQTT_PASSWORD":       &c.MQTT.Password,
		"MQTT_PUBLISH_PREFIX": &c.MQTT.PublishPrefix,
	}
	for env, field := range overlay {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

// Validate checks the matcher parameters and, when MQTT is enabled, the
// topics it needs
func (c *Config) Validate() error {
	if err := c.Matcher.Validate(); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" {
		if c.MQTT.ScanTopic == "" {
			return fmt.Errorf("mqtt.scanTopic is required when mqtt.broker is set")
		}
		if c.MQTT.PublishPrefix == "" {
			return fmt.Errorf("mqtt.publishPrefix is required when mqtt.broker is set")
		}
	}
	return nil
}

// MQTTEnabled reports whether a broker is configured
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}
