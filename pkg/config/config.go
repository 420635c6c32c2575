package config

import (
	"os"
	"strings"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/errors"
	"gopkg.in/yaml.v3"
)

// DefaultEntityTypes are the entity types known to exist in the broker.
var DefaultEntityTypes = []string{
	"BrightnessSensor",
	"HumiditySensor",
	"TemperatureSensor",
	"ThermostatTemperatureSensor",
	"SetpointHistorySensor",
	"VirtualOutdoorTemperatureSensor",
	"OutdoorTemperatureSensor",
	"Sensor",
}

type BrokerConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	TimeoutMS int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

type StoreConfig struct {
	Hosts      []string `yaml:"hosts" json:"hosts"`
	Port       int      `yaml:"port,omitempty" json:"port,omitempty"`
	Keyspace   string   `yaml:"keyspace" json:"keyspace"`
	Table      string   `yaml:"table" json:"table"`
	TimeoutMS  int      `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	RetryCount int      `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
}

type Config struct {
	Broker          BrokerConfig `yaml:"broker" json:"broker"`
	Store           StoreConfig  `yaml:"store" json:"store"`
	BatchSize       int          `yaml:"batch_size" json:"batch_size"`
	EntityTypes     []string     `yaml:"entity_types" json:"entity_types"`
	HTTPAddr        string       `yaml:"http_addr,omitempty" json:"http_addr,omitempty"`
	ResweepSchedule string       `yaml:"resweep_schedule,omitempty" json:"resweep_schedule,omitempty"`
	LockFile        string       `yaml:"lock_file,omitempty" json:"lock_file,omitempty"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

// FromEnv builds a configuration from environment variables alone, for
// container deployments without a mounted config file.
func FromEnv() (*Config, error) {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ORION_HOST"); v != "" {
		c.Broker.Host = v
	}
	if v := os.Getenv("ORION_PORT"); v != "" {
		if port, ok := convert.ToFloat64(v); ok {
			c.Broker.Port = int(port)
		}
	}
	if v := os.Getenv("CASSANDRA_HOSTS"); v != "" {
		c.Store.Hosts = strings.Split(v, ",")
	}
	if v := os.Getenv("CASSANDRA_PORT"); v != "" {
		if port, ok := convert.ToFloat64(v); ok {
			c.Store.Port = int(port)
		}
	}
	if v := os.Getenv("SENSOR_KEYSPACE"); v != "" {
		c.Store.Keyspace = v
	}
	if v := os.Getenv("SENSOR_TABLE"); v != "" {
		c.Store.Table = v
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, ok := convert.ToFloat64(v); ok {
			c.BatchSize = int(n)
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("RESWEEP_SCHEDULE"); v != "" {
		c.ResweepSchedule = v
	}
}

func (c *Config) applyDefaults() {
	if c.Broker.Host == "" {
		c.Broker.Host = "localhost"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 1026
	}
	if c.Broker.TimeoutMS == 0 {
		c.Broker.TimeoutMS = 10000
	}
	if len(c.Store.Hosts) == 0 {
		c.Store.Hosts = []string{"localhost"}
	}
	if c.Store.Keyspace == "" {
		c.Store.Keyspace = "sensors"
	}
	if c.Store.Table == "" {
		c.Store.Table = "sensor_data"
	}
	if c.Store.TimeoutMS == 0 {
		c.Store.TimeoutMS = 5000
	}
	if c.Store.RetryCount == 0 {
		c.Store.RetryCount = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 500
	}
	if len(c.EntityTypes) == 0 {
		c.EntityTypes = append([]string(nil), DefaultEntityTypes...)
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8087"
	}
	if c.LockFile == "" {
		c.LockFile = os.TempDir() + "/sensorbridge.lock"
	}
}

func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return errors.New("config: broker host must be provided")
	}
	if len(c.Store.Hosts) == 0 {
		return errors.New("config: store hosts must be provided")
	}
	if c.BatchSize <= 0 {
		return errors.New("config: batch size must be positive")
	}
	return nil
}
