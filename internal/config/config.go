// Package config loads the farmtech service configuration: a YAML file with
// environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/farmtech/internal/model/entities"
	"github.com/LeonardoBeccarini/farmtech/internal/services/link"
	"github.com/LeonardoBeccarini/farmtech/internal/services/persistence"
	"github.com/LeonardoBeccarini/farmtech/internal/services/weather"
	"github.com/LeonardoBeccarini/farmtech/pkg/rabbitmq"
)

type Config struct {
	AreaID  int64                    `yaml:"area_id"`
	Link    link.Config              `yaml:"link"`
	Store   StoreConfig              `yaml:"store"`
	MQTT    rabbitmq.RabbitMQConfig  `yaml:"mqtt"`
	Influx  persistence.InfluxConfig `yaml:"influx"`
	Weather weather.Config           `yaml:"weather"`
	HTTP    HTTPConfig               `yaml:"http"`
	GRPC    GRPCConfig               `yaml:"grpc"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads path (optional), then applies env overrides, defaults and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Link.Port = env("FARMTECH_SERIAL_PORT", c.Link.Port)
	c.Link.Baud = envInt("FARMTECH_SERIAL_BAUD", c.Link.Baud)
	c.AreaID = int64(envInt("FARMTECH_AREA_ID", int(c.AreaID)))
	c.Store.Path = env("FARMTECH_DB_PATH", c.Store.Path)
	c.HTTP.Addr = env("HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = env("GRPC_ADDR", c.GRPC.Addr)

	c.MQTT.Host = env("RABBITMQ_HOST", env("MQTT_HOST", c.MQTT.Host))
	c.MQTT.Port = envInt("RABBITMQ_PORT", envInt("MQTT_PORT", c.MQTT.Port))
	c.MQTT.User = env("RABBITMQ_USER", env("MQTT_USER", c.MQTT.User))
	c.MQTT.Password = env("RABBITMQ_PASSWORD", env("MQTT_PASS", c.MQTT.Password))
	c.MQTT.ClientID = env("MQTT_CLIENT_ID", c.MQTT.ClientID)

	c.Influx.URL = env("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = env("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = env("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = env("INFLUX_BUCKET", c.Influx.Bucket)

	c.Weather.APIKey = env("OWM_API_KEY", c.Weather.APIKey)
	c.Weather.City = env("OWM_CITY", c.Weather.City)
	c.Weather.Country = env("OWM_COUNTRY", c.Weather.Country)
	c.Weather.RefreshInterval = envDuration("OWM_REFRESH", c.Weather.RefreshInterval)
}

func (c *Config) applyDefaults() {
	if c.AreaID == 0 {
		c.AreaID = entities.DefaultAreaID
	}
	c.Link.ApplyDefaults()
	if c.Store.Path == "" {
		c.Store.Path = "farmtech.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "farmtech-controller"
	}
	c.Influx.ApplyDefaults()
	c.Weather.ApplyDefaults()
}

func (c *Config) validate() error {
	if err := c.Link.Validate(); err != nil {
		return fmt.Errorf("link config: %w", err)
	}
	if c.AreaID < 0 {
		return fmt.Errorf("area_id must be positive, got %d", c.AreaID)
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port)
	}
	if err := c.Weather.Validate(); err != nil {
		return fmt.Errorf("weather config: %w", err)
	}
	return nil
}

// MQTTEnabled is true when a broker host is configured.
func (c *Config) MQTTEnabled() bool { return strings.TrimSpace(c.MQTT.Host) != "" }

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
