package weather

import (
	"fmt"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openweathermap.org"

type Config struct {
	APIKey  string `yaml:"api_key"`
	City    string `yaml:"city"`
	Country string `yaml:"country"`
	Lang    string `yaml:"lang"`
	BaseURL string `yaml:"base_url"`

	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// MaxAge bounds how long a fetched context may drive decisions.
	MaxAge time.Duration `yaml:"max_age"`

	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerOpen     time.Duration `yaml:"breaker_open"`
}

func (c *Config) ApplyDefaults() {
	if c.City == "" {
		c.City = "Uberaba"
	}
	if c.Country == "" {
		c.Country = "BR"
	}
	if c.Lang == "" {
		c.Lang = "pt_br"
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 15 * time.Minute
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = time.Minute
	}
}

func (c Config) Validate() error {
	if c.MaxAge < c.RefreshInterval {
		return fmt.Errorf("max_age (%s) shorter than refresh_interval (%s)", c.MaxAge, c.RefreshInterval)
	}
	return nil
}

// Enabled reports whether an API key is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }
