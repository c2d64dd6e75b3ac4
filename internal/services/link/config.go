package link

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaud                 = 115200
	DefaultReadTimeout          = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultRetryInterval        = 2 * time.Second
	DefaultWatchdogPeriod       = 5 * time.Second
	DefaultWarnAfter            = 10 * time.Second
	DefaultReconnectAfter       = 30 * time.Second
	DefaultErrorThreshold       = 3
	DefaultErrorPause           = time.Second
	DefaultJoinTimeout          = 3 * time.Second
	DefaultMaxLineLength        = 256
)

// Config is fixed for the lifetime of a session.
type Config struct {
	Port                 string        `yaml:"port"`
	Baud                 int           `yaml:"baud"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	RetryInterval        time.Duration `yaml:"retry_interval"`
	WatchdogPeriod       time.Duration `yaml:"watchdog_period"`
	WarnAfter            time.Duration `yaml:"warn_after"`
	ReconnectAfter       time.Duration `yaml:"reconnect_after"`
	// ErrorThreshold is the number of consecutive transport errors tolerated;
	// one more triggers a reconnection.
	ErrorThreshold int           `yaml:"error_threshold"`
	ErrorPause     time.Duration `yaml:"error_pause"`
	JoinTimeout    time.Duration `yaml:"join_timeout"`
	MaxLineLength  int           `yaml:"max_line_length"`
}

// ApplyDefaults fills every zero field.
func (c *Config) ApplyDefaults() {
	c.Port = strings.TrimSpace(c.Port)
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.WatchdogPeriod <= 0 {
		c.WatchdogPeriod = DefaultWatchdogPeriod
	}
	if c.WarnAfter <= 0 {
		c.WarnAfter = DefaultWarnAfter
	}
	if c.ReconnectAfter <= 0 {
		c.ReconnectAfter = DefaultReconnectAfter
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = DefaultErrorPause
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
}

// Validate is meant to run after ApplyDefaults.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("link: port is required")
	}
	if c.WarnAfter > c.ReconnectAfter {
		return fmt.Errorf("link: warn_after (%s) must not exceed reconnect_after (%s)", c.WarnAfter, c.ReconnectAfter)
	}
	return nil
}
