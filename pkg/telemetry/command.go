package telemetry

import (
	"fmt"
	"strings"
)

const (
	TokenPumpOn  = "PUMP_ON"
	TokenPumpOff = "PUMP_OFF"
)

// PumpCommand is the only output of the irrigation decision.
type PumpCommand struct {
	TurnOn bool `json:"turn_on"`
}

var (
	PumpOn  = PumpCommand{TurnOn: true}
	PumpOff = PumpCommand{TurnOn: false}
)

func (c PumpCommand) String() string {
	if c.TurnOn {
		return TokenPumpOn
	}
	return TokenPumpOff
}

// Frame is the exact byte sequence written to the device.
func (c PumpCommand) Frame() []byte {
	return []byte(c.String() + "\n")
}

// ParseCommand accepts a command token, with or without the trailing newline.
func ParseCommand(s string) (PumpCommand, error) {
	switch strings.TrimSpace(s) {
	case TokenPumpOn:
		return PumpOn, nil
	case TokenPumpOff:
		return PumpOff, nil
	default:
		return PumpCommand{}, fmt.Errorf("unknown pump command %q", s)
	}
}
