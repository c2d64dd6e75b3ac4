// Package serialport opens the physical link to the field device.
package serialport

import (
	"fmt"
	"io"
	"sort"
	"time"

	"go.bug.st/serial"
)

// Config holds serial port configuration
type Config struct {
	Name        string        // device path (e.g. /dev/ttyUSB0, COM3)
	Baud        int           // baud rate
	ReadTimeout time.Duration // upper bound of a single Read
}

// Port is an open serial link. A Read that hits the timeout returns 0, nil.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a port; the supervisor takes one so tests can swap the hardware out.
type Opener func(cfg Config) (Port, error)

// Open opens a real serial port in 8N1 raw mode.
func Open(cfg Config) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Name, err)
		}
	}
	return p, nil
}

// List returns the serial ports currently visible to the OS, sorted by name.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
