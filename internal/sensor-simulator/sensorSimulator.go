// Package sensor_simulator emulates the field device on a serial port: it
// writes telemetry frames at an interval and obeys pump commands.
package sensor_simulator

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

type SensorSimulator struct {
	port      io.ReadWriter
	generator *DataGenerator
}

func NewSensorSimulator(port io.ReadWriter, gen *DataGenerator) *SensorSimulator {
	return &SensorSimulator{port: port, generator: gen}
}

// Start avvia la ricezione dei comandi e la scrittura dei frame a intervalli
// regolari. Blocks until ctx is done or the port fails.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- s.readCommands(ctx) }()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case <-t.C:
			r := s.generator.Next()
			line := telemetry.Format(r)
			if _, err := s.port.Write([]byte(line + "\n")); err != nil {
				return err
			}
			log.Printf("emulator: sent %s (pump on=%v)", line, s.generator.PumpOn())
		}
	}
}

func (s *SensorSimulator) readCommands(ctx context.Context) error {
	buf := make([]byte, 64)
	var pending []byte
	for ctx.Err() == nil {
		n, err := s.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				s.handleCommand(string(pending[:i]))
				pending = pending[i+1:]
			}
		}
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *SensorSimulator) handleCommand(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cmd, err := telemetry.ParseCommand(line)
	if err != nil {
		log.Printf("emulator: ignoring %q: %v", line, err)
		return
	}
	s.generator.SetPump(cmd.TurnOn)
	log.Printf("emulator: %s", cmd)
}
