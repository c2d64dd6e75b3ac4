package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sensorSimulator "github.com/LeonardoBeccarini/farmtech/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/farmtech/pkg/serialport"
)

func main() {
	port := flag.String("port", "", "serial port to write frames to (e.g. one end of a socat pair)")
	baud := flag.Int("baud", 115200, "baud rate")
	interval := flag.Duration("interval", 2*time.Second, "frame interval")
	seed := flag.Float64("moisture", sensorSimulator.DefaultSeed, "initial soil humidity (%)")
	gain := flag.Float64("gain", sensorSimulator.DefaultGainPerMin, "humidity points gained per minute with the pump on")
	decay := flag.Float64("decay", sensorSimulator.DefaultDecayPerMin, "humidity points lost per minute with the pump off")
	potassium := flag.Bool("potassium", false, "report potassium as present")
	phosphorus := flag.Bool("phosphorus", true, "report phosphorus as present")
	flag.Parse()

	if *port == "" {
		log.Fatal("missing -port")
	}

	p, err := serialport.Open(serialport.Config{Name: *port, Baud: *baud, ReadTimeout: time.Second})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer p.Close()

	gen := sensorSimulator.NewDataGenerator(*seed, *gain, *decay)
	gen.Phosphorus = *phosphorus
	gen.Potassium = *potassium

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("emulator: writing frames to %s every %s", *port, *interval)
	if err := sensorSimulator.NewSensorSimulator(p, gen).Start(ctx, *interval); err != nil {
		log.Fatalf("emulator: %v", err)
	}
}
