package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/farmtech/internal/config"
	"github.com/LeonardoBeccarini/farmtech/internal/monitor"
	"github.com/LeonardoBeccarini/farmtech/internal/services/device"
	controller "github.com/LeonardoBeccarini/farmtech/internal/services/irrigation-controller"
	"github.com/LeonardoBeccarini/farmtech/internal/services/link"
	"github.com/LeonardoBeccarini/farmtech/internal/services/persistence"
	"github.com/LeonardoBeccarini/farmtech/internal/services/weather"
	"github.com/LeonardoBeccarini/farmtech/pkg/rabbitmq"
)

var (
	cfgFile string
	redial  time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "farmtech",
	Short:         "Serial telemetry supervisor and irrigation controller",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the device and run the irrigation loop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (yaml)")
	runCmd.Flags().DurationVar(&redial, "redial", 30*time.Second, "how often to reopen the port once the link gave up")
	rootCmd.AddCommand(runCmd, portsCmd, parseCmd, exportCmd, clearCmd, pumpCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "farmtech:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := persistence.OpenStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := monitor.New()
	sup := link.New()
	opts := []controller.Option{controller.WithMetrics(metrics)}

	// Weather
	if cfg.Weather.Enabled() {
		provider := weather.NewProvider(weather.NewOWMClient(cfg.Weather), cfg.Weather)
		go provider.Run(ctx)
		opts = append(opts, controller.WithWeather(provider))
	} else {
		log.Printf("weather: OWM_API_KEY not set, rain veto disabled")
	}

	// InfluxDB
	var mirror *persistence.InfluxMirror
	if cfg.Influx.Enabled() {
		mirror = persistence.NewInfluxMirror(cfg.Influx)
		defer mirror.Close()
		opts = append(opts, controller.WithMirror(mirror))
	}

	// MQTT
	var client mqtt.Client
	if cfg.MQTTEnabled() {
		client, err = rabbitmq.NewRabbitMQConn(ctx, &cfg.MQTT)
		if err != nil {
			log.Printf("mqtt: %v; continuing without broker", err)
			client = nil
		} else {
			publisher := rabbitmq.NewPublisher(client, fmt.Sprintf("%s/%d", rabbitmq.TopicReadings, cfg.AreaID))
			defer publisher.Close()
			opts = append(opts, controller.WithPublisher(publisher))
		}
	}

	ctrl, err := controller.NewController(sup, store, cfg.AreaID, opts...)
	if err != nil {
		return err
	}
	go ctrl.Start(ctx)

	if client != nil {
		consumer := rabbitmq.NewConsumer(client, fmt.Sprintf("%s/%d", rabbitmq.TopicPumpCmd, cfg.AreaID), ctrl.HandlePumpCommand)
		go consumer.ConsumeMessage(ctx)
	}

	// HTTP
	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: persistence.NewHTTPMux(persistence.APIDeps{
			Store:   store,
			Link:    sup,
			MQTT:    client,
			Influx:  mirror,
			Metrics: metrics.Handler(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("http: listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http: %v", err)
		}
	}()

	// gRPC
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}
	grpcSrv := grpc.NewServer()
	device.RegisterDeviceServiceServer(grpcSrv, device.NewGrpcHandler(ctrl, sup))
	go func() {
		log.Printf("grpc: %s on %s", device.ServiceName, cfg.GRPC.Addr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("grpc: %v", err)
		}
	}()

	keepConnected(ctx, sup, cfg.Link, redial)

	// ---- graceful shutdown ----
	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	_ = sup.Disconnect()
	return nil
}

// keepConnected opens the link and reopens it whenever the supervisor has
// given up, until ctx is done.
func keepConnected(ctx context.Context, sup *link.Supervisor, cfg link.Config, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	dial := func() {
		if sup.State() != link.Disconnected {
			return
		}
		if err := sup.Connect(cfg); err != nil {
			log.Printf("link: %v (retrying in %s)", err, every)
		}
	}
	dial()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			dial()
		}
	}
}
