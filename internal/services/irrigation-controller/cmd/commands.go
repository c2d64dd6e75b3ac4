package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/LeonardoBeccarini/farmtech/internal/services/device"
	controller "github.com/LeonardoBeccarini/farmtech/internal/services/irrigation-controller"
	"github.com/LeonardoBeccarini/farmtech/internal/services/persistence"
	"github.com/LeonardoBeccarini/farmtech/pkg/serialport"
	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

var (
	dbPath   string
	outPath  string
	grpcAddr string
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports of this machine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := serialport.List()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse <line>",
	Short: "Validate a telemetry line and show the pump decision (no rain)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := telemetry.Parse(args[0])
		if err != nil {
			return fmt.Errorf("rejected (%s): %w", telemetry.ReasonOf(err), err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "phosphorus:    %v\n", r.Phosphorus)
		fmt.Fprintf(out, "potassium:     %v\n", r.Potassium)
		fmt.Fprintf(out, "ph:            %.2f\n", r.PH)
		fmt.Fprintf(out, "soil humidity: %.1f%%\n", r.SoilHumidity)
		fmt.Fprintf(out, "decision:      %s (%s)\n",
			controller.Decide(r.SoilHumidity, r.Phosphorus, r.Potassium, false),
			controller.Explain(r.SoilHumidity, r.Phosphorus, r.Potassium, false))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored readings as CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := persistence.OpenStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		var w io.Writer = cmd.OutOrStdout()
		if outPath != "" && outPath != "-" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := store.ExportReadingsCSV(cmd.Context(), w)
		if err != nil {
			return err
		}
		if w != cmd.OutOrStdout() {
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d readings to %s\n", n, outPath)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete stored readings and adjustments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := persistence.OpenStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.ClearHistory(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
		return nil
	},
}

var pumpCmd = &cobra.Command{
	Use:       "pump <on|off>",
	Short:     "Switch the pump through a running controller",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *device.Client) error {
			msg, err := c.SetPump(ctx, on)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the link status of a running controller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *device.Client) error {
			m, err := c.LinkStatus(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %v\n", k+":", m[k])
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, clearCmd} {
		c.Flags().StringVar(&dbPath, "db", "farmtech.db", "sqlite database path")
	}
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file (- for stdout)")
	for _, c := range []*cobra.Command{pumpCmd, statusCmd} {
		c.Flags().StringVar(&grpcAddr, "addr", "localhost:50051", "controller gRPC address")
	}
}

func withClient(parent context.Context, fn func(context.Context, *device.Client) error) error {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", grpcAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	return fn(ctx, device.NewClient(conn))
}
