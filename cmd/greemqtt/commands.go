package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/greemqtt/greemqtt/internal/app"
	"github.com/greemqtt/greemqtt/internal/config"
	"github.com/greemqtt/greemqtt/internal/shutdown"
	"github.com/greemqtt/greemqtt/internal/store"
	"github.com/greemqtt/greemqtt/internal/ui"
)

// Command flags
var (
	scanTimeout  time.Duration
	outputFormat string
	forceInit    bool
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// scanCmd runs one discovery pass without starting the bridge
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Gree devices on the network",
	Long: `Run a single discovery pass and print every device that answered.

Newly bound devices (and their keys) are saved to the device database, so
the next bridge start can skip the handshake for them.`,
	Example: `  # Scan the configured subnet
  greemqtt scan

  # Scan a specific subnet and print JSON
  greemqtt scan --subnet 192.168.0.0/24 --format json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 2*time.Minute, "Overall scan timeout")
	scanCmd.Flags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, closeStore, err := app.Build(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sig, stop := scanSignal(scanTimeout)
	defer stop()

	if outputFormat != "json" {
		params := ui.Params{{Key: "Subnet", Value: cfg.Subnet}}
		if len(cfg.Network) > 0 {
			params = ui.Params{{Key: "Network", Value: strings.Join(cfg.Network, ", ")}}
		}
		params = append(params, ui.Param{Key: "Concurrency", Value: strconv.Itoa(cfg.Scan.Concurrency)})
		fmt.Println(ui.NewHeader("Device scan", "greemqtt scan", params).Render())
	}

	devices, err := a.Scan(sig.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if reason := sig.Reason(); reason != "" && outputFormat != "json" {
		fmt.Printf("Scan interrupted (%s), showing devices found so far.\n", reason)
	}

	if outputFormat == "json" {
		return printJSON(devices)
	}

	if len(devices) == 0 {
		fmt.Println(ui.Notice("No devices found", []string{
			"Ensure the unit is powered and joined to your WiFi",
			"Check that UDP port 7000 is not blocked between this host and the unit",
			"Use --network to list device addresses explicitly",
		}, ui.TerminalWidth()))
		return nil
	}

	fmt.Printf("Found %d device(s):\n", len(devices))
	fmt.Println(ui.DeviceTable(devices, ui.TerminalWidth()))
	return nil
}

// scanSignal ends a scan after timeout or on SIGINT/SIGTERM, whichever comes
// first. Either way the scan returns normally, so bound keys still get saved.
func scanSignal(timeout time.Duration) (*shutdown.Signal, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sig := shutdown.New(ctx)
	stopListen := sig.Listen(os.Interrupt, syscall.SIGTERM)
	return sig, func() {
		stopListen()
		cancel()
	}
}

// devicesCmd lists the devices saved in the database
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known devices",
	Long:  `List the devices saved in the device database by earlier scans.`,
	RunE:  runDevices,
}

func init() {
	devicesCmd.Flags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	devices, err := db.ListKnown(context.Background())
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(devices)
	}

	if len(devices) == 0 {
		fmt.Println(ui.Notice("No known devices", []string{"Run 'greemqtt scan' to discover devices"}, ui.TerminalWidth()))
		return nil
	}
	fmt.Println(ui.DeviceTable(devices, ui.TerminalWidth()))
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}

		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}

		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the config file, environment
variables and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Messaging.MQTT.Password != "" {
			cfg.Messaging.MQTT.Password = "********"
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
