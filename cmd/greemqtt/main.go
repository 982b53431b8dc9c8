// Greemqtt bridges Gree air conditioners on the local network to MQTT.
//
// It discovers devices by probing an explicit address list or a subnet,
// binds to each one and then polls state and applies commands over the
// configured messaging backend (MQTT or Redis). Devices that are expected
// but not found are retried in the background until they appear.
//
// Usage:
//
//	greemqtt [command] [flags]
//
// Running without a command starts the bridge.
// See 'greemqtt --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/greemqtt/greemqtt/internal/app"
	"github.com/greemqtt/greemqtt/internal/config"
	"github.com/greemqtt/greemqtt/internal/logging"
	"github.com/greemqtt/greemqtt/internal/shutdown"
	"github.com/greemqtt/greemqtt/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "greemqtt",
	Short: "Gree air conditioner to MQTT bridge",
	Long: `A bridge between Gree air conditioners and an MQTT (or Redis) broker.

Devices are discovered on startup, either from an explicit address list
(--network or NETWORK) or by scanning a subnet (--subnet or SUBNET). Each
device found gets its own broker connection; its state is published under
<topic>/<device id> and commands are read from <topic>/<device id>/set.

If no command is specified, the bridge starts.`,
	Version:      version.Version,
	SilenceUsage: true,
	RunE:         runBridge,
}

// Global flags
var (
	configPath  string
	logLevel    string
	logFormat   string
	network     []string
	subnet      string
	concurrency int
	dbPath      string
	broker      string
	backend     string
	topic       string
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: <config dir>/greemqtt/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, silent)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
	rootCmd.PersistentFlags().StringSliceVar(&network, "network", nil, "Explicit device addresses (comma separated, disables subnet scan)")
	rootCmd.PersistentFlags().StringVar(&subnet, "subnet", "", "Subnet to scan in CIDR notation (default "+config.DefaultSubnet+")")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "Maximum parallel probes (default 20)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the known device database")
	rootCmd.PersistentFlags().StringVar(&broker, "broker", "", "MQTT broker host or URL")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Messaging backend (mqtt, redis)")
	rootCmd.PersistentFlags().StringVar(&topic, "topic", "", "Topic prefix (default "+config.DefaultTopic+")")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge",
	Long: `Start the bridge and keep it running until SIGINT or SIGTERM.

Discovery errors (an invalid subnet, an unreachable broker, devices that
fail to bind) are logged and do not stop the process.`,
	Example: `  # Scan the default subnet
  greemqtt run

  # Only talk to two known units
  greemqtt run --network 192.168.1.40,192.168.1.41

  # Scan a different subnet with more parallel probes
  greemqtt run --subnet 10.0.0.0/24 --concurrency 50 --log-level debug`,
	RunE: runBridge,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("greemqtt %s\n", version.Full())
	},
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sig := shutdown.New(context.Background())
	stop := sig.Listen(os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, closeStore, err := app.Build(cfg)
	if err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	defer closeStore()

	return a.Run(sig)
}

// loadConfig reads the config file, applies flag overrides and initializes
// logging from the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.Log.Format
	if logFormat != "" {
		format = logFormat
	}
	if err := logging.Initialize(level, format); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	return cfg, nil
}

// applyFlags overrides cfg with every flag the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("network") {
		cfg.Network = network
	}
	if flags.Changed("subnet") {
		cfg.Subnet = subnet
	}
	if flags.Changed("concurrency") {
		cfg.Scan.Concurrency = concurrency
	}
	if flags.Changed("db") {
		cfg.Storage.Path = dbPath
	}
	if flags.Changed("broker") {
		cfg.Messaging.MQTT.Broker = broker
	}
	if flags.Changed("backend") {
		cfg.Messaging.Backend = backend
	}
	if flags.Changed("topic") {
		cfg.Messaging.Topic = topic
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
