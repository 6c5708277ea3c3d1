package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cirrus/controlplane"
	"github.com/yairfalse/cirrus/internal/config"
	"github.com/yairfalse/cirrus/internal/telemetry"
)

var version = "0.1.0"

// globalOptions are flags shared by every command.
type globalOptions struct {
	configPath string
	offline    bool
	fixtures   string
	logLevel   string
	pretty     bool
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "cirrus",
		Short: "Multi-cloud resource control plane",
		Long: `Cirrus - Multi-Cloud Resource Control Plane

Cirrus discovers compute services, databases, caches, instances, buckets,
load balancers, distributions and networks, normalizes their status, and
executes lifecycle actions against them with a full command history.

Run it as a server (cirrus serve) or use the one-shot commands below.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON:
			default:
				return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", opts.output, outputTable, outputJSON)
			}
			return nil
		},
	}
	cmd.SetVersionTemplate("Cirrus {{.Version}} - Multi-Cloud Resource Control Plane\n")

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file")
	flags.BoolVar(&opts.offline, "offline", false, "Use the in-memory offline estate instead of AWS")
	flags.StringVar(&opts.fixtures, "fixtures", "", "Offline fixtures file (implies --offline)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.BoolVar(&opts.pretty, "pretty", false, "Human-readable console logs")
	flags.StringVarP(&opts.output, "output", "o", outputTable, "Output format: table, json")

	cmd.AddCommand(
		newServeCmd(opts),
		newDiscoverCmd(opts),
		newExecCmd(opts),
		newBatchCmd(opts),
		newHistoryCmd(opts),
		newHealthCmd(opts),
		newCostCmd(opts),
		newMetricsCmd(opts),
	)
	return cmd
}

// loadConfig reads the config file and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.offline || o.fixtures != "" {
		cfg.Mode = config.ModeOffline
	}
	if o.fixtures != "" {
		cfg.Offline.Fixtures = o.fixtures
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.pretty {
		cfg.Log.Pretty = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := telemetry.SetupLogging(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openConsole builds a console for a one-shot command. Auto-discovery is
// off: the command exits before the first tick.
func (o *globalOptions) openConsole(ctx context.Context) (*controlplane.Console, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Discovery.Auto = false
	console, err := controlplane.Build(ctx, cfg, controlplane.BuildOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to build control plane: %w", err)
	}
	return console, nil
}
