package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cirrus/pkg/resource"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [command-id]",
		Short: "Show the command history, newest first",
		Long: `Show recorded commands, newest first. With a command ID, show that
command in detail. History survives restarts when a bolt or file backend
is configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			console, err := opts.openConsole(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = console.Close() }()

			if len(args) == 1 {
				c, ok := console.GetCommand(args[0])
				if !ok {
					return fmt.Errorf("command %s not found", args[0])
				}
				if opts.output == outputJSON {
					return printJSON(cmd.OutOrStdout(), c)
				}
				printCommand(cmd.OutOrStdout(), &c)
				return nil
			}

			cmds := console.GetCommandHistory()
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), cmds)
			}
			printHistory(cmd.OutOrStdout(), cmds)
			return nil
		},
	}
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Evaluate system health across the estate",
		RunE: func(cmd *cobra.Command, args []string) error {
			console, err := opts.openConsole(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = console.Close() }()

			report := console.GetSystemHealth(cmd.Context())
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printHealth(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func newCostCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cost",
		Short: "Estimate daily and monthly cost of the estate",
		RunE: func(cmd *cobra.Command, args []string) error {
			console, err := opts.openConsole(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = console.Close() }()

			analysis := console.GetCostAnalysis(cmd.Context())
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), analysis)
			}
			printCost(cmd.OutOrStdout(), analysis)
			return nil
		},
	}
}

func newMetricsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "metrics <target>",
		Short:   "Show metrics for one resource",
		Example: `  cirrus metrics managed-database/us-west-2/orders`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resource.ParseKey(args[0])
			if err != nil {
				return err
			}

			console, err := opts.openConsole(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = console.Close() }()

			r, err := console.ResolveResource(cmd.Context(), key)
			if err != nil {
				return err
			}
			m := console.GetResourceMetrics(cmd.Context(), r)
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"resource": r, "metrics": m})
			}
			printMetrics(cmd.OutOrStdout(), r, m)
			return nil
		},
	}
}
