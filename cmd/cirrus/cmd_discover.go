package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/cirrus/internal/filter"
)

func newDiscoverCmd(opts *globalOptions) *cobra.Command {
	var (
		families      []string
		statuses      []string
		labels        []string
		excludeLabels []string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover resources across every family",
		Long: `Discover resources across every registered family concurrently.

A family whose adapter fails is reported as unavailable; it never hides
the results of the others.`,
		Example: `  cirrus discover                                  # Every family
  cirrus discover --family compute-service         # Only container services
  cirrus discover --status stopped --label env=dev # Stopped dev resources
  cirrus discover --offline -o json                # Demo estate as JSON`,
		RunE: func(cmd *cobra.Command, args []string) error {
			include, err := filter.ParseLabels(labels)
			if err != nil {
				return err
			}
			exclude, err := filter.ParseLabels(excludeLabels)
			if err != nil {
				return err
			}
			f, err := filter.New(filter.Options{
				Families:      filter.ParseFamilies(families),
				Statuses:      filter.ParseStatuses(statuses),
				IncludeLabels: include,
				ExcludeLabels: exclude,
			})
			if err != nil {
				return err
			}

			console, err := opts.openConsole(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = console.Close() }()

			snap := f.Apply(console.Discover(cmd.Context()))
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"resources": snap.Resources,
					"failed":    snap.Failed,
					"count":     snap.Count(),
				})
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&families, "family", "f", nil, "Only show these families")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only show these canonical statuses")
	cmd.Flags().StringArrayVarP(&labels, "label", "l", nil, "Require label key=value (repeatable)")
	cmd.Flags().StringArrayVar(&excludeLabels, "exclude-label", nil, "Hide resources with label key=value (repeatable)")
	return cmd
}
