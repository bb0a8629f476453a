package main

import (
	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var system bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print node and relationship counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if system {
				st, err := e.SystemStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			}
			stats, err := e.GraphStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().BoolVar(&system, "system", false, "print connectivity and index status instead")
	return cmd
}
