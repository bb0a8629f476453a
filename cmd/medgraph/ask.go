package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/medgraph"
)

func newAskCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Build the index and answer one question",
		Long: `Project the graph, build the vector index and answer a single
question. The index lives in memory, so every invocation rebuilds it; use
"medgraph serve" to answer many questions against one index.`,
		Example: `  medgraph ask "What does Glucophage treat?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Initialize(ctx); err != nil {
				return fmt.Errorf("initializing: %w", err)
			}
			ans, err := e.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), ans)
			}
			printAnswer(cmd.OutOrStdout(), ans)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func printAnswer(w io.Writer, ans *medgraph.Answer) {
	fmt.Fprintln(w, ans.Answer)
	if len(ans.SourceDocuments) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, d := range ans.SourceDocuments {
		fmt.Fprintf(w, "  [%d] %s %q (score %.3f)\n", i+1, d.Metadata.Type, d.Metadata.Name, d.Score)
		if d.Snippet != "" {
			fmt.Fprintf(w, "      %s\n", d.Snippet)
		}
	}
}
