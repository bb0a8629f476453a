package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/medgraph"
)

func newIngestCmd(a *app) *cobra.Command {
	var files medgraph.IngestFiles
	var clear bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load drug, entity and relation files into the graph",
		Long: `Load input files into the knowledge graph. Drugs are loaded first,
then NER entity mentions, then relation triples, so triples can resolve
their endpoints. Every write is an upsert and runs can be repeated.`,
		Example: `  medgraph ingest --drugs drugs.ndjson --entities ner.ndjson --triples triples.csv
  medgraph ingest --clear --triples triples.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(files.Drugs)+len(files.Entities)+len(files.Triples) == 0 && !clear {
				return errors.New("nothing to ingest: pass --drugs, --entities or --triples")
			}
			ctx := cmd.Context()

			lock, err := acquireIngestLock(ingestLockPath(a.cfg.Graph))
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if clear {
				if err := e.ClearGraph(ctx); err != nil {
					return fmt.Errorf("clearing graph: %w", err)
				}
			}
			rep, err := e.Ingest(ctx, files)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&files.Drugs, "drugs", nil, "drug NDJSON file(s)")
	f.StringSliceVar(&files.Entities, "entities", nil, "NER entity NDJSON file(s)")
	f.StringSliceVar(&files.Triples, "triples", nil, "relation triple CSV or XLSX file(s)")
	f.BoolVar(&clear, "clear", false, "delete every node and relationship first")
	return cmd
}

// ingestLockPath places the lock next to the SQLite file. Neo4j graphs
// share one lock per host.
func ingestLockPath(g medgraph.GraphConfig) string {
	if g.Backend == medgraph.BackendNeo4j {
		return filepath.Join(os.TempDir(), "medgraph-neo4j.ingest.lock")
	}
	return g.ResolvedDBPath() + ".ingest.lock"
}

// acquireIngestLock takes an exclusive, non-blocking file lock so two
// ingestion runs never interleave writes.
func acquireIngestLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another ingestion is in progress (%s)", path)
	}
	return lock, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
