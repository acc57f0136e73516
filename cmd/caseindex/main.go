// Command caseindex manages the precedent corpus: it ingests JSONL case
// dumps into the SQLite index and reports index statistics.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hjwen/counsel-agent/internal/adapters/caseindex"
	"github.com/hjwen/counsel-agent/internal/adapters/embedding"
	"github.com/hjwen/counsel-agent/internal/config"
	"github.com/hjwen/counsel-agent/internal/domain"
)

const embedBatchSize = 32

func main() {
	root := &cobra.Command{
		Use:   "caseindex",
		Short: "Manage the precedent case index",
	}
	root.AddCommand(newIngestCmd(), newStatsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newIngestCmd() *cobra.Command {
	var (
		input string
		db    string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed and load a JSONL case dump into the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if db == "" {
				db = cfg.CaseIndexPath
			}

			embedder, err := buildEmbedder(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			index, err := caseindex.Open(db)
			if err != nil {
				return err
			}
			defer index.Close()

			n, err := ingest(cmd.Context(), input, embedder, index)
			if err != nil {
				return err
			}
			fmt.Printf("ingested %d cases into %s\n", n, db)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "JSONL file of case records (required)")
	cmd.Flags().StringVar(&db, "db", "", "index database path (default from config)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if db == "" {
				db = cfg.CaseIndexPath
			}

			index, err := caseindex.Open(db)
			if err != nil {
				return err
			}
			defer index.Close()

			n, err := index.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d cases\n", db, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&db, "db", "", "index database path (default from config)")
	return cmd
}

func buildEmbedder(ctx context.Context, cfg *config.Config) (domain.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "genai":
		return embedding.NewGenAIEngine(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
	case "ollama":
		return embedding.NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	}
	return nil, fmt.Errorf("COUNSEL_EMBEDDING_PROVIDER must be genai or ollama for ingestion")
}

// ingest streams the JSONL file in batches: each case's fact is embedded and
// the record inserted. Blank lines are skipped; a malformed line aborts with
// its line number.
func ingest(ctx context.Context, path string, embedder domain.Embedder, index *caseindex.SQLiteIndex) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		batch []domain.CaseRecord
		line  int
		total int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		facts := make([]string, len(batch))
		for i, rec := range batch {
			facts[i] = rec.Fact
		}
		vectors, err := embedder.EmbedBatch(ctx, facts)
		if err != nil {
			return fmt.Errorf("embedding batch ending at line %d: %w", line, err)
		}
		for i, rec := range batch {
			if err := index.Insert(ctx, rec, vectors[i]); err != nil {
				return err
			}
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec domain.CaseRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Fact == "" {
			return total, fmt.Errorf("line %d: empty fact", line)
		}

		batch = append(batch, rec)
		if len(batch) == embedBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
