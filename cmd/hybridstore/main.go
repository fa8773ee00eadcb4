package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vim89/hybridstore/pkg/core"
	"github.com/vim89/hybridstore/pkg/hybrid"
	"github.com/vim89/hybridstore/pkg/hybridstore"
)

var (
	configPath string
	backend    string
	dbPath     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hybridstore",
	Short: "CLI for hybrid vector and keyword search storage",
	Long:  `A command-line interface for managing embeddings and documents across the sqlite, postgres, and qdrant backends, with hybrid retrieval.`,
}

func loadConfig() (hybridstore.Config, error) {
	cfg := hybridstore.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = hybridstore.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if dbPath != "" {
		cfg.SQLite.Path = dbPath
	}
	return cfg, nil
}

func newLogger() core.Logger {
	if verbose {
		return core.NewLoggerWithLevel(os.Stderr, "debug")
	}
	return core.NewLogger(os.Stderr)
}

func openStore(ctx context.Context) (core.VectorStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return hybridstore.OpenVectorStore(ctx, cfg, newLogger())
}

func parseVector(s string) ([]float32, error) {
	if s == "" {
		return nil, fmt.Errorf("vector is required")
	}
	parts := strings.Split(s, ",")
	vector := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		vector = append(vector, float32(val))
	}
	return vector, nil
}

func parseMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	metadata := make(map[string]string)
	if err := json.Unmarshal([]byte(s), &metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata JSON: %w", err)
	}
	return metadata, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the configured backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		cfg, _ := loadConfig()
		fmt.Printf("Store initialized (backend: %s)\n", cfg.Backend)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or update a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		content, _ := cmd.Flags().GetString("content")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		vector, err := parseVector(vectorStr)
		if err != nil {
			return err
		}
		metadata, err := parseMetadata(metadataStr)
		if err != nil {
			return err
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		rec := &core.VectorRecord{
			ID:       args[0],
			Vector:   vector,
			Content:  content,
			Metadata: metadata,
		}
		if err := store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("failed to add record: %w", err)
		}
		fmt.Printf("Record '%s' added\n", rec.ID)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search by vector similarity",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		topK, _ := cmd.Flags().GetInt("top-k")

		vector, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		results, err := store.Search(ctx, vector, topK, nil)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		printScored(results)
		return nil
	},
}

var hybridCmd = &cobra.Command{
	Use:   "hybrid <query text>",
	Short: "Hybrid search fusing vector similarity and keyword relevance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		topK, _ := cmd.Flags().GetInt("top-k")
		strategyName, _ := cmd.Flags().GetString("strategy")
		vectorWeight, _ := cmd.Flags().GetFloat64("vector-weight")
		keywordWeight, _ := cmd.Flags().GetFloat64("keyword-weight")

		var vector []float32
		if vectorStr != "" {
			var err error
			vector, err = parseVector(vectorStr)
			if err != nil {
				return err
			}
		}

		var strategy hybrid.Strategy
		switch strategyName {
		case "vector":
			strategy = hybrid.VectorOnly{}
		case "keyword":
			strategy = hybrid.KeywordOnly{}
		case "rrf":
			strategy = hybrid.RRF{}
		case "weighted":
			strategy = hybrid.Weighted{VectorWeight: vectorWeight, KeywordWeight: keywordWeight}
		default:
			return fmt.Errorf("unknown strategy %q (supported: vector, keyword, rrf, weighted)", strategyName)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		searcher, err := hybridstore.OpenHybrid(ctx, cfg, newLogger())
		if err != nil {
			return fmt.Errorf("failed to open searcher: %w", err)
		}
		defer searcher.Close()

		results, err := searcher.Search(ctx, vector, args[0], topK, strategy, nil)
		if err != nil {
			return fmt.Errorf("hybrid search failed: %w", err)
		}
		for i, r := range results {
			fmt.Printf("%d. %s (score: %.4f)\n", i+1, r.ID, r.Score)
			if r.Content != "" {
				fmt.Printf("   %s\n", truncate(r.Content, 100))
			}
		}
		if len(results) == 0 {
			fmt.Println("No results")
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		fmt.Printf("Records: %d\n", stats.Count)
		for dim, count := range stats.Dimensions {
			fmt.Printf("  %d dimensions: %d\n", dim, count)
		}
		if stats.StorageBytes > 0 {
			fmt.Printf("Storage: %d bytes\n", stats.StorageBytes)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record by ID or prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		byPrefix, _ := cmd.Flags().GetBool("prefix")

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		if byPrefix {
			deleted, err := store.DeleteByPrefix(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to delete records: %w", err)
			}
			fmt.Printf("Deleted %d records\n", deleted)
			return nil
		}
		if err := store.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		fmt.Printf("Record '%s' deleted\n", args[0])
		return nil
	},
}

func printScored(results []core.ScoredRecord) {
	for i, r := range results {
		fmt.Printf("%d. %s (score: %.4f)\n", i+1, r.ID, r.Score)
		if r.Content != "" {
			fmt.Printf("   %s\n", truncate(r.Content, 100))
		}
	}
	if len(results) == 0 {
		fmt.Println("No results")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "backend override (sqlite, postgres, qdrant)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	addCmd.Flags().String("vector", "", "comma-separated embedding values")
	addCmd.Flags().String("content", "", "record content")
	addCmd.Flags().String("metadata", "", "metadata as JSON object")

	searchCmd.Flags().String("vector", "", "comma-separated query embedding")
	searchCmd.Flags().Int("top-k", 10, "maximum results")

	hybridCmd.Flags().String("vector", "", "comma-separated query embedding")
	hybridCmd.Flags().Int("top-k", 10, "maximum results")
	hybridCmd.Flags().String("strategy", "rrf", "fusion strategy (vector, keyword, rrf, weighted)")
	hybridCmd.Flags().Float64("vector-weight", 0.7, "vector weight for the weighted strategy")
	hybridCmd.Flags().Float64("keyword-weight", 0.3, "keyword weight for the weighted strategy")

	deleteCmd.Flags().Bool("prefix", false, "delete all records with this ID prefix")

	rootCmd.AddCommand(initCmd, addCmd, searchCmd, hybridCmd, statsCmd, deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
