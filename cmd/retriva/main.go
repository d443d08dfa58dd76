package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/retriva/retriva/pkg/embcache"
	"github.com/retriva/retriva/pkg/semcache"
	"github.com/retriva/retriva/pkg/store"
)

var (
	dbPath     string
	configPath string
	dimensions int
	verbose    bool
)

// fileConfig is the optional YAML configuration file. Flags override it.
type fileConfig struct {
	Path      string            `yaml:"path"`
	Dimension int               `yaml:"dimension"`
	Index     store.IndexConfig `yaml:"index"`
	Cache     struct {
		TTL      time.Duration `yaml:"ttl"`
		Capacity int           `yaml:"capacity"`
	} `yaml:"cache"`
}

func loadFileConfig() (*fileConfig, error) {
	cfg := &fileConfig{Index: store.DefaultIndexConfig()}
	if configPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return cfg, nil
}

func openStore() (*store.Store, error) {
	fc, err := loadFileConfig()
	if err != nil {
		return nil, err
	}
	path := dbPath
	if path == "" {
		path = fc.Path
	}
	if path == "" {
		path = "retriva.db"
	}

	cfg := store.DefaultConfig(path)
	cfg.Index = fc.Index
	if dimensions > 0 {
		cfg.DefaultDimension = dimensions
	} else if fc.Dimension > 0 {
		cfg.DefaultDimension = fc.Dimension
	}
	if verbose {
		cfg.Logger = store.NewStdLogger(store.LevelDebug)
	}

	s, err := store.NewWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := s.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return s, nil
}

func openSemCache(ctx context.Context, s *store.Store) (*semcache.Cache, error) {
	fc, err := loadFileConfig()
	if err != nil {
		return nil, err
	}
	cfg := semcache.Config{TTL: fc.Cache.TTL}
	if verbose {
		cfg.Logger = store.NewStdLogger(store.LevelDebug)
	}
	return semcache.Open(ctx, s.DB(), cfg)
}

func parseVector(raw string) ([]float32, error) {
	parts := strings.Split(raw, ",")
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

var rootCmd = &cobra.Command{
	Use:   "retriva",
	Short: "Hybrid semantic retrieval over SQLite",
	Long:  `Manage documents, chunk embeddings and caches for hybrid vector + keyword retrieval.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new retrieval database",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx := context.Background()
		if _, err := embcache.Open(ctx, s.DB(), embcache.Config{}); err != nil {
			return err
		}
		if _, err := openSemCache(ctx, s); err != nil {
			return err
		}
		fmt.Println("Retrieval database initialized")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		stats, err := s.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Documents:  %d\n", stats.Documents)
		fmt.Printf("Chunks:     %d\n", stats.Chunks)
		for name, count := range stats.Embedders {
			fmt.Printf("Embedder:   %s (%d chunks)\n", name, count)
		}
		return nil
	},
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage documents",
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		docs, err := s.ListDocuments(context.Background())
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("%s\t%s\n", doc.ID, doc.Title)
		}
		if len(docs) == 0 {
			fmt.Println("No documents")
		}
		return nil
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.DeleteDocument(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted document %s\n", args[0])
		return nil
	},
}

var docShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx := context.Background()
		doc, err := s.GetDocument(ctx, args[0])
		if err != nil {
			return err
		}
		chunks, err := s.GetChunksByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%d chunk(s)\n", doc.ID, doc.Title, len(chunks))
		for _, c := range chunks {
			fmt.Printf("  [%d] %s\n", c.ChunkIndex, c.Content)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query text]",
	Short: "Search chunks by vector, keywords, or both",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		embedder, _ := cmd.Flags().GetString("embedder")
		modeStr, _ := cmd.Flags().GetString("mode")
		alpha, _ := cmd.Flags().GetFloat64("alpha")
		limit, _ := cmd.Flags().GetInt("limit")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		docFilter, _ := cmd.Flags().GetStringSlice("doc")
		asJSON, _ := cmd.Flags().GetBool("json")

		var queryText string
		if len(args) == 1 {
			queryText = args[0]
		}
		var queryVec []float32
		if vectorStr != "" {
			var err error
			queryVec, err = parseVector(vectorStr)
			if err != nil {
				return err
			}
		}

		var mode store.SearchMode
		switch modeStr {
		case "vector":
			mode = store.VectorOnly()
		case "lexical":
			mode = store.LexicalOnly()
		case "hybrid":
			var err error
			mode, err = store.Hybrid(alpha)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown mode %q (want vector, lexical or hybrid)", modeStr)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		opts := store.SearchOptions{Threshold: threshold, Limit: limit, DocumentFilter: docFilter}
		results, err := s.HybridSearch(context.Background(), queryText, queryVec, embedder, mode, opts)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for i, r := range results {
			fmt.Printf("%d. [%.4f] %s (doc %s, chunk %d)\n",
				i+1, r.CombinedScore, r.Content, r.DocumentID, r.ChunkIndex)
		}
		if len(results) == 0 {
			fmt.Println("No results")
		}
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage vector indexes",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild <embedder>",
	Short: "Rebuild the vector index for an embedder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		start := time.Now()
		if err := s.RebuildIndex(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Index rebuilt for %s in %s\n", args[0], time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the embedding and semantic caches",
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired semantic cache entries",
	Long: `Removes expired entries once, or repeatedly on a cron schedule when
--every is set (e.g. --every "@hourly" or --every "0 3 * * *").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, _ := cmd.Flags().GetString("every")

		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx := context.Background()
		sc, err := openSemCache(ctx, s)
		if err != nil {
			return err
		}

		sweep := func() {
			n, err := sc.Sweep(ctx)
			if err != nil {
				log.Printf("sweep failed: %v", err)
				return
			}
			fmt.Printf("Removed %d expired entries\n", n)
		}

		if schedule == "" {
			sweep()
			return nil
		}

		c := cron.New()
		if _, err := c.AddFunc(schedule, sweep); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		c.Start()
		defer c.Stop()
		fmt.Printf("Sweeping on schedule %q, Ctrl-C to stop\n", schedule)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return nil
	},
}

var cacheResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear both cache layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx := context.Background()
		ec, err := embcache.Open(ctx, s.DB(), embcache.Config{})
		if err != nil {
			return err
		}
		sc, err := openSemCache(ctx, s)
		if err != nil {
			return err
		}
		if err := ec.Reset(ctx); err != nil {
			return err
		}
		if err := sc.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("Caches cleared")
		return nil
	},
}

func init() {
	// A .env alongside the binary can set defaults like RETRIVA_DB.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", os.Getenv("RETRIVA_DB"), "Database file path")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RETRIVA_CONFIG"), "YAML config file path")
	rootCmd.PersistentFlags().IntVarP(&dimensions, "dimensions", "n", 0, "Default vector dimensions (0 for auto)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	searchCmd.Flags().String("vector", "", "Query vector as comma-separated floats")
	searchCmd.Flags().String("embedder", "", "Embedder name the query vector belongs to")
	searchCmd.Flags().String("mode", "hybrid", "Search mode: vector, lexical or hybrid")
	searchCmd.Flags().Float64("alpha", 0.5, "Hybrid weight on the vector side (0..1)")
	searchCmd.Flags().Int("limit", 10, "Maximum results")
	searchCmd.Flags().Float64("threshold", 0, "Minimum vector similarity")
	searchCmd.Flags().StringSlice("doc", nil, "Restrict results to the given document IDs")
	searchCmd.Flags().Bool("json", false, "Emit results as JSON")

	cacheSweepCmd.Flags().String("every", "", "Cron schedule for periodic sweeping")

	docCmd.AddCommand(docListCmd, docShowCmd, docDeleteCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	cacheCmd.AddCommand(cacheSweepCmd, cacheResetCmd)

	rootCmd.AddCommand(initCmd, statsCmd, docCmd, searchCmd, indexCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
