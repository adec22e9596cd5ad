package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codegraph/internal/config"
	"codegraph/internal/embedder"
	"codegraph/internal/indexer"
	"codegraph/internal/searcher"
	"codegraph/internal/storage"
	"codegraph/internal/traversal"
	"codegraph/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.SQLiteStore
	embedder embedder.Embedder
	searcher *searcher.Searcher
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		embedder: emb,
		searcher: searcher.New(store, emb, logger),
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	var (
		repoURL string
		branch  string
	)

	rootCmd := &cobra.Command{
		Use:   "codegraph",
		Short: "code knowledge graph: index repositories, search and traverse entities",
	}
	rootCmd.PersistentFlags().StringVar(&repoURL, "repo", "", "repository URL or local path")
	rootCmd.PersistentFlags().StringVar(&branch, "branch", "main", "branch name")

	var (
		force       bool
		skipTests   bool
		copyToTemp  bool
		onEmbedFail string
	)
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "index a repository into the knowledge graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoURL == "" {
				return fmt.Errorf("--repo is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			idx := indexer.New(a.store, a.embedder, &indexer.LocalProvider{CopyToTemp: copyToTemp}, a.searcher, a.logger)

			policy := indexer.FailurePolicy(a.cfg.OnEmbeddingFailure)
			if onEmbedFail != "" {
				policy = indexer.FailurePolicy(onEmbedFail)
			}

			report, err := idx.Index(ctx, repoURL, branch, indexer.Options{
				Workers:            a.cfg.Workers,
				EmbedBatchSize:     a.cfg.EmbedBatchSize,
				OnEmbeddingFailure: policy,
				SkipTests:          skipTests,
				Force:              force,
			})
			if err != nil {
				return err
			}
			printReport(cmd, report)
			return nil
		},
	}
	indexCmd.Flags().BoolVar(&force, "force", false, "re-index even when the commit is unchanged")
	indexCmd.Flags().BoolVar(&skipTests, "skip-tests", false, "exclude _test.go files")
	indexCmd.Flags().BoolVar(&copyToTemp, "copy", false, "index a temp copy of the tree instead of in place")
	indexCmd.Flags().StringVar(&onEmbedFail, "on-embedding-failure", "", "abort or skip (default from environment)")

	var (
		mode          string
		limit         int
		minSimilarity float64
	)
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "search indexed entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoURL == "" {
				return fmt.Errorf("--repo is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			repo, err := a.store.GetRepositoryByKey(ctx, types.NormalizeRepoKey(repoURL, branch))
			if err != nil {
				return fmt.Errorf("repository not indexed: %w", err)
			}

			resp, err := a.searcher.Search(ctx, searcher.SearchRequest{
				Query:         args[0],
				RepositoryID:  repo.ID,
				Limit:         limit,
				Mode:          searcher.SearchMode(mode),
				MinSimilarity: minSimilarity,
			})
			if err != nil {
				return err
			}

			cmd.Printf("%d results (%s, %s)\n", resp.TotalResults, resp.SearchMode, resp.Duration.Round(time.Millisecond))
			for _, r := range resp.Results {
				cmd.Printf("%3d. [%s %.2f] %s %s\n", r.Rank, r.MatchType, r.SimilarityScore, r.EntityType, r.FullyQualifiedName)
				if r.FilePath != "" {
					cmd.Printf("       %s\n", r.FilePath)
				}
			}
			return nil
		},
	}
	searchCmd.Flags().StringVar(&mode, "mode", string(searcher.SearchModeHybrid), "hybrid, exact, fuzzy or semantic")
	searchCmd.Flags().IntVar(&limit, "limit", searcher.DefaultLimit, "maximum results")
	searchCmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "semantic relevance floor")

	var (
		edgeList  string
		direction string
		depth     int
	)
	expandCmd := &cobra.Command{
		Use:   "expand <node-id>",
		Short: "expand graph relationships from a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoURL == "" {
				return fmt.Errorf("--repo is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			repo, err := a.store.GetRepositoryByKey(ctx, types.NormalizeRepoKey(repoURL, branch))
			if err != nil {
				return fmt.Errorf("repository not indexed: %w", err)
			}

			var edgeTypes []types.EdgeType
			for _, raw := range strings.Split(edgeList, ",") {
				if raw = strings.TrimSpace(raw); raw != "" {
					edgeTypes = append(edgeTypes, types.EdgeType(strings.ToUpper(raw)))
				}
			}

			tr := traversal.New(a.store, a.logger)
			resp, err := tr.Expand(ctx, traversal.ExpandRequest{
				RepositoryID: repo.ID,
				StartID:      args[0],
				EdgeTypes:    edgeTypes,
				Direction:    types.Direction(strings.ToUpper(direction)),
				MaxDepth:     depth,
			})
			if err != nil {
				return err
			}

			cmd.Printf("%s (%s)\n", resp.Start.FullyQualifiedName, resp.Start.Kind)
			for _, n := range resp.Nodes {
				cmd.Printf("%s[%d] %s %s\n", strings.Repeat("  ", n.Depth), n.Depth, n.Node.Kind, n.Node.FullyQualifiedName)
			}
			cmd.Printf("%d nodes, %d edges\n", len(resp.Nodes), len(resp.Edges))
			return nil
		},
	}
	expandCmd.Flags().StringVar(&edgeList, "edges", "CALLS,USES", "comma-separated edge types to follow")
	expandCmd.Flags().StringVar(&direction, "direction", string(types.DirectionOut), "OUT, IN or BOTH")
	expandCmd.Flags().IntVar(&depth, "depth", traversal.DefaultMaxDepth, "maximum traversal depth")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show indexed repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			repos, err := a.store.ListRepositories(ctx)
			if err != nil {
				return err
			}
			if repoURL != "" {
				key := types.NormalizeRepoKey(repoURL, branch)
				repos = filterRepos(repos, key)
			}
			if len(repos) == 0 {
				cmd.Println("no repositories indexed")
				return nil
			}

			for _, repo := range repos {
				status, err := a.store.GetStatus(ctx, repo.ID)
				if err != nil {
					return err
				}
				cmd.Printf("%s#%s  %s\n", repo.URL, repo.Branch, repo.State)
				if repo.LastIndexedCommit != "" {
					cmd.Printf("  commit:   %.12s (%s)\n", repo.LastIndexedCommit, repo.LastIndexedAt.Format(time.RFC3339))
				}
				cmd.Printf("  entities: %d (%d embedded, %d placeholder)\n",
					status.NodeCount, status.EmbeddedCount, status.PlaceholderRef)
				cmd.Printf("  edges:    %d\n", status.EdgeCount)
			}
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "delete all indexed data for a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoURL == "" {
				return fmt.Errorf("--repo is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			repo, err := a.store.GetRepositoryByKey(ctx, types.NormalizeRepoKey(repoURL, branch))
			if err != nil {
				return fmt.Errorf("repository not indexed: %w", err)
			}
			if err := a.store.DeleteRepositoryData(ctx, repo.ID); err != nil {
				return err
			}
			a.searcher.InvalidateCache()
			cmd.Printf("removed all graph data for %s#%s\n", repo.URL, repo.Branch)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("codegraph %s (built %s)\n", version, buildTime)
			cmd.Printf("build mode: %s, driver: %s, vector extension: %v\n",
				storage.BuildMode, storage.DriverName, storage.VectorExtensionAvailable)
		},
	}

	rootCmd.AddCommand(indexCmd, searchCmd, expandCmd, statusCmd, removeCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printReport(cmd *cobra.Command, report *indexer.Report) {
	if report.Skipped {
		cmd.Printf("skipped: %s\n", report.SkipReason)
		return
	}
	cmd.Printf("indexed commit %.12s in %dms\n", report.Commit, report.DurationMs)
	cmd.Printf("  files:         %d (%d failed)\n", report.FilesProcessed, report.FilesFailed)
	cmd.Printf("  entities:      %d\n", report.EntitiesCreated)
	cmd.Printf("  relationships: %d\n", report.RelationshipsCreated)
	cmd.Printf("  embeddings:    %d\n", report.EmbeddingsGenerated)
	for _, msg := range report.Errors {
		cmd.Printf("  error: %s\n", msg)
	}
}

func filterRepos(repos []*types.Repository, key string) []*types.Repository {
	var out []*types.Repository
	for _, r := range repos {
		if types.NormalizeRepoKey(r.URL, r.Branch) == key {
			out = append(out, r)
		}
	}
	return out
}
