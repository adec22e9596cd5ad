package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codegraph/internal/embedder"
	"codegraph/internal/extractor"
	"codegraph/internal/storage"
	"codegraph/pkg/types"
)

var (
	// ErrIndexInProgress is returned when a repository is already being
	// indexed. Callers fail fast instead of queueing.
	ErrIndexInProgress = errors.New("indexing already in progress")
	// ErrTooManyFailures is returned when the per-file failure ratio
	// exceeds MaxFailureRatio. The stored commit is not advanced.
	ErrTooManyFailures = errors.New("too many file failures")
)

// FailurePolicy controls how an embedding batch failure is handled.
type FailurePolicy string

const (
	// FailAbort stops the run; the repository keeps its previous state
	// and commit fingerprint.
	FailAbort FailurePolicy = "abort"
	// FailSkip stores the affected nodes without vectors and continues.
	// Structural search still works for them; semantic search does not.
	FailSkip FailurePolicy = "skip"
)

// DefaultMaxFailureRatio is the fraction of files allowed to fail
// before the whole run is considered failed.
const DefaultMaxFailureRatio = 0.2

// Options configures a single indexing run.
type Options struct {
	Workers            int           // extraction concurrency (default: NumCPU)
	EmbedBatchSize     int           // texts per embedding call (default: provider max)
	MaxFailureRatio    float64       // default DefaultMaxFailureRatio
	OnEmbeddingFailure FailurePolicy // default FailAbort
	SkipTests          bool          // exclude _test.go files
	Force              bool          // re-index even when the commit is unchanged
}

// Report summarizes one indexing run. Errors carries per-file failures
// that did not abort the run.
type Report struct {
	RepositoryID         string
	Commit               string
	FilesProcessed       int
	FilesFailed          int
	EntitiesCreated      int
	RelationshipsCreated int
	EmbeddingsGenerated  int
	DurationMs           int64
	Skipped              bool
	SkipReason           string
	Errors               []string
}

// CacheInvalidator drops cached query responses after the graph
// changes. The searcher satisfies this.
type CacheInvalidator interface {
	InvalidateCache()
}

// Indexer coordinates the pipeline: acquire workspace -> extract ->
// describe+embed -> persist -> advance commit fingerprint.
type Indexer struct {
	store       storage.Store
	embedder    embedder.Embedder
	workspaces  WorkspaceProvider
	extractor   *extractor.Extractor
	invalidator CacheInvalidator
	logger      *zap.Logger
	locks       *lockTable
}

// New creates an Indexer. invalidator may be nil.
func New(store storage.Store, emb embedder.Embedder, workspaces WorkspaceProvider, invalidator CacheInvalidator, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		store:       store,
		embedder:    emb,
		workspaces:  workspaces,
		extractor:   extractor.New(),
		invalidator: invalidator,
		logger:      logger,
		locks:       newLockTable(),
	}
}

// Index runs the full pipeline for one repository and branch. When the
// stored commit fingerprint matches the workspace HEAD and Force is not
// set, the run is skipped and the report says why. On any failure the
// repository keeps its previous state and fingerprint, so a later run
// starts from a consistent record.
func (idx *Indexer) Index(ctx context.Context, url, branch string, opts Options) (*Report, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("repository URL is required")
	}
	if branch == "" {
		branch = "main"
	}
	normalizeOptions(&opts)
	start := time.Now()

	ws, err := idx.workspaces.Acquire(ctx, url, branch)
	if err != nil {
		return nil, fmt.Errorf("acquire workspace: %w", err)
	}
	defer func() { _ = ws.Release() }()

	repo, err := idx.getOrCreateRepository(ctx, url, branch)
	if err != nil {
		return nil, err
	}

	lock := idx.locks.get(repo.ID)
	if !lock.tryAcquire() {
		return nil, fmt.Errorf("%w: repository %s", ErrIndexInProgress, repo.ID)
	}
	defer lock.release()

	report := &Report{RepositoryID: repo.ID}

	head, err := ws.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve workspace head: %w", err)
	}
	report.Commit = head

	if !opts.Force && repo.State == types.StateIndexed && repo.LastIndexedCommit == head {
		report.Skipped = true
		report.SkipReason = fmt.Sprintf("commit %s already indexed", shortCommit(head))
		report.DurationMs = time.Since(start).Milliseconds()
		idx.logger.Info("index skipped",
			zap.String("repository_id", repo.ID),
			zap.String("commit", shortCommit(head)))
		return report, nil
	}

	prevState := repo.State
	prevCommit := repo.LastIndexedCommit
	repo.State = types.StateIndexing
	if err := idx.store.UpdateRepository(ctx, repo); err != nil {
		return nil, fmt.Errorf("mark repository indexing: %w", err)
	}

	if runErr := idx.run(ctx, ws, repo, opts, report); runErr != nil {
		repo.State = prevState
		repo.LastIndexedCommit = prevCommit
		if err := idx.store.UpdateRepository(context.WithoutCancel(ctx), repo); err != nil {
			idx.logger.Error("restore repository state after failed run",
				zap.String("repository_id", repo.ID), zap.Error(err))
		}
		report.DurationMs = time.Since(start).Milliseconds()
		return report, runErr
	}

	repo.State = types.StateIndexed
	repo.LastIndexedCommit = head
	repo.LastIndexedAt = time.Now().UTC()
	if err := idx.store.UpdateRepository(ctx, repo); err != nil {
		return report, fmt.Errorf("advance commit fingerprint: %w", err)
	}

	if idx.invalidator != nil {
		idx.invalidator.InvalidateCache()
	}

	report.DurationMs = time.Since(start).Milliseconds()
	idx.logger.Info("index complete",
		zap.String("repository_id", repo.ID),
		zap.String("commit", shortCommit(head)),
		zap.Int("files", report.FilesProcessed),
		zap.Int("entities", report.EntitiesCreated),
		zap.Int("relationships", report.RelationshipsCreated),
		zap.Int("embeddings", report.EmbeddingsGenerated),
		zap.Int64("duration_ms", report.DurationMs))
	return report, nil
}

// run executes extraction, embedding and persistence. The caller owns
// state transitions and fingerprint updates.
func (idx *Indexer) run(ctx context.Context, ws Workspace, repo *types.Repository, opts Options, report *Report) error {
	files, err := discoverFiles(ws.Path(), opts.SkipTests)
	if err != nil {
		return fmt.Errorf("discover files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	extractions, err := idx.extractAll(ctx, ws.Path(), repo.ID, files, opts, report)
	if err != nil {
		return err
	}

	if float64(report.FilesFailed) > opts.MaxFailureRatio*float64(len(files)) {
		return fmt.Errorf("%w: %d of %d files failed", ErrTooManyFailures, report.FilesFailed, len(files))
	}

	if err := idx.embedAll(ctx, extractions, opts, report); err != nil {
		return err
	}

	for _, ext := range extractions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := idx.persist(ctx, ext, report); err != nil {
			return err
		}
	}
	return nil
}

// getOrCreateRepository resolves the repository record by normalized
// key, creating it on first sight.
func (idx *Indexer) getOrCreateRepository(ctx context.Context, url, branch string) (*types.Repository, error) {
	key := types.NormalizeRepoKey(url, branch)
	repo, err := idx.store.GetRepositoryByKey(ctx, key)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup repository: %w", err)
	}

	repo = &types.Repository{
		ID:     uuid.NewString(),
		URL:    url,
		Branch: branch,
		State:  types.StateNotIndexed,
	}
	if err := idx.store.CreateRepository(ctx, repo); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Lost a creation race; the winner's record is authoritative.
			return idx.store.GetRepositoryByKey(ctx, key)
		}
		return nil, fmt.Errorf("create repository: %w", err)
	}
	return repo, nil
}

// extractAll parses files concurrently. Per-file failures are recorded
// in the report and do not stop other files; only cancellation aborts.
func (idx *Indexer) extractAll(ctx context.Context, root, repositoryID string, files []string, opts Options, report *Report) ([]*types.Extraction, error) {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, opts.Workers)

	var mu sync.Mutex
	extractions := make([]*types.Extraction, 0, len(files))

	for _, path := range files {
		path := path
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			src, err := os.ReadFile(path)
			if err != nil {
				mu.Lock()
				report.FilesProcessed++
				report.FilesFailed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
				mu.Unlock()
				return nil
			}

			ext, err := idx.extractor.Extract(src, rel, repositoryID)

			mu.Lock()
			defer mu.Unlock()
			report.FilesProcessed++
			if err != nil {
				report.FilesFailed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
				return nil
			}
			if ext.HasFailures() {
				// Partial extraction is kept; the file still counts as failed.
				report.FilesFailed++
				for _, f := range ext.Failures {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", f.File, f.Cause))
				}
			}
			extractions = append(extractions, ext)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return extractions, nil
}

// embedAll renders every declared node into its description text and
// generates vectors in batches. Placeholders are never embedded; they
// carry no content worth a vector.
func (idx *Indexer) embedAll(ctx context.Context, extractions []*types.Extraction, opts Options, report *Report) error {
	var nodes []*types.Node
	var texts []string
	for _, ext := range extractions {
		names := nodeNames(ext)
		for i := range ext.Nodes {
			n := &ext.Nodes[i]
			supertypes := relatedNames(ext, n.ID, names, types.EdgeExtends, types.EdgeImplements)
			members := relatedNames(ext, n.ID, names, types.EdgeHasMethod, types.EdgeHasField)
			nodes = append(nodes, n)
			texts = append(texts, embedder.Describe(*n, supertypes, members))
		}
	}

	for start := 0; start < len(nodes); start += opts.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+opts.EmbedBatchSize, len(nodes))

		resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
			Texts: texts[start:end],
		})
		if err != nil {
			if opts.OnEmbeddingFailure == FailSkip {
				idx.logger.Warn("embedding batch failed, storing nodes without vectors",
					zap.Int("batch_start", start), zap.Error(err))
				report.Errors = append(report.Errors, fmt.Sprintf("embedding batch at %d: %v", start, err))
				continue
			}
			return fmt.Errorf("embedding batch at %d: %w", start, err)
		}

		for i, emb := range resp.Embeddings {
			nodes[start+i].Embedding = emb.Vector
			nodes[start+i].Dimension = emb.Dimension
			report.EmbeddingsGenerated++
		}
	}
	return nil
}

// persist writes one file's extraction in a single transaction.
// Placeholders go first so every edge endpoint resolves; declarations
// from other files overwrite them whenever they land.
func (idx *Indexer) persist(ctx context.Context, ext *types.Extraction, report *Report) error {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(ext.Placeholders) > 0 {
		if err := tx.UpsertPlaceholderNodes(ctx, ext.Placeholders); err != nil {
			return fmt.Errorf("store placeholders: %w", err)
		}
	}
	if len(ext.Nodes) > 0 {
		if err := tx.UpsertNodes(ctx, ext.Nodes); err != nil {
			return fmt.Errorf("store nodes: %w", err)
		}
	}
	if len(ext.Edges) > 0 {
		if err := tx.UpsertEdges(ctx, ext.Edges); err != nil {
			return fmt.Errorf("store edges: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	report.EntitiesCreated += len(ext.Nodes)
	report.RelationshipsCreated += len(ext.Edges)
	return nil
}

func normalizeOptions(o *Options) {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.EmbedBatchSize <= 0 || o.EmbedBatchSize > embedder.MaxBatchSize {
		o.EmbedBatchSize = embedder.MaxBatchSize
	}
	if o.MaxFailureRatio <= 0 {
		o.MaxFailureRatio = DefaultMaxFailureRatio
	}
	if o.OnEmbeddingFailure == "" {
		o.OnEmbeddingFailure = FailAbort
	}
}

// discoverFiles finds the Go files under root, skipping vendor trees
// and hidden directories.
func discoverFiles(root string, skipTests bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		if skipTests && strings.HasSuffix(path, "_test.go") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// nodeNames maps every node ID in the extraction, placeholders
// included, to its display name.
func nodeNames(ext *types.Extraction) map[string]string {
	names := make(map[string]string, len(ext.Nodes)+len(ext.Placeholders))
	for _, n := range ext.Nodes {
		names[n.ID] = n.Name
	}
	for _, n := range ext.Placeholders {
		if _, ok := names[n.ID]; !ok {
			names[n.ID] = n.Name
		}
	}
	return names
}

// relatedNames resolves the names of direct out-neighbors over the
// given edge types, in edge order.
func relatedNames(ext *types.Extraction, nodeID string, names map[string]string, edgeTypes ...types.EdgeType) []string {
	var out []string
	for _, e := range ext.Edges {
		if e.FromID != nodeID {
			continue
		}
		for _, et := range edgeTypes {
			if e.Type == et {
				if name, ok := names[e.ToID]; ok {
					out = append(out, name)
				}
				break
			}
		}
	}
	return out
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
