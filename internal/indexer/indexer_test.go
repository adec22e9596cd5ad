package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codegraph/internal/embedder"
	"codegraph/internal/storage"
	"codegraph/pkg/types"
)

const orderSource = `package shop

// Order is a customer purchase.
type Order struct {
	ID    string
	Total float64
}

// Close finalizes the order.
func (o *Order) Close() error {
	return nil
}
`

const serviceSource = `package shop

// OrderService coordinates order workflows.
type OrderService struct {
	store *Order
}

func (s *OrderService) Process() error {
	var o Order
	return o.Close()
}
`

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateCache() { c.calls++ }

type failingEmbedder struct{}

func (f *failingEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return nil, errors.New("provider unavailable")
}

func (f *failingEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	return nil, errors.New("provider unavailable")
}

func (f *failingEmbedder) Dimension() int   { return 384 }
func (f *failingEmbedder) Provider() string { return "failing" }
func (f *failingEmbedder) Model() string    { return "failing" }
func (f *failingEmbedder) Close() error     { return nil }

type testEnv struct {
	indexer     *Indexer
	store       *storage.SQLiteStore
	invalidator *countingInvalidator
	workDir     string
}

func newTestEnv(t *testing.T, emb embedder.Embedder) *testEnv {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "graph.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if emb == nil {
		local, err := embedder.NewLocalProvider(embedder.NewCache(0))
		require.NoError(t, err)
		emb = local
	}

	inv := &countingInvalidator{}
	idx := New(store, emb, NewLocalProvider(), inv, zap.NewNop())

	return &testEnv{
		indexer:     idx,
		store:       store,
		invalidator: inv,
		workDir:     t.TempDir(),
	}
}

func TestIndex_EndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	writeSource(t, env.workDir, "order.go", orderSource)
	writeSource(t, env.workDir, "service.go", serviceSource)
	ctx := context.Background()

	report, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.NoError(t, err)

	assert.False(t, report.Skipped)
	assert.NotEmpty(t, report.Commit)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Zero(t, report.FilesFailed)
	assert.Greater(t, report.EntitiesCreated, 0)
	assert.Greater(t, report.RelationshipsCreated, 0)
	assert.Equal(t, report.EntitiesCreated, report.EmbeddingsGenerated)
	assert.Equal(t, 1, env.invalidator.calls)

	repo, err := env.store.GetRepository(ctx, report.RepositoryID)
	require.NoError(t, err)
	assert.Equal(t, types.StateIndexed, repo.State)
	assert.Equal(t, report.Commit, repo.LastIndexedCommit)
	assert.False(t, repo.LastIndexedAt.IsZero())

	results, err := env.store.ExactMatch(ctx, report.RepositoryID, "OrderService", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "shop.OrderService", results[0].FullyQualifiedName)

	status, err := env.store.GetStatus(ctx, report.RepositoryID)
	require.NoError(t, err)
	assert.Equal(t, int64(report.EntitiesCreated), status.EmbeddedCount)
}

func TestIndex_SkipsUnchangedCommit(t *testing.T) {
	env := newTestEnv(t, nil)
	writeSource(t, env.workDir, "order.go", orderSource)
	ctx := context.Background()

	first, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Contains(t, second.SkipReason, "already indexed")
	assert.Zero(t, second.FilesProcessed)
	assert.Equal(t, first.RepositoryID, second.RepositoryID)
	// Cache stays warm on a skipped run.
	assert.Equal(t, 1, env.invalidator.calls)
}

func TestIndex_ForceReindexIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	writeSource(t, env.workDir, "order.go", orderSource)
	writeSource(t, env.workDir, "service.go", serviceSource)
	ctx := context.Background()

	first, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.NoError(t, err)
	statusAfterFirst, err := env.store.GetStatus(ctx, first.RepositoryID)
	require.NoError(t, err)

	second, err := env.indexer.Index(ctx, env.workDir, "main", Options{Force: true})
	require.NoError(t, err)
	require.False(t, second.Skipped)
	assert.Equal(t, first.EntitiesCreated, second.EntitiesCreated)
	assert.Equal(t, first.RelationshipsCreated, second.RelationshipsCreated)

	statusAfterSecond, err := env.store.GetStatus(ctx, second.RepositoryID)
	require.NoError(t, err)
	assert.Equal(t, statusAfterFirst.NodeCount, statusAfterSecond.NodeCount)
	assert.Equal(t, statusAfterFirst.EdgeCount, statusAfterSecond.EdgeCount)
}

func TestIndex_ReindexAfterChange(t *testing.T) {
	env := newTestEnv(t, nil)
	writeSource(t, env.workDir, "order.go", orderSource)
	ctx := context.Background()

	first, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.NoError(t, err)

	writeSource(t, env.workDir, "invoice.go", `package shop

type Invoice struct {
	Number string
}
`)

	second, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.NotEqual(t, first.Commit, second.Commit)

	results, err := env.store.ExactMatch(ctx, second.RepositoryID, "Invoice", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestIndex_EmbeddingAbortKeepsFingerprint(t *testing.T) {
	env := newTestEnv(t, &failingEmbedder{})
	writeSource(t, env.workDir, "order.go", orderSource)
	ctx := context.Background()

	report, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.Error(t, err)
	require.NotNil(t, report)

	repo, err := env.store.GetRepository(ctx, report.RepositoryID)
	require.NoError(t, err)
	assert.Equal(t, types.StateNotIndexed, repo.State)
	assert.Empty(t, repo.LastIndexedCommit)

	// Nothing was persisted; the write phase never started.
	status, err := env.store.GetStatus(ctx, report.RepositoryID)
	require.NoError(t, err)
	assert.Zero(t, status.NodeCount)
	assert.Zero(t, env.invalidator.calls)
}

func TestIndex_EmbeddingSkipPolicyStoresWithoutVectors(t *testing.T) {
	env := newTestEnv(t, &failingEmbedder{})
	writeSource(t, env.workDir, "order.go", orderSource)
	ctx := context.Background()

	report, err := env.indexer.Index(ctx, env.workDir, "main", Options{
		OnEmbeddingFailure: FailSkip,
	})
	require.NoError(t, err)

	assert.Greater(t, report.EntitiesCreated, 0)
	assert.Zero(t, report.EmbeddingsGenerated)
	assert.NotEmpty(t, report.Errors)

	repo, err := env.store.GetRepository(ctx, report.RepositoryID)
	require.NoError(t, err)
	assert.Equal(t, types.StateIndexed, repo.State)
	assert.Equal(t, report.Commit, repo.LastIndexedCommit)

	status, err := env.store.GetStatus(ctx, report.RepositoryID)
	require.NoError(t, err)
	assert.Greater(t, status.NodeCount, int64(0))
	assert.Zero(t, status.EmbeddedCount)
}

func TestIndex_FailureRatioAborts(t *testing.T) {
	env := newTestEnv(t, nil)
	writeSource(t, env.workDir, "good.go", orderSource)
	writeSource(t, env.workDir, "broken1.go", "package shop\nfunc broken1( {\n")
	writeSource(t, env.workDir, "broken2.go", "package shop\nfunc broken2( {\n")
	writeSource(t, env.workDir, "broken3.go", "package shop\nfunc broken3( {\n")
	ctx := context.Background()

	report, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.ErrorIs(t, err, ErrTooManyFailures)
	require.NotNil(t, report)
	assert.Equal(t, 3, report.FilesFailed)
	assert.NotEmpty(t, report.Errors)

	repo, err := env.store.GetRepository(ctx, report.RepositoryID)
	require.NoError(t, err)
	assert.Empty(t, repo.LastIndexedCommit)
	assert.Equal(t, types.StateNotIndexed, repo.State)
}

func TestIndex_RejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t, nil)
	writeSource(t, env.workDir, "order.go", orderSource)
	ctx := context.Background()

	report, err := env.indexer.Index(ctx, env.workDir, "main", Options{})
	require.NoError(t, err)

	lock := env.indexer.locks.get(report.RepositoryID)
	require.True(t, lock.tryAcquire())
	defer lock.release()

	_, err = env.indexer.Index(ctx, env.workDir, "main", Options{Force: true})
	assert.ErrorIs(t, err, ErrIndexInProgress)
}

func TestIndex_RequiresURL(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.indexer.Index(context.Background(), "  ", "main", Options{})
	assert.Error(t, err)
}

func TestIndexLock(t *testing.T) {
	var l indexLock
	assert.True(t, l.tryAcquire())
	assert.False(t, l.tryAcquire())
	l.release()
	assert.True(t, l.tryAcquire())
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", "package main\n")
	writeSource(t, dir, "main_test.go", "package main\n")
	writeSource(t, dir, "README.md", "docs\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor", "dep"), 0o755))
	writeSource(t, filepath.Join(dir, "vendor", "dep"), "dep.go", "package dep\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))
	writeSource(t, filepath.Join(dir, ".hidden"), "h.go", "package h\n")

	all, err := discoverFiles(dir, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	noTests, err := discoverFiles(dir, true)
	require.NoError(t, err)
	require.Len(t, noTests, 1)
	assert.Equal(t, "main.go", filepath.Base(noTests[0]))
}

func TestLocalWorkspace_FingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.go", "package a\n")

	ws, err := NewLocalProvider().Acquire(context.Background(), dir, "main")
	require.NoError(t, err)
	defer func() { _ = ws.Release() }()

	first, err := ws.Head()
	require.NoError(t, err)
	again, err := ws.Head()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	writeSource(t, dir, "a.go", "package a\n\ntype A struct{}\n")
	changed, err := ws.Head()
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestLocalProvider_CopyToTemp(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.go", "package a\n")

	ws, err := (&LocalProvider{CopyToTemp: true}).Acquire(context.Background(), dir, "main")
	require.NoError(t, err)
	assert.NotEqual(t, dir, ws.Path())

	_, err = os.Stat(filepath.Join(ws.Path(), "a.go"))
	require.NoError(t, err)

	require.NoError(t, ws.Release())
	_, err = os.Stat(ws.Path())
	assert.True(t, os.IsNotExist(err))
	// Release is idempotent.
	require.NoError(t, ws.Release())
}
