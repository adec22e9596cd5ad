package storage

import (
	"context"

	"codegraph/pkg/types"
)

// Store defines the persistence interface for the code knowledge graph.
type Store interface {
	// Repository operations
	CreateRepository(ctx context.Context, repo *types.Repository) error
	GetRepository(ctx context.Context, id string) (*types.Repository, error)
	GetRepositoryByKey(ctx context.Context, repoKey string) (*types.Repository, error)
	UpdateRepository(ctx context.Context, repo *types.Repository) error
	ListRepositories(ctx context.Context) ([]*types.Repository, error)

	// Node operations. UpsertNodes overwrites on conflict but never
	// erases a stored embedding with an absent one; placeholder upserts
	// are insert-if-absent so real declarations always win.
	UpsertNodes(ctx context.Context, nodes []types.Node) error
	UpsertPlaceholderNodes(ctx context.Context, nodes []types.Node) error
	GetNode(ctx context.Context, repositoryID, nodeID string) (*types.Node, error)
	GetNodes(ctx context.Context, repositoryID string, nodeIDs []string) ([]types.Node, error)
	DeleteRepositoryData(ctx context.Context, repositoryID string) error

	// Edge operations
	UpsertEdges(ctx context.Context, edges []types.Edge) error
	OutgoingEdges(ctx context.Context, repositoryID, fromID string, edgeTypes []types.EdgeType) ([]types.Edge, error)
	IncomingEdges(ctx context.Context, repositoryID, toID string, edgeTypes []types.EdgeType) ([]types.Edge, error)

	// Retrieval operations
	ExactMatch(ctx context.Context, repositoryID, term string, limit int) ([]types.SearchResult, error)
	FuzzyMatch(ctx context.Context, repositoryID, term string, limit int) ([]types.SearchResult, error)
	VectorSearch(ctx context.Context, repositoryID string, vector []float32, limit int, minSimilarity float64) ([]types.SearchResult, error)

	// Status operations
	GetStatus(ctx context.Context, repositoryID string) (*RepositoryStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transactional view of the store.
type Tx interface {
	Commit() error
	Rollback() error

	UpsertNodes(ctx context.Context, nodes []types.Node) error
	UpsertPlaceholderNodes(ctx context.Context, nodes []types.Node) error
	UpsertEdges(ctx context.Context, edges []types.Edge) error
	UpdateRepository(ctx context.Context, repo *types.Repository) error
	DeleteRepositoryData(ctx context.Context, repositoryID string) error
}

// RepositoryStatus summarizes an indexed repository.
type RepositoryStatus struct {
	Repository     *types.Repository
	NodeCount      int64
	EdgeCount      int64
	EmbeddedCount  int64
	PlaceholderRef int64 // nodes without source, referenced but not declared
}
