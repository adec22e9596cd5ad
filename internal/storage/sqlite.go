package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"codegraph/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrEdgeTypesRequired is returned when an edge query names no types
	ErrEdgeTypesRequired = errors.New("at least one edge type is required")
)

// querier is the subset shared by *sql.DB and *sql.Tx, so every
// operation works identically inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// core implements every operation against a querier. SQLiteStore binds
// it to the connection, sqliteTx binds it to a transaction.
type core struct {
	q      querier
	logger *zap.Logger
}

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	core
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open creates a SQLite-backed store at dbPath, applying any pending
// migrations. A nil logger disables store logging.
func Open(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Debug("storage opened",
		zap.String("path", dbPath),
		zap.String("driver", DriverName),
		zap.Bool("vector_extension", VectorExtensionAvailable))

	return &SQLiteStore{
		core: core{q: db, logger: logger},
		db:   db,
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a transaction sharing the same operation set.
func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{
		core: core{q: tx, logger: s.logger},
		tx:   tx,
	}, nil
}

type sqliteTx struct {
	core
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// Repository operations

func (c *core) CreateRepository(ctx context.Context, repo *types.Repository) error {
	if repo.State == "" {
		repo.State = types.StateNotIndexed
	}
	repoKey := types.NormalizeRepoKey(repo.URL, repo.Branch)

	query := `
		INSERT INTO repositories (id, repo_key, url, branch, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err := c.q.ExecContext(ctx, query,
		repo.ID, repoKey, repo.URL, repo.Branch, string(repo.State), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: repository %s", ErrAlreadyExists, repoKey)
		}
		return fmt.Errorf("failed to create repository: %w", err)
	}

	c.logger.Info("repository created",
		zap.String("id", repo.ID),
		zap.String("key", repoKey))
	return nil
}

const repositoryColumns = `id, url, branch, state, last_indexed_commit, last_indexed_at`

func scanRepository(row interface{ Scan(...interface{}) error }) (*types.Repository, error) {
	var repo types.Repository
	var state string
	var lastCommit sql.NullString
	var lastIndexedAt sql.NullTime
	err := row.Scan(&repo.ID, &repo.URL, &repo.Branch, &state, &lastCommit, &lastIndexedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	repo.State = types.IndexState(state)
	if lastCommit.Valid {
		repo.LastIndexedCommit = lastCommit.String
	}
	if lastIndexedAt.Valid {
		repo.LastIndexedAt = lastIndexedAt.Time
	}
	return &repo, nil
}

func (c *core) GetRepository(ctx context.Context, id string) (*types.Repository, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

func (c *core) GetRepositoryByKey(ctx context.Context, repoKey string) (*types.Repository, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE repo_key = ?`, repoKey)
	return scanRepository(row)
}

func (c *core) UpdateRepository(ctx context.Context, repo *types.Repository) error {
	query := `
		UPDATE repositories
		SET state = ?, last_indexed_commit = ?, last_indexed_at = ?, updated_at = ?
		WHERE id = ?
	`
	var lastCommit interface{}
	if repo.LastIndexedCommit != "" {
		lastCommit = repo.LastIndexedCommit
	}
	var lastIndexedAt interface{}
	if !repo.LastIndexedAt.IsZero() {
		lastIndexedAt = repo.LastIndexedAt
	}

	result, err := c.q.ExecContext(ctx, query,
		string(repo.State), lastCommit, lastIndexedAt, time.Now(), repo.ID)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: repository %s", ErrNotFound, repo.ID)
	}
	return nil
}

func (c *core) ListRepositories(ctx context.Context) ([]*types.Repository, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories ORDER BY url, branch`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*types.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// Node operations

const upsertNodeQuery = `
	INSERT INTO nodes (repository_id, id, kind, name, fqn, package_name,
		file_path, source_code, description, role, domain,
		business_capability, embedding, dimension, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repository_id, id) DO UPDATE SET
		kind = excluded.kind,
		name = excluded.name,
		fqn = excluded.fqn,
		package_name = excluded.package_name,
		file_path = excluded.file_path,
		source_code = excluded.source_code,
		description = excluded.description,
		role = excluded.role,
		domain = excluded.domain,
		business_capability = excluded.business_capability,
		embedding = COALESCE(excluded.embedding, nodes.embedding),
		dimension = COALESCE(excluded.dimension, nodes.dimension),
		updated_at = excluded.updated_at
`

// UpsertNodes writes nodes idempotently. Re-upserting a node without an
// embedding keeps any embedding already stored for it.
func (c *core) UpsertNodes(ctx context.Context, nodes []types.Node) error {
	now := time.Now()
	for i := range nodes {
		n := &nodes[i]
		if err := n.Validate(); err != nil {
			return fmt.Errorf("node %s: %w", n.FullyQualifiedName, err)
		}

		var blob interface{}
		var dimension interface{}
		if n.Embedding != nil {
			blob = serializeVector(n.Embedding)
			dimension = len(n.Embedding)
		}

		_, err := c.q.ExecContext(ctx, upsertNodeQuery,
			n.RepositoryID, n.ID, string(n.Kind), n.Name, n.FullyQualifiedName,
			n.PackageName, n.FilePath, n.SourceCode, n.Description, n.Role,
			n.Domain, n.BusinessCapability, blob, dimension, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", n.FullyQualifiedName, err)
		}
	}

	c.logger.Debug("nodes upserted", zap.Int("count", len(nodes)))
	return nil
}

const insertPlaceholderQuery = `
	INSERT INTO nodes (repository_id, id, kind, name, fqn, package_name,
		created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repository_id, id) DO NOTHING
`

// UpsertPlaceholderNodes inserts referenced-but-undeclared entities.
// Existing rows, including real declarations, are left untouched.
func (c *core) UpsertPlaceholderNodes(ctx context.Context, nodes []types.Node) error {
	now := time.Now()
	for i := range nodes {
		n := &nodes[i]
		_, err := c.q.ExecContext(ctx, insertPlaceholderQuery,
			n.RepositoryID, n.ID, string(n.Kind), n.Name, n.FullyQualifiedName,
			n.PackageName, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert placeholder %s: %w", n.FullyQualifiedName, err)
		}
	}
	return nil
}

const nodeColumns = `repository_id, id, kind, name, fqn, package_name,
	file_path, source_code, description, role, domain,
	business_capability, embedding, dimension`

func scanNode(row interface{ Scan(...interface{}) error }) (*types.Node, error) {
	var n types.Node
	var kind string
	var pkg, filePath, source, desc, role, domain, capability sql.NullString
	var blob []byte
	var dimension sql.NullInt64

	err := row.Scan(&n.RepositoryID, &n.ID, &kind, &n.Name, &n.FullyQualifiedName,
		&pkg, &filePath, &source, &desc, &role, &domain, &capability,
		&blob, &dimension)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	n.Kind = types.NodeKind(kind)
	n.PackageName = pkg.String
	n.FilePath = filePath.String
	n.SourceCode = source.String
	n.Description = desc.String
	n.Role = role.String
	n.Domain = domain.String
	n.BusinessCapability = capability.String
	if len(blob) > 0 {
		n.Embedding = deserializeVector(blob)
		n.Dimension = int(dimension.Int64)
	}
	return &n, nil
}

func (c *core) GetNode(ctx context.Context, repositoryID, nodeID string) (*types.Node, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE repository_id = ? AND id = ?`,
		repositoryID, nodeID)
	return scanNode(row)
}

func (c *core) GetNodes(ctx context.Context, repositoryID string, nodeIDs []string) ([]types.Node, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE repository_id = ? AND id IN (` +
		placeholders(len(nodeIDs)) + `)`
	args := make([]interface{}, 0, len(nodeIDs)+1)
	args = append(args, repositoryID)
	for _, id := range nodeIDs {
		args = append(args, id)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// DeleteRepositoryData removes every node and edge of a repository but
// keeps the repository record itself.
func (c *core) DeleteRepositoryData(ctx context.Context, repositoryID string) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM edges WHERE repository_id = ?`, repositoryID); err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}
	if _, err := c.q.ExecContext(ctx, `DELETE FROM nodes WHERE repository_id = ?`, repositoryID); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	return nil
}

// Edge operations

const upsertEdgeQuery = `
	INSERT INTO edges (repository_id, from_id, to_id, edge_type, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(repository_id, from_id, to_id, edge_type) DO NOTHING
`

func (c *core) UpsertEdges(ctx context.Context, edges []types.Edge) error {
	now := time.Now()
	for i := range edges {
		e := &edges[i]
		if err := e.Validate(); err != nil {
			return fmt.Errorf("edge %s->%s: %w", e.FromID, e.ToID, err)
		}
		_, err := c.q.ExecContext(ctx, upsertEdgeQuery,
			e.RepositoryID, e.FromID, e.ToID, string(e.Type), now)
		if err != nil {
			return fmt.Errorf("failed to upsert edge: %w", err)
		}
	}

	c.logger.Debug("edges upserted", zap.Int("count", len(edges)))
	return nil
}

func (c *core) OutgoingEdges(ctx context.Context, repositoryID, fromID string, edgeTypes []types.EdgeType) ([]types.Edge, error) {
	return c.queryEdges(ctx, repositoryID, "from_id", fromID, edgeTypes)
}

func (c *core) IncomingEdges(ctx context.Context, repositoryID, toID string, edgeTypes []types.EdgeType) ([]types.Edge, error) {
	return c.queryEdges(ctx, repositoryID, "to_id", toID, edgeTypes)
}

func (c *core) queryEdges(ctx context.Context, repositoryID, column, nodeID string, edgeTypes []types.EdgeType) ([]types.Edge, error) {
	if len(edgeTypes) == 0 {
		return nil, ErrEdgeTypesRequired
	}

	query := `SELECT repository_id, from_id, to_id, edge_type FROM edges
		WHERE repository_id = ? AND ` + column + ` = ? AND edge_type IN (` +
		placeholders(len(edgeTypes)) + `) ORDER BY edge_type, from_id, to_id`
	args := make([]interface{}, 0, len(edgeTypes)+2)
	args = append(args, repositoryID, nodeID)
	for _, et := range edgeTypes {
		args = append(args, string(et))
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.Edge
	for rows.Next() {
		var e types.Edge
		var typ string
		if err := rows.Scan(&e.RepositoryID, &e.FromID, &e.ToID, &typ); err != nil {
			return nil, err
		}
		e.Type = types.EdgeType(typ)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Retrieval operations

const resultColumns = `id, kind, name, fqn, package_name, file_path, description, source_code`

func scanSearchResults(rows *sql.Rows, matchType types.MatchType) ([]types.SearchResult, error) {
	var results []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var kind string
		var pkg, filePath, desc, source sql.NullString
		if err := rows.Scan(&r.NodeID, &kind, &r.Name, &r.FullyQualifiedName,
			&pkg, &filePath, &desc, &source); err != nil {
			return nil, err
		}
		r.MatchType = matchType
		r.EntityType = types.NodeKind(kind)
		r.PackageName = pkg.String
		r.FilePath = filePath.String
		r.Description = desc.String
		r.SourceCode = source.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// ExactMatch finds nodes whose name or fully qualified name equals
// term. The comparison is case-insensitive; name and fqn carry COLLATE
// NOCASE so the equality stays index-backed.
func (c *core) ExactMatch(ctx context.Context, repositoryID, term string, limit int) ([]types.SearchResult, error) {
	query := `SELECT ` + resultColumns + ` FROM nodes
		WHERE repository_id = ? AND (name = ? OR fqn = ?)
		ORDER BY name ASC, fqn ASC LIMIT ?`

	rows, err := c.q.QueryContext(ctx, query, repositoryID, term, term, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute exact match: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSearchResults(rows, types.MatchExact)
}

// FuzzyMatch finds nodes whose name, fully qualified name, description
// or file path contains term. Nullable columns are guarded explicitly
// so rows with absent values are skipped instead of poisoning the
// comparison.
func (c *core) FuzzyMatch(ctx context.Context, repositoryID, term string, limit int) ([]types.SearchResult, error) {
	pattern := "%" + escapeLike(term) + "%"
	query := `SELECT ` + resultColumns + ` FROM nodes
		WHERE repository_id = ? AND (
			name LIKE ? ESCAPE '\' OR
			fqn LIKE ? ESCAPE '\' OR
			(description IS NOT NULL AND description LIKE ? ESCAPE '\') OR
			(file_path IS NOT NULL AND file_path LIKE ? ESCAPE '\'))
		ORDER BY name ASC, fqn ASC LIMIT ?`

	rows, err := c.q.QueryContext(ctx, query, repositoryID, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute fuzzy match: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSearchResults(rows, types.MatchFuzzy)
}

// Status operations

func (c *core) GetStatus(ctx context.Context, repositoryID string) (*RepositoryStatus, error) {
	repo, err := c.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	status := &RepositoryStatus{Repository: repo}
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM nodes WHERE repository_id = ?`, &status.NodeCount},
		{`SELECT COUNT(*) FROM edges WHERE repository_id = ?`, &status.EdgeCount},
		{`SELECT COUNT(*) FROM nodes WHERE repository_id = ? AND embedding IS NOT NULL`, &status.EmbeddedCount},
		{`SELECT COUNT(*) FROM nodes WHERE repository_id = ? AND source_code IS NULL`, &status.PlaceholderRef},
	}
	for _, count := range counts {
		if err := c.q.QueryRowContext(ctx, count.query, repositoryID).Scan(count.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}
	return status, nil
}

// Helpers

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
