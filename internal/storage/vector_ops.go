package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"codegraph/pkg/types"
)

// VectorSearch finds the nodes most similar to vector by cosine
// similarity, scoped to one repository. Candidate selection happens in
// SQL, so nodes of other repositories and nodes without embeddings
// never enter scoring. Results come back ordered by similarity
// descending with name as the tie-breaker.
func (c *core) VectorSearch(ctx context.Context, repositoryID string, vector []float32, limit int, minSimilarity float64) ([]types.SearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if limit <= 0 {
		return []types.SearchResult{}, nil
	}

	if VectorExtensionAvailable {
		return c.vectorSearchOptimized(ctx, repositoryID, vector, limit, minSimilarity)
	}
	return c.vectorSearchFallback(ctx, repositoryID, vector, limit, minSimilarity)
}

// vectorSearchOptimized computes cosine distance inside SQLite via the
// sqlite-vec extension, keeping ranking and limiting at the database
// layer.
func (c *core) vectorSearchOptimized(ctx context.Context, repositoryID string, vector []float32, limit int, minSimilarity float64) ([]types.SearchResult, error) {
	blob := serializeVector(vector)

	query := `
		SELECT ` + resultColumns + `,
			1.0 - vec_distance_cosine(embedding, ?) AS similarity
		FROM nodes
		WHERE repository_id = ?
		AND embedding IS NOT NULL
		AND dimension = ?
	`
	args := []interface{}{blob, repositoryID, len(vector)}

	if minSimilarity > 0 {
		query += " AND (1.0 - vec_distance_cosine(embedding, ?)) >= ?"
		args = append(args, blob, minSimilarity)
	}

	query += " ORDER BY similarity DESC, name ASC LIMIT ?"
	args = append(args, limit)

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanScoredResults(rows)
}

// vectorSearchFallback loads the repository's embedded candidates and
// scores them in Go. Used by purego builds without the vector
// extension.
func (c *core) vectorSearchFallback(ctx context.Context, repositoryID string, vector []float32, limit int, minSimilarity float64) ([]types.SearchResult, error) {
	query := `
		SELECT ` + resultColumns + `, embedding
		FROM nodes
		WHERE repository_id = ?
		AND embedding IS NOT NULL
		AND dimension = ?
	`
	rows, err := c.q.QueryContext(ctx, query, repositoryID, len(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var kind string
		var pkg, filePath, desc, source sql.NullString
		var blob []byte
		if err := rows.Scan(&r.NodeID, &kind, &r.Name, &r.FullyQualifiedName,
			&pkg, &filePath, &desc, &source, &blob); err != nil {
			return nil, err
		}

		candidate := deserializeVector(blob)
		if len(candidate) != len(vector) {
			continue
		}
		similarity := cosineSimilarity(vector, candidate)
		if minSimilarity > 0 && similarity < minSimilarity {
			continue
		}

		r.MatchType = types.MatchSemantic
		r.EntityType = types.NodeKind(kind)
		r.PackageName = pkg.String
		r.FilePath = filePath.String
		r.Description = desc.String
		r.SourceCode = source.String
		r.SimilarityScore = similarity
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].SimilarityScore != candidates[j].SimilarityScore {
			return candidates[i].SimilarityScore > candidates[j].SimilarityScore
		}
		return candidates[i].Name < candidates[j].Name
	})

	if limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// scanScoredResults reads rows carrying a trailing similarity column.
func scanScoredResults(rows *sql.Rows) ([]types.SearchResult, error) {
	var results []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var kind string
		var pkg, filePath, desc, source sql.NullString
		if err := rows.Scan(&r.NodeID, &kind, &r.Name, &r.FullyQualifiedName,
			&pkg, &filePath, &desc, &source, &r.SimilarityScore); err != nil {
			return nil, err
		}
		r.MatchType = types.MatchSemantic
		r.EntityType = types.NodeKind(kind)
		r.PackageName = pkg.String
		r.FilePath = filePath.String
		r.Description = desc.String
		r.SourceCode = source.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
