package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"codegraph/internal/embedder"
	"codegraph/internal/storage"
	"codegraph/pkg/types"
)

// SearchMode selects which retrieval stages run.
type SearchMode string

const (
	SearchModeHybrid   SearchMode = "hybrid"   // exact, then fuzzy, then semantic
	SearchModeExact    SearchMode = "exact"    // property equality only
	SearchModeFuzzy    SearchMode = "fuzzy"    // substring match only
	SearchModeSemantic SearchMode = "semantic" // vector similarity only
)

const (
	// DefaultLimit is applied when a request does not set one.
	DefaultLimit = 10
	// MaxLimit caps result set size regardless of the request.
	MaxLimit = 50
	// DefaultMinSimilarity is the semantic relevance floor.
	DefaultMinSimilarity = 0.65

	// Nominal scores for non-vector stages. Exact hits are definitionally
	// perfect matches; fuzzy hits carry a flat mid score since LIKE has
	// no ranking signal.
	exactScore = 1.0
	fuzzyScore = 0.5
)

// SearchRequest contains parameters for one retrieval call. Scope is
// one repository via RepositoryID or several via RepositoryIDs; at
// least one is required.
type SearchRequest struct {
	Query         string
	RepositoryID  string
	RepositoryIDs []string
	Limit         int
	Mode          SearchMode
	MinSimilarity float64

	UseCache bool
	CacheTTL time.Duration

	// Session carries request-scoped feedback state. Negative feedback
	// bypasses the cache and widens the retrieval net.
	Session *Session
}

// SearchResponse contains search results and metadata.
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	SearchMode   SearchMode
	Duration     time.Duration
	CacheHit     bool

	// Per-stage hit counts before deduplication.
	ExactHits    int
	FuzzyHits    int
	SemanticHits int
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher coordinates the staged retrieval cascade.
type Searcher struct {
	store    storage.Store
	embedder embedder.Embedder
	logger   *zap.Logger
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
}

// New creates a Searcher.
func New(store storage.Store, emb embedder.Embedder, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[[32]byte, *cacheEntry](1000)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{
		store:    store,
		embedder: emb,
		logger:   logger,
		cache:    cache,
	}
}

// Search runs the retrieval cascade. In hybrid mode exact matches come
// first, fuzzy matches fill remaining slots, and semantic search runs
// when the structural stages leave room; a node surfaced by an earlier
// stage is never re-reported by a later one.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	widened := req.Session != nil && req.Session.HasNegativeFeedback()
	useCache := req.UseCache && !widened

	if useCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	response := &SearchResponse{}
	seen := make(map[string]bool)

	runExact := req.Mode == SearchModeHybrid || req.Mode == SearchModeExact
	runFuzzy := req.Mode == SearchModeHybrid || req.Mode == SearchModeFuzzy
	runSemantic := req.Mode == SearchModeHybrid || req.Mode == SearchModeSemantic

	if runExact {
		hits, err := s.collectStage(req, func(repoID string) ([]types.SearchResult, error) {
			return s.store.ExactMatch(ctx, repoID, req.Query, req.Limit)
		})
		if err != nil {
			return nil, fmt.Errorf("exact match: %w", err)
		}
		response.ExactHits = len(hits)
		appendResults(response, seen, hits, exactScore, req.Limit)
	}

	if runFuzzy && len(response.Results) < req.Limit {
		fuzzyLimit := req.Limit * 2
		if widened {
			fuzzyLimit *= 2
		}
		hits, err := s.collectStage(req, func(repoID string) ([]types.SearchResult, error) {
			return s.store.FuzzyMatch(ctx, repoID, req.Query, fuzzyLimit)
		})
		if err != nil {
			return nil, fmt.Errorf("fuzzy match: %w", err)
		}
		response.FuzzyHits = len(hits)
		appendResults(response, seen, hits, fuzzyScore, req.Limit)
	}

	if runSemantic && len(response.Results) < req.Limit {
		hits, err := s.semanticStage(ctx, req, widened)
		if err != nil {
			// In hybrid mode a semantic failure degrades the response
			// instead of discarding structural hits.
			if req.Mode != SearchModeHybrid || len(response.Results) == 0 {
				return nil, err
			}
			s.logger.Warn("semantic stage failed, returning structural hits only",
				zap.Error(err))
		} else {
			response.SemanticHits = len(hits)
			appendResults(response, seen, hits, -1, req.Limit)
		}
	}

	for i := range response.Results {
		response.Results[i].Rank = i + 1
	}
	response.TotalResults = len(response.Results)
	response.SearchMode = req.Mode
	response.Duration = time.Since(startTime)

	if useCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

// semanticStage embeds the query and runs vector search.
func (s *Searcher) semanticStage(ctx context.Context, req SearchRequest, widened bool) ([]types.SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	minSimilarity := req.MinSimilarity
	if widened {
		minSimilarity *= 0.8
	}

	hits, err := s.collectStage(req, func(repoID string) ([]types.SearchResult, error) {
		return s.store.VectorSearch(ctx, repoID, embedding.Vector, req.Limit*2, minSimilarity)
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

// collectStage runs one stage query per scoped repository and merges
// the hits. With multiple repositories the merged set is re-sorted
// (score desc, then name asc) so ordering stays deterministic; a
// single-repository scope keeps the store's ordering as is.
func (s *Searcher) collectStage(req SearchRequest, query func(repoID string) ([]types.SearchResult, error)) ([]types.SearchResult, error) {
	var hits []types.SearchResult
	for _, repoID := range req.RepositoryIDs {
		h, err := query(repoID)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h...)
	}
	if len(req.RepositoryIDs) > 1 {
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].SimilarityScore != hits[j].SimilarityScore {
				return hits[i].SimilarityScore > hits[j].SimilarityScore
			}
			return hits[i].Name < hits[j].Name
		})
	}
	return hits, nil
}

// appendResults merges one stage's hits into the response, skipping node
// IDs already claimed by an earlier stage. A negative score means keep
// the stage-provided similarity (clamped into [0, 1]).
func appendResults(response *SearchResponse, seen map[string]bool, hits []types.SearchResult, score float64, limit int) {
	for _, hit := range hits {
		if len(response.Results) >= limit {
			return
		}
		if seen[hit.NodeID] {
			continue
		}
		seen[hit.NodeID] = true

		if score >= 0 {
			hit.SimilarityScore = score
		} else if hit.SimilarityScore < 0 {
			hit.SimilarityScore = 0
		} else if hit.SimilarityScore > 1 {
			hit.SimilarityScore = 1
		}
		response.Results = append(response.Results, hit)
	}
}

// validateRequest normalizes request parameters.
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if req.RepositoryID != "" {
		found := false
		for _, id := range req.RepositoryIDs {
			if id == req.RepositoryID {
				found = true
				break
			}
		}
		if !found {
			req.RepositoryIDs = append([]string{req.RepositoryID}, req.RepositoryIDs...)
		}
	}
	if len(req.RepositoryIDs) == 0 {
		return fmt.Errorf("repository ID is required")
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	switch req.Mode {
	case SearchModeHybrid, SearchModeExact, SearchModeFuzzy, SearchModeSemantic:
	default:
		return fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if req.MinSimilarity <= 0 {
		req.MinSimilarity = DefaultMinSimilarity
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = 1 * time.Hour
	}
	return nil
}

// checkCache returns a copy of a fresh cached response, or nil.
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached query. Called after reindexing,
// when any cached result set may be stale.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash builds a deterministic cache key for a request.
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(strings.Join(req.RepositoryIDs, ","))
	data.WriteString("|")
	fmt.Fprintf(&data, "%d|%.3f", req.Limit, req.MinSimilarity)
	return sha256.Sum256([]byte(data.String()))
}
