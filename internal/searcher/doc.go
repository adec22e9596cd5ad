// Package searcher implements staged hybrid retrieval over the code
// knowledge graph.
//
// The searcher provides four search modes:
//   - Hybrid: exact, then fuzzy, then semantic (recommended)
//   - Exact: property equality on name or fully qualified name
//   - Fuzzy: substring match over name, FQN and description
//   - Semantic: vector similarity over entity embeddings
//
// # Basic Usage
//
//	s := searcher.New(store, embedder, logger)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    RepositoryID: repoID,
//	    Query:        "payment reconciliation",
//	    Limit:        10,
//	    Mode:         searcher.SearchModeHybrid,
//	})
//
//	for _, result := range resp.Results {
//	    fmt.Printf("[%d] %s (%s, score: %.2f)\n",
//	        result.Rank, result.FullyQualifiedName,
//	        result.MatchType, result.SimilarityScore)
//	}
//
// # The Cascade
//
// Hybrid mode runs stages in a fixed precision order. Exact matches
// claim the first ranks; fuzzy matches fill remaining slots; semantic
// search runs only while slots remain. A node surfaced by an earlier
// stage is never duplicated by a later one, and every result carries
// the MatchType of the stage that produced it. A request may scope
// several repositories at once via RepositoryIDs; each stage merges
// the per-repository hits and re-sorts them deterministically. When a query names
// nothing literally ("how do we retry failed payments?"), the
// structural stages come back empty and the response is purely
// semantic.
//
// # Relevance Scoring
//
// Exact hits score a flat 1.0 and fuzzy hits a flat 0.5; substring
// matching produces no ranking signal. Semantic hits carry their cosine
// similarity, floored by MinSimilarity (default 0.65) so weak matches
// are dropped rather than ranked last.
//
// # Caching and Feedback
//
// Responses are cached by query hash with a one hour TTL. A Session
// carrying negative feedback bypasses the cache and widens both the
// fuzzy candidate pool and the semantic similarity floor, trading
// precision for recall on the retry.
package searcher
