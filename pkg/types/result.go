package types

// MatchType records which retrieval stage produced a search result.
type MatchType string

const (
	MatchExact    MatchType = "EXACT"
	MatchFuzzy    MatchType = "FUZZY"
	MatchSemantic MatchType = "SEMANTIC"
)

// SearchResult represents a single ranked retrieval result.
type SearchResult struct {
	// Identification
	NodeID string
	Rank   int // Position in result set (1-based)

	// Scoring
	MatchType       MatchType
	SimilarityScore float64

	// Entity data
	EntityType         NodeKind
	Name               string
	FullyQualifiedName string
	PackageName        string
	FilePath           string
	Description        string
	SourceCode         string // Populated only when requested
}

// Validate checks if the search result is valid.
func (sr *SearchResult) Validate() error {
	if sr.NodeID == "" {
		return ErrInvalidNodeID
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.SimilarityScore < 0 || sr.SimilarityScore > 1 {
		return ErrInvalidScore
	}
	switch sr.MatchType {
	case MatchExact, MatchFuzzy, MatchSemantic:
	default:
		return ErrInvalidMatchType
	}
	return nil
}

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirectionOut  Direction = "OUT"
	DirectionIn   Direction = "IN"
	DirectionBoth Direction = "BOTH"
)
