package types

import "errors"

// Failure taxonomy. Local, per-item failures (parse errors) are recovered
// and aggregated; systemic failures (provider down, store down) abort the
// operation and surface immediately.
var (
	// Search result errors
	ErrInvalidNodeID    = errors.New("invalid node ID")
	ErrInvalidRank      = errors.New("rank must be >= 1")
	ErrInvalidScore     = errors.New("similarity score must be between 0 and 1")
	ErrInvalidMatchType = errors.New("invalid match type")

	// Embedding invariants
	ErrEmptyEmbedding    = errors.New("embedding must be nil when absent, never empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// Operation failures
	ErrProviderFailed = errors.New("embedding provider failed")
	ErrStoreFailure   = errors.New("graph store failure")
	ErrQueryFailure   = errors.New("query failure")
)

// ParseFailure reports a single-file extraction failure. It is recoverable:
// the file is excluded from the batch and the run continues unless the
// failure ratio exceeds the configured threshold.
type ParseFailure struct {
	File  string
	Cause string
}

// Error implements the error interface.
func (pf *ParseFailure) Error() string {
	return pf.File + ": " + pf.Cause
}
