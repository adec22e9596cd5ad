package types

import (
	"strings"
	"time"
)

// IndexState tracks the lifecycle of a repository's index.
type IndexState string

const (
	StateNotIndexed IndexState = "not_indexed"
	StateIndexing   IndexState = "indexing"
	StateIndexed    IndexState = "indexed"
)

// Repository identifies an indexed source tree. The node/edge set of a
// repository is consistent with exactly one commit at a time;
// LastIndexedCommit is the sole durable fingerprint used for
// incremental-reindex decisions.
type Repository struct {
	ID                string
	URL               string
	Branch            string
	LastIndexedCommit string
	LastIndexedAt     time.Time
	State             IndexState
}

// NormalizeRepoKey produces the lookup key for a repository: lowercased
// URL with trailing slashes and a ".git" suffix stripped, joined with the
// branch. Two spellings of the same remote must resolve to one record.
func NormalizeRepoKey(url, branch string) string {
	u := strings.ToLower(strings.TrimSpace(url))
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")
	if branch == "" {
		branch = "main"
	}
	return u + "#" + branch
}
