// Package indexer turns a checked-out repository into graph rows.
//
// One run walks the workspace, extracts nodes and edges from each Go
// file on a bounded worker pool, renders each declared entity into a
// description and embeds it in batches, then writes every file's
// extraction in its own transaction. The repository record advances to
// the new commit fingerprint only when the whole run succeeds; an
// unchanged fingerprint short-circuits the run entirely.
package indexer
