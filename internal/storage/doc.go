// Package storage provides SQLite-based persistence for the code
// knowledge graph.
//
// The storage layer manages:
//   - Repository records and indexing state
//   - Graph nodes (types, methods, fields, annotations) with optional
//     vector embeddings
//   - Typed directed edges between nodes
//   - Exact, fuzzy and vector retrieval primitives
//
// # Database Schema
//
// Tables:
//   - repositories: url#branch identity, indexing state, last indexed
//     commit fingerprint
//   - nodes: graph entities keyed by (repository_id, id); the embedding
//     column stays NULL until a vector is attached
//   - edges: typed relationships keyed by
//     (repository_id, from_id, to_id, edge_type)
//
// # Basic Usage
//
//	db, err := storage.Open("~/.codegraph/graph.db", logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.UpsertNodes(ctx, extraction.Nodes)
//
// # Transactions
//
// One file's extraction is written atomically:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_ = tx.UpsertPlaceholderNodes(ctx, extraction.Placeholders)
//	_ = tx.UpsertNodes(ctx, extraction.Nodes)
//	_ = tx.UpsertEdges(ctx, extraction.Edges)
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Build Modes
//
// Two SQLite drivers are supported via build tags. The default pure Go
// build (modernc.org/sqlite) computes cosine similarity in Go over
// SQL-selected candidates; the sqlite_vec CGO build
// (github.com/mattn/go-sqlite3) pushes similarity scoring into the
// database.
package storage
