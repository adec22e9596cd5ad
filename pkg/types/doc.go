// Package types defines the shared data model for the code knowledge
// graph: nodes (types, methods, fields, annotations), typed directed
// edges, repository records, and retrieval results.
//
// Nodes and edges are identified by stable string keys rather than
// in-memory pointers, so cyclic structures (mutual calls, circular type
// dependencies) are representable and traversal stays explicit.
package types
