package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// NodeKind represents the kind of code entity a node stands for.
type NodeKind string

const (
	KindType       NodeKind = "type"
	KindMethod     NodeKind = "method"
	KindField      NodeKind = "field"
	KindAnnotation NodeKind = "annotation"
)

// Node represents a code entity in the knowledge graph.
//
// The ID is derived deterministically from the kind and fully-qualified
// name, so indexing the same entity twice updates in place rather than
// duplicating. Embedding is nil when no vector has been generated; a
// non-nil zero-length slice is invalid.
type Node struct {
	// Identification
	ID                 string
	Kind               NodeKind
	Name               string
	FullyQualifiedName string
	PackageName        string
	RepositoryID       string

	// Content
	FilePath    string
	SourceCode  string
	Description string // Enriched synopsis used as embedding input

	// Semantics
	Embedding []float32 // nil = absent
	Dimension int

	// Classification
	Role               string // "service", "repository", "handler", ...
	Domain             string
	BusinessCapability string
}

// EdgeType represents a typed relationship between two nodes.
type EdgeType string

const (
	EdgeExtends     EdgeType = "EXTENDS"
	EdgeImplements  EdgeType = "IMPLEMENTS"
	EdgeHasMethod   EdgeType = "HAS_METHOD"
	EdgeHasField    EdgeType = "HAS_FIELD"
	EdgeCalls       EdgeType = "CALLS"
	EdgeUses        EdgeType = "USES"
	EdgeAnnotatedBy EdgeType = "ANNOTATED_BY"
	EdgeThrows      EdgeType = "THROWS"
)

// Edge is a directed, typed relationship between two node IDs.
// Edges are many-to-many and may form cycles; nothing here assumes a DAG.
type Edge struct {
	FromID       string
	ToID         string
	Type         EdgeType
	RepositoryID string
}

// NodeID computes the stable identity for an entity. The same kind and
// fully-qualified name always map to the same ID.
func NodeID(kind NodeKind, fullyQualifiedName string) string {
	h := sha256.Sum256([]byte(string(kind) + "\x00" + fullyQualifiedName))
	return hex.EncodeToString(h[:])
}

// ValidateKind checks that the node kind is one of the closed set.
func (n *Node) ValidateKind() error {
	switch n.Kind {
	case KindType, KindMethod, KindField, KindAnnotation:
		return nil
	default:
		return errors.New("invalid node kind")
	}
}

// HasEmbedding reports whether a vector is attached to the node.
func (n *Node) HasEmbedding() bool {
	return len(n.Embedding) > 0
}

// Validate performs comprehensive validation of the node.
func (n *Node) Validate() error {
	if n.ID == "" {
		return errors.New("node ID is required")
	}
	if n.Name == "" {
		return errors.New("node name is required")
	}
	if n.FullyQualifiedName == "" {
		return errors.New("fully-qualified name is required")
	}
	if err := n.ValidateKind(); err != nil {
		return err
	}
	if n.RepositoryID == "" {
		return errors.New("repository ID is required")
	}

	// Absence of an embedding is nil, never an empty vector. An empty
	// vector would satisfy NULL-aware store predicates while carrying no
	// information, corrupting vector search results.
	if n.Embedding != nil && len(n.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if n.Embedding != nil && n.Dimension != 0 && len(n.Embedding) != n.Dimension {
		return ErrDimensionMismatch
	}

	return nil
}

// ValidateEdgeType checks that the edge type is one of the closed set.
func (e *Edge) ValidateEdgeType() error {
	switch e.Type {
	case EdgeExtends, EdgeImplements, EdgeHasMethod, EdgeHasField,
		EdgeCalls, EdgeUses, EdgeAnnotatedBy, EdgeThrows:
		return nil
	default:
		return errors.New("invalid edge type")
	}
}

// Validate performs comprehensive validation of the edge.
func (e *Edge) Validate() error {
	if e.FromID == "" || e.ToID == "" {
		return errors.New("edge endpoints are required")
	}
	return e.ValidateEdgeType()
}
