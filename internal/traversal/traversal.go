package traversal

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"codegraph/internal/storage"
	"codegraph/pkg/types"
)

var (
	// ErrEdgeTypesRequired is returned when an expansion names no
	// relationship types. Unbounded expansion over every edge type is
	// never implied.
	ErrEdgeTypesRequired = errors.New("at least one edge type is required")
	// ErrStartNodeNotFound is returned when the expansion origin does
	// not exist in the repository.
	ErrStartNodeNotFound = errors.New("start node not found")
)

const (
	// DefaultMaxDepth bounds expansion when the request does not.
	DefaultMaxDepth = 1
	// MaxDepthLimit is the hard ceiling on expansion depth.
	MaxDepthLimit = 10
)

// Traverser walks typed relationships in the knowledge graph.
type Traverser struct {
	store  storage.Store
	logger *zap.Logger
}

// New creates a Traverser.
func New(store storage.Store, logger *zap.Logger) *Traverser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Traverser{store: store, logger: logger}
}

// ExpandRequest describes one multi-hop expansion.
type ExpandRequest struct {
	RepositoryID string
	StartID      string
	EdgeTypes    []types.EdgeType
	Direction    types.Direction
	MaxDepth     int
}

// ExpandedNode is a node reached by expansion, tagged with the hop
// count at which it was first encountered.
type ExpandedNode struct {
	Node  types.Node
	Depth int
}

// ExpandResponse carries the reached subgraph.
type ExpandResponse struct {
	Start types.Node
	Nodes []ExpandedNode
	Edges []types.Edge
}

// Expand performs a breadth-first walk from the start node following
// the requested edge types. Each node is visited at most once (at its
// shallowest depth), so cyclic graphs terminate; depth is capped at
// MaxDepthLimit regardless of the request.
func (t *Traverser) Expand(ctx context.Context, req ExpandRequest) (*ExpandResponse, error) {
	if req.StartID == "" {
		return nil, errors.New("start node ID is required")
	}
	if len(req.EdgeTypes) == 0 {
		return nil, ErrEdgeTypesRequired
	}
	for _, et := range req.EdgeTypes {
		e := types.Edge{FromID: "x", ToID: "y", Type: et}
		if err := e.ValidateEdgeType(); err != nil {
			return nil, fmt.Errorf("edge type %q: %w", et, err)
		}
	}
	if req.Direction == "" {
		req.Direction = types.DirectionOut
	}
	switch req.Direction {
	case types.DirectionOut, types.DirectionIn, types.DirectionBoth:
	default:
		return nil, fmt.Errorf("unsupported direction: %s", req.Direction)
	}
	if req.MaxDepth <= 0 {
		req.MaxDepth = DefaultMaxDepth
	}
	if req.MaxDepth > MaxDepthLimit {
		req.MaxDepth = MaxDepthLimit
	}

	start, err := t.store.GetNode(ctx, req.RepositoryID, req.StartID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStartNodeNotFound, req.StartID)
		}
		return nil, fmt.Errorf("load start node: %w", err)
	}

	visited := map[string]int{req.StartID: 0}
	frontier := []string{req.StartID}
	seenEdges := make(map[string]bool)
	var edges []types.Edge

	for depth := 1; depth <= req.MaxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, nodeID := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			step, err := t.neighbors(ctx, req, nodeID)
			if err != nil {
				return nil, err
			}
			for _, hop := range step {
				key := hop.edge.FromID + "|" + hop.edge.ToID + "|" + string(hop.edge.Type)
				if !seenEdges[key] {
					seenEdges[key] = true
					edges = append(edges, hop.edge)
				}
				if _, ok := visited[hop.neighborID]; !ok {
					visited[hop.neighborID] = depth
					next = append(next, hop.neighborID)
				}
			}
		}
		frontier = next
	}

	reached := make([]string, 0, len(visited)-1)
	for id := range visited {
		if id != req.StartID {
			reached = append(reached, id)
		}
	}
	nodes, err := t.store.GetNodes(ctx, req.RepositoryID, reached)
	if err != nil {
		return nil, fmt.Errorf("load expanded nodes: %w", err)
	}

	expanded := make([]ExpandedNode, 0, len(nodes))
	for _, n := range nodes {
		expanded = append(expanded, ExpandedNode{Node: n, Depth: visited[n.ID]})
	}
	sort.Slice(expanded, func(i, j int) bool {
		if expanded[i].Depth != expanded[j].Depth {
			return expanded[i].Depth < expanded[j].Depth
		}
		return expanded[i].Node.Name < expanded[j].Node.Name
	})

	t.logger.Debug("expansion complete",
		zap.String("start", req.StartID),
		zap.Int("nodes", len(expanded)),
		zap.Int("edges", len(edges)))

	return &ExpandResponse{Start: *start, Nodes: expanded, Edges: edges}, nil
}

type hop struct {
	edge       types.Edge
	neighborID string
}

// neighbors collects the one-hop edges of a node in the requested
// direction(s).
func (t *Traverser) neighbors(ctx context.Context, req ExpandRequest, nodeID string) ([]hop, error) {
	var hops []hop

	if req.Direction == types.DirectionOut || req.Direction == types.DirectionBoth {
		out, err := t.store.OutgoingEdges(ctx, req.RepositoryID, nodeID, req.EdgeTypes)
		if err != nil {
			return nil, fmt.Errorf("outgoing edges of %s: %w", nodeID, err)
		}
		for _, e := range out {
			hops = append(hops, hop{edge: e, neighborID: e.ToID})
		}
	}

	if req.Direction == types.DirectionIn || req.Direction == types.DirectionBoth {
		in, err := t.store.IncomingEdges(ctx, req.RepositoryID, nodeID, req.EdgeTypes)
		if err != nil {
			return nil, fmt.Errorf("incoming edges of %s: %w", nodeID, err)
		}
		for _, e := range in {
			hops = append(hops, hop{edge: e, neighborID: e.FromID})
		}
	}

	return hops, nil
}

// Dependencies expands what a node directly or transitively depends on.
func (t *Traverser) Dependencies(ctx context.Context, repositoryID, nodeID string, maxDepth int) (*ExpandResponse, error) {
	return t.Expand(ctx, ExpandRequest{
		RepositoryID: repositoryID,
		StartID:      nodeID,
		EdgeTypes:    []types.EdgeType{types.EdgeUses, types.EdgeCalls},
		Direction:    types.DirectionOut,
		MaxDepth:     maxDepth,
	})
}

// Callers expands which methods invoke a node.
func (t *Traverser) Callers(ctx context.Context, repositoryID, nodeID string, maxDepth int) (*ExpandResponse, error) {
	return t.Expand(ctx, ExpandRequest{
		RepositoryID: repositoryID,
		StartID:      nodeID,
		EdgeTypes:    []types.EdgeType{types.EdgeCalls},
		Direction:    types.DirectionIn,
		MaxDepth:     maxDepth,
	})
}

// Hierarchy expands the supertype and subtype neighborhood of a type.
func (t *Traverser) Hierarchy(ctx context.Context, repositoryID, nodeID string, maxDepth int) (*ExpandResponse, error) {
	return t.Expand(ctx, ExpandRequest{
		RepositoryID: repositoryID,
		StartID:      nodeID,
		EdgeTypes:    []types.EdgeType{types.EdgeExtends, types.EdgeImplements},
		Direction:    types.DirectionBoth,
		MaxDepth:     maxDepth,
	})
}

// Impact expands everything that would be affected by changing a node:
// the transitive closure of inbound usage and call edges.
func (t *Traverser) Impact(ctx context.Context, repositoryID, nodeID string, maxDepth int) (*ExpandResponse, error) {
	return t.Expand(ctx, ExpandRequest{
		RepositoryID: repositoryID,
		StartID:      nodeID,
		EdgeTypes:    []types.EdgeType{types.EdgeUses, types.EdgeCalls},
		Direction:    types.DirectionIn,
		MaxDepth:     maxDepth,
	})
}
