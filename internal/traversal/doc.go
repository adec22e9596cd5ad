// Package traversal implements bounded multi-hop expansion over the
// typed relationship graph.
//
// Expansion is breadth-first: every reached node is tagged with the hop
// count at which it first appeared, revisits are suppressed so cycles
// terminate, and depth is capped. Callers must name the edge types to
// follow; there is no follow-everything mode.
package traversal
