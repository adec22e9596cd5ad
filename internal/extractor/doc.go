// Package extractor turns Go source files into typed knowledge-graph
// entities and relationships using the standard go/ast parser.
//
// Each file is extracted independently. References to entities declared
// elsewhere produce placeholder nodes so edges always have a resolvable
// endpoint; the real declaration overwrites the placeholder when its own
// file is processed. Relationship extraction deliberately walks full
// declaration and body spans, so a reference buried deep inside a large
// type or method still yields an edge.
package extractor
