package types

// Extraction represents the output of extracting one source file: the
// typed nodes declared in it and the typed edges they participate in.
// Extraction is per-file and carries no cross-file state.
type Extraction struct {
	Nodes       []Node
	Edges       []Edge
	PackageName string

	// Placeholders are referenced-but-not-declared entities (types from
	// other files or packages). They are persisted insert-if-absent so
	// edges always have a resolvable endpoint, and are overwritten by the
	// real declaration when its file is indexed.
	Placeholders []Node

	// Failures encountered while parsing. A failed file still yields
	// whatever partial extraction was possible.
	Failures []ParseFailure
}

// HasFailures returns true if any parsing failures occurred.
func (ex *Extraction) HasFailures() bool {
	return len(ex.Failures) > 0
}

// AddFailure records a parsing failure for the given file.
func (ex *Extraction) AddFailure(file, cause string) {
	ex.Failures = append(ex.Failures, ParseFailure{File: file, Cause: cause})
}
