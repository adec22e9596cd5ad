package embedder

import (
	"strings"

	"codegraph/internal/extractor"
	"codegraph/pkg/types"
)

// maxDescribedMembers caps how many member signatures one description
// carries so large types do not drown their own identity in the vector.
const maxDescribedMembers = 8

// Describe renders a node into the text that gets embedded. Structural
// context (what the entity is, where it lives, what it extends, what it
// contains, how its code behaves) goes into the text so semantic search
// matches intent, not just identifier spelling.
func Describe(n types.Node, supertypes, members []string) string {
	var b strings.Builder

	b.WriteString(string(n.Kind))
	b.WriteString(" ")
	b.WriteString(n.FullyQualifiedName)

	if n.PackageName != "" {
		b.WriteString("\npackage: ")
		b.WriteString(n.PackageName)
	}
	if n.Role != "" {
		b.WriteString("\nrole: ")
		b.WriteString(n.Role)
	}
	if n.Domain != "" {
		b.WriteString("\ndomain: ")
		b.WriteString(n.Domain)
	}
	if n.BusinessCapability != "" {
		b.WriteString("\ncapability: ")
		b.WriteString(n.BusinessCapability)
	}
	if n.Description != "" {
		b.WriteString("\n")
		b.WriteString(n.Description)
	}

	if len(supertypes) > 0 {
		b.WriteString("\nextends: ")
		b.WriteString(strings.Join(supertypes, ", "))
	}

	if len(members) > maxDescribedMembers {
		members = members[:maxDescribedMembers]
	}
	for _, m := range members {
		b.WriteString("\n  ")
		b.WriteString(m)
	}

	if n.SourceCode != "" {
		if flags := extractor.AnalyzeBehavior(n.SourceCode); len(flags) > 0 {
			b.WriteString("\nbehavior: ")
			b.WriteString(strings.Join(flags, ", "))
		}
	}

	return b.String()
}
