package extractor

import "strings"

// detectRole maps an entity name (and doc text) to a semantic role used
// to enrich the embedding representation. Name-suffix conventions carry
// most of the signal; doc text breaks ties for bare names.
func detectRole(name, doc string) string {
	switch {
	case strings.HasSuffix(name, "Controller"):
		return "controller"
	case strings.HasSuffix(name, "Handler"):
		return "handler"
	case strings.HasSuffix(name, "Service"):
		return "service"
	case strings.HasSuffix(name, "Repository"), strings.HasSuffix(name, "Repo"),
		strings.HasSuffix(name, "Store"), strings.HasSuffix(name, "DAO"):
		return "repository"
	case strings.HasSuffix(name, "Client"):
		return "client"
	case strings.HasSuffix(name, "Factory"):
		return "factory"
	case strings.HasSuffix(name, "Config"), strings.HasSuffix(name, "Options"):
		return "configuration"
	case strings.HasSuffix(name, "Entity"), strings.HasSuffix(name, "Model"):
		return "entity"
	}

	lower := strings.ToLower(doc)
	switch {
	case strings.Contains(lower, "http handler"), strings.Contains(lower, "rest"):
		return "controller"
	case strings.Contains(lower, "persists"), strings.Contains(lower, "database"):
		return "repository"
	}
	return ""
}

// roleSuffixes are the naming conventions stripped when deriving a
// business capability from an entity name.
var roleSuffixes = []string{
	"Controller", "Handler", "Service", "Repository", "Repo",
	"Store", "DAO", "Client", "Factory", "Config", "Options",
	"Entity", "Model",
}

// detectCapability derives a business capability phrase from a type
// name: the role suffix is stripped and the remaining camel-case words
// are lowered, so "PaymentReconciliationService" reads as "payment
// reconciliation".
func detectCapability(name string) string {
	base := name
	for _, suffix := range roleSuffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	words := splitCamel(base)
	if len(words) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(words, " "))
}

// detectDomain maps a file path to its bounded-context directory.
// internal/billing/invoice.go belongs to "billing".
func detectDomain(filePath string) string {
	parts := strings.Split(strings.ReplaceAll(filePath, "\\", "/"), "/")
	for i, p := range parts {
		if (p == "internal" || p == "pkg") && i+2 < len(parts) {
			return parts[i+1]
		}
	}
	if len(parts) > 1 {
		return parts[0]
	}
	return ""
}

func splitCamel(s string) []string {
	var words []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' && (s[i-1] < 'A' || s[i-1] > 'Z') {
			words = append(words, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		words = append(words, s[start:])
	}
	return words
}

// Behavior flags derived from cheap source-pattern checks. These feed the
// enriched description so vector search can retrieve by intent ("database
// operation") rather than literal tokens.
const (
	BehaviorErrorHandling = "has error handling"
	BehaviorDatabase      = "database operation"
	BehaviorExternalAPI   = "external API call"
	BehaviorConcurrency   = "concurrent execution"
	BehaviorSerialization = "data serialization"
)

// AnalyzeBehavior scans raw source text for behavioral patterns.
func AnalyzeBehavior(source string) []string {
	var flags []string
	if strings.Contains(source, "if err != nil") || strings.Contains(source, "errors.") {
		flags = append(flags, BehaviorErrorHandling)
	}
	if containsAny(source, "sql.", "QueryContext", "ExecContext", "SELECT ", "INSERT ", "UPDATE ", "DELETE FROM") {
		flags = append(flags, BehaviorDatabase)
	}
	if containsAny(source, "http.", "httpClient", "NewRequest", "grpc.") {
		flags = append(flags, BehaviorExternalAPI)
	}
	if containsAny(source, "go func", "chan ", "sync.", "errgroup.") {
		flags = append(flags, BehaviorConcurrency)
	}
	if containsAny(source, "json.", "Marshal", "Unmarshal", "yaml.") {
		flags = append(flags, BehaviorSerialization)
	}
	return flags
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
