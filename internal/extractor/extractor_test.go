package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/pkg/types"
)

const testRepoID = "repo-1"

func extract(t *testing.T, src string) *types.Extraction {
	t.Helper()
	ext, err := New().Extract([]byte(src), "test.go", testRepoID)
	require.NoError(t, err)
	require.NotNil(t, ext)
	return ext
}

func findNode(ext *types.Extraction, kind types.NodeKind, name string) *types.Node {
	for i := range ext.Nodes {
		if ext.Nodes[i].Kind == kind && ext.Nodes[i].Name == name {
			return &ext.Nodes[i]
		}
	}
	return nil
}

func hasEdge(ext *types.Extraction, typ types.EdgeType, fromFQN, toFQN string, fromKind, toKind types.NodeKind) bool {
	from := types.NodeID(fromKind, fromFQN)
	to := types.NodeID(toKind, toFQN)
	for _, e := range ext.Edges {
		if e.Type == typ && e.FromID == from && e.ToID == to {
			return true
		}
	}
	return false
}

func TestExtract_TypeMethodField(t *testing.T) {
	ext := extract(t, `package shop

// Order is a customer purchase.
type Order struct {
	ID    string
	Total float64
}

// Close finalizes the order.
func (o *Order) Close() error {
	return nil
}
`)

	assert.Equal(t, "shop", ext.PackageName)
	assert.False(t, ext.HasFailures())

	typ := findNode(ext, types.KindType, "Order")
	require.NotNil(t, typ)
	assert.Equal(t, "shop.Order", typ.FullyQualifiedName)
	assert.Equal(t, types.NodeID(types.KindType, "shop.Order"), typ.ID)
	assert.Equal(t, "Order is a customer purchase.", typ.Description)
	assert.Contains(t, typ.SourceCode, "Total float64")
	assert.Equal(t, testRepoID, typ.RepositoryID)
	assert.Equal(t, "test.go", typ.FilePath)

	method := findNode(ext, types.KindMethod, "Close")
	require.NotNil(t, method)
	assert.Equal(t, "shop.Order.Close", method.FullyQualifiedName)

	field := findNode(ext, types.KindField, "Total")
	require.NotNil(t, field)
	assert.Equal(t, "shop.Order.Total", field.FullyQualifiedName)

	assert.True(t, hasEdge(ext, types.EdgeHasMethod, "shop.Order", "shop.Order.Close", types.KindType, types.KindMethod))
	assert.True(t, hasEdge(ext, types.EdgeHasField, "shop.Order", "shop.Order.Total", types.KindType, types.KindField))
}

func TestExtract_EmbeddingProducesExtends(t *testing.T) {
	ext := extract(t, `package shop

type Base struct{}

type Order struct {
	Base
}

type Reader interface {
	Read() error
}

type Closer interface {
	Reader
	Close() error
}
`)

	assert.True(t, hasEdge(ext, types.EdgeExtends, "shop.Order", "shop.Base", types.KindType, types.KindType))
	assert.True(t, hasEdge(ext, types.EdgeExtends, "shop.Closer", "shop.Reader", types.KindType, types.KindType))
}

func TestExtract_Implements(t *testing.T) {
	ext := extract(t, `package shop

type Notifier interface {
	Notify(msg string) error
}

type EmailSender struct{}

func (s *EmailSender) Notify(msg string) error { return nil }

type Partial struct{}

func (p *Partial) Other() {}
`)

	assert.True(t, hasEdge(ext, types.EdgeImplements, "shop.EmailSender", "shop.Notifier", types.KindType, types.KindType))
	assert.False(t, hasEdge(ext, types.EdgeImplements, "shop.Partial", "shop.Notifier", types.KindType, types.KindType))
}

func TestExtract_CallsEdges(t *testing.T) {
	ext := extract(t, `package shop

type Store struct{}

func (s *Store) Save() error { return nil }

type Service struct {
	store Store
}

func (s *Service) Process() error {
	validate()
	return s.store.Save()
}

func validate() {}
`)

	// Bare identifier resolves to a same-package function.
	assert.True(t, hasEdge(ext, types.EdgeCalls, "shop.Service.Process", "shop.validate", types.KindMethod, types.KindMethod))
}

func TestExtract_BodyReferenceProducesUses(t *testing.T) {
	// The type reference appears only inside a method body, far from the
	// type declaration. The enclosing type must still gain a USES edge.
	ext := extract(t, `package shop

type Invoice struct {
	Amount float64
}

type Billing struct{}

func (b *Billing) Generate() {
	_ = Invoice{Amount: 10}
}
`)

	assert.True(t, hasEdge(ext, types.EdgeUses, "shop.Billing", "shop.Invoice", types.KindType, types.KindType))
}

func TestExtract_SignatureUses(t *testing.T) {
	ext := extract(t, `package shop

type Request struct{}
type Response struct{}

type API struct{}

func (a *API) Handle(r *Request) (*Response, error) { return nil, nil }
`)

	assert.True(t, hasEdge(ext, types.EdgeUses, "shop.API", "shop.Request", types.KindType, types.KindType))
	assert.True(t, hasEdge(ext, types.EdgeUses, "shop.API", "shop.Response", types.KindType, types.KindType))
}

func TestExtract_ThrowsForNamedErrorTypes(t *testing.T) {
	ext := extract(t, `package shop

type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string { return e.Field }

type Checker struct{}

func (c *Checker) Check() error {
	return &ValidationError{Field: "id"}
}
`)

	assert.True(t, hasEdge(ext, types.EdgeThrows, "shop.Checker.Check", "shop.ValidationError", types.KindMethod, types.KindType))
}

func TestExtract_DirectiveAnnotations(t *testing.T) {
	ext := extract(t, `package shop

//go:generate mockgen -source=store.go
type Store struct{}
`)

	ann := findNode(ext, types.KindAnnotation, "go:generate mockgen -source=store.go")
	require.NotNil(t, ann)
	assert.Equal(t, types.KindAnnotation, ann.Kind)
	assert.True(t, hasEdge(ext, types.EdgeAnnotatedBy, "shop.Store", ann.FullyQualifiedName, types.KindType, types.KindAnnotation))
}

func TestExtract_PlaceholdersForExternalTypes(t *testing.T) {
	ext := extract(t, `package shop

import "time"

type Order struct {
	CreatedAt time.Time
}
`)

	var found *types.Node
	for i := range ext.Placeholders {
		if ext.Placeholders[i].FullyQualifiedName == "time.Time" {
			found = &ext.Placeholders[i]
		}
	}
	require.NotNil(t, found, "external type reference should yield a placeholder")
	assert.Equal(t, types.KindType, found.Kind)
	assert.Equal(t, "Time", found.Name)
	assert.True(t, hasEdge(ext, types.EdgeUses, "shop.Order", "time.Time", types.KindType, types.KindType))
}

func TestExtract_SyntaxErrorStillYieldsPartial(t *testing.T) {
	ext := extract(t, `package shop

type Order struct {
	ID string
}

func broken( {
`)

	assert.True(t, ext.HasFailures())
	assert.NotNil(t, findNode(ext, types.KindType, "Order"))
}

func TestExtract_EdgesAreDeduplicated(t *testing.T) {
	ext := extract(t, `package shop

type Item struct{}

type Cart struct{}

func (c *Cart) Fill() {
	_ = Item{}
	_ = Item{}
	_ = Item{}
}
`)

	count := 0
	from := types.NodeID(types.KindType, "shop.Cart")
	to := types.NodeID(types.KindType, "shop.Item")
	for _, e := range ext.Edges {
		if e.Type == types.EdgeUses && e.FromID == from && e.ToID == to {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtract_NoSelfEdges(t *testing.T) {
	ext := extract(t, `package shop

type Node struct {
	Next *Node
}
`)

	for _, e := range ext.Edges {
		assert.NotEqual(t, e.FromID, e.ToID)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	src := `package shop

type Order struct {
	ID string
}

func (o *Order) Cancel() error { return nil }
`
	a := extract(t, src)
	b := extract(t, src)

	require.Equal(t, len(a.Nodes), len(b.Nodes))
	for i := range a.Nodes {
		assert.Equal(t, a.Nodes[i].ID, b.Nodes[i].ID)
	}
	assert.Equal(t, a.Edges, b.Edges)
}

func TestDetectRole(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"UserController", "", "controller"},
		{"PaymentService", "", "service"},
		{"OrderRepository", "", "repository"},
		{"NodeStore", "", "repository"},
		{"HTTPClient", "", "client"},
		{"ServerConfig", "", "configuration"},
		{"Widget", "persists widgets to the database", "repository"},
		{"Widget", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectRole(tt.name, tt.doc), tt.name)
	}
}

func TestAnalyzeBehavior(t *testing.T) {
	src := `func (s *Store) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM nodes")
	if err != nil {
		return err
	}
	go func() { _ = rows }()
	return nil
}`

	flags := AnalyzeBehavior(src)
	assert.Contains(t, flags, BehaviorErrorHandling)
	assert.Contains(t, flags, BehaviorDatabase)
	assert.Contains(t, flags, BehaviorConcurrency)
	assert.NotContains(t, flags, BehaviorSerialization)
}

func TestDetectCapabilityAndDomain(t *testing.T) {
	assert.Equal(t, "payment reconciliation", detectCapability("PaymentReconciliationService"))
	assert.Equal(t, "order", detectCapability("Order"))
	assert.Equal(t, "api", detectCapability("APIClient"))

	assert.Equal(t, "billing", detectDomain("internal/billing/invoice.go"))
	assert.Equal(t, "shop", detectDomain("shop/order.go"))
	assert.Equal(t, "", detectDomain("main.go"))
}
