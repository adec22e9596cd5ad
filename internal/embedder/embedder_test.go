package embedder

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/pkg/types"
)

func TestCache_GetReturnsDeepCopy(t *testing.T) {
	cache := NewCache(10)
	cache.Set("h1", &Embedding{
		Vector:    []float32{1, 2, 3},
		Dimension: 3,
		Provider:  ProviderLocal,
		Hash:      "h1",
	})

	got, ok := cache.Get("h1")
	require.True(t, ok)
	got.Vector[0] = 99

	again, ok := cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestCache_Eviction(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", &Embedding{Hash: "a"})
	cache.Set("b", &Embedding{Hash: "b"})
	cache.Set("c", &Embedding{Hash: "c"})

	assert.Equal(t, 2, cache.Size())
	_, ok := cache.Get("a")
	assert.False(t, ok)
}

func TestComputeHash_Deterministic(t *testing.T) {
	assert.Equal(t, ComputeHash("hello"), ComputeHash("hello"))
	assert.NotEqual(t, ComputeHash("hello"), ComputeHash("world"))
	assert.Len(t, ComputeHash("hello"), 64)
}

func TestValidateRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "x"}))
}

func TestValidateBatchRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a", ""}}), ErrInvalidInput)
	assert.NoError(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a", "b"}}))
}

func TestLocalProvider_Deterministic(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	a, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "type shop.Order"})
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "type shop.Order"})
	require.NoError(t, err)

	assert.Equal(t, a.Vector, b.Vector)
	assert.Equal(t, LocalDimension, a.Dimension)
	assert.Len(t, a.Vector, LocalDimension)
}

func TestLocalProvider_UnitLength(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)

	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "some entity"})
	require.NoError(t, err)

	var sum float64
	for _, v := range emb.Vector {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestLocalProvider_DistinctTexts(t *testing.T) {
	p, _ := NewLocalProvider(nil)

	a, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "alpha"})
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "beta"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Vector, b.Vector)
}

func TestLocalProvider_BatchPreservesOrder(t *testing.T) {
	p, _ := NewLocalProvider(NewCache(10))

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{
		Texts: []string{"one", "two", "three"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)

	single, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "two"})
	require.NoError(t, err)
	assert.Equal(t, single.Vector, resp.Embeddings[1].Vector)
}

func TestNormalizeVector_Zero(t *testing.T) {
	v := []float32{0, 0, 0}
	assert.Equal(t, v, NormalizeVector(v))
}

func TestNewFromEnv_DefaultsToLocal(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	emb, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())
	assert.Equal(t, ProviderLocal, DetectProvider())
}

func TestNewFromEnv_ExplicitProvider(t *testing.T) {
	t.Setenv(EnvProvider, "jina")
	t.Setenv(EnvJinaAPIKey, "test-key")

	emb, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderJina, emb.Provider())
	assert.Equal(t, JinaDimension, emb.Dimension())
}

func TestNewFromEnv_UnknownProvider(t *testing.T) {
	t.Setenv(EnvProvider, "bogus")

	_, err := NewFromEnv()
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")

	_, err := New(Config{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestDescribe_IncludesStructuralContext(t *testing.T) {
	n := types.Node{
		Kind:               types.KindType,
		Name:               "OrderService",
		FullyQualifiedName: "shop.OrderService",
		PackageName:        "shop",
		Role:               "service",
		Description:        "OrderService coordinates order lifecycle.",
		SourceCode:         "func (s *OrderService) Place() error {\n\tif err != nil {\n\t\treturn err\n\t}\n}",
	}

	text := Describe(n, []string{"shop.BaseService"}, []string{"Place() error", "Cancel(id string) error"})

	assert.Contains(t, text, "type shop.OrderService")
	assert.Contains(t, text, "role: service")
	assert.Contains(t, text, "extends: shop.BaseService")
	assert.Contains(t, text, "Place() error")
	assert.Contains(t, text, "coordinates order lifecycle")
	assert.Contains(t, text, "behavior:")
}

func TestDescribe_CapsMembers(t *testing.T) {
	members := make([]string, 20)
	for i := range members {
		members[i] = "M() error"
	}
	text := Describe(types.Node{Kind: types.KindType, FullyQualifiedName: "p.T"}, nil, members)
	assert.Equal(t, maxDescribedMembers, strings.Count(text, "M() error"))
}
