package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeID_Deterministic(t *testing.T) {
	a := NodeID(KindType, "shop.Order")
	b := NodeID(KindType, "shop.Order")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Same name, different kind must not collide.
	assert.NotEqual(t, a, NodeID(KindMethod, "shop.Order"))
	assert.NotEqual(t, a, NodeID(KindType, "shop.Orders"))
}

func TestNodeValidate(t *testing.T) {
	valid := Node{
		ID:                 NodeID(KindType, "shop.Order"),
		Kind:               KindType,
		Name:               "Order",
		FullyQualifiedName: "shop.Order",
		RepositoryID:       "repo-1",
	}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.RepositoryID = ""
	assert.Error(t, missing.Validate())

	badKind := valid
	badKind.Kind = "package"
	assert.Error(t, badKind.Validate())

	empty := valid
	empty.Embedding = []float32{}
	assert.ErrorIs(t, empty.Validate(), ErrEmptyEmbedding)

	mismatch := valid
	mismatch.Embedding = []float32{0.1, 0.2}
	mismatch.Dimension = 3
	assert.ErrorIs(t, mismatch.Validate(), ErrDimensionMismatch)

	withVector := valid
	withVector.Embedding = []float32{0.1, 0.2, 0.3}
	withVector.Dimension = 3
	assert.NoError(t, withVector.Validate())
	assert.True(t, withVector.HasEmbedding())
}

func TestEdgeValidate(t *testing.T) {
	edge := Edge{FromID: "a", ToID: "b", Type: EdgeCalls}
	require.NoError(t, edge.Validate())

	edge.Type = "DEPENDS_ON"
	assert.Error(t, edge.Validate())

	edge = Edge{FromID: "", ToID: "b", Type: EdgeCalls}
	assert.Error(t, edge.Validate())
}

func TestNormalizeRepoKey(t *testing.T) {
	key := NormalizeRepoKey("https://github.com/Acme/Shop.git", "main")
	assert.Equal(t, "https://github.com/acme/shop#main", key)

	// Spelling variants resolve to one record.
	assert.Equal(t, key, NormalizeRepoKey("https://github.com/acme/shop/", "main"))
	assert.Equal(t, key, NormalizeRepoKey(" https://github.com/acme/shop ", ""))

	assert.NotEqual(t, key, NormalizeRepoKey("https://github.com/acme/shop", "develop"))
}

func TestSearchResultValidate(t *testing.T) {
	r := SearchResult{
		NodeID:             "n1",
		Rank:               1,
		MatchType:          MatchExact,
		SimilarityScore:    1.0,
		EntityType:         KindType,
		Name:               "Order",
		FullyQualifiedName: "shop.Order",
	}
	require.NoError(t, r.Validate())

	r.Rank = 0
	assert.Error(t, r.Validate())

	r.Rank = 1
	r.SimilarityScore = 1.5
	assert.Error(t, r.Validate())
}
