package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewInMemory()
	require.NoError(t, err)
	return ix
}

func addVector(t *testing.T, ix *Index, chunkID, documentID, workspaceID, sessionID string, vec []float32) {
	t.Helper()
	err := ix.AddEmbeddings(context.Background(),
		[]string{chunkID},
		[][]float32{vec},
		[]Metadata{{
			ChunkID:     chunkID,
			DocumentID:  documentID,
			WorkspaceID: workspaceID,
			SessionID:   sessionID,
		}})
	require.NoError(t, err)
}

func TestAddAndQuerySimilar(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	addVector(t, ix, "c1", "d1", "ws1", "", []float32{1, 0, 0})
	addVector(t, ix, "c2", "d1", "ws1", "", []float32{0, 1, 0})
	addVector(t, ix, "c3", "d2", "ws1", "", []float32{0.9, 0.1, 0})

	hits, err := ix.QuerySimilar(ctx, []float32{1, 0, 0},
		map[string]string{MetaWorkspaceID: "ws1"}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "c3", hits[1].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
}

func TestQuerySimilarConjunctiveFilter(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	addVector(t, ix, "global", "d1", "ws1", "", []float32{1, 0})
	addVector(t, ix, "sess", "d2", "ws1", "S1", []float32{1, 0})
	addVector(t, ix, "other", "d3", "ws2", "S1", []float32{1, 0})

	hits, err := ix.QuerySimilar(ctx, []float32{1, 0},
		map[string]string{MetaWorkspaceID: "ws1", MetaSessionID: "S1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "sess", hits[0].ChunkID)

	// Global pool addressed by the empty-string session marker.
	hits, err = ix.QuerySimilar(ctx, []float32{1, 0},
		map[string]string{MetaWorkspaceID: "ws1", MetaSessionID: ""}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "global", hits[0].ChunkID)
}

func TestQuerySimilarClampsK(t *testing.T) {
	ix := newTestIndex(t)
	addVector(t, ix, "c1", "d1", "ws1", "", []float32{1, 0})

	hits, err := ix.QuerySimilar(context.Background(), []float32{1, 0}, nil, 50)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestQuerySimilarEmptyIndex(t *testing.T) {
	ix := newTestIndex(t)
	hits, err := ix.QuerySimilar(context.Background(), []float32{1, 0}, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAddEmbeddingsUpsertsByID(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	addVector(t, ix, "c1", "d1", "ws1", "", []float32{1, 0})
	addVector(t, ix, "c1", "d1", "ws1", "", []float32{0, 1})

	assert.Equal(t, 1, ix.Count())
	hits, err := ix.QuerySimilar(ctx, []float32{0, 1}, nil, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
}

func TestAddEmbeddingsLengthMismatch(t *testing.T) {
	ix := newTestIndex(t)
	err := ix.AddEmbeddings(context.Background(),
		[]string{"a", "b"}, [][]float32{{1}}, []Metadata{{}})
	assert.Error(t, err)
}

func TestDeleteByDocument(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	addVector(t, ix, "c1", "d1", "ws1", "", []float32{1, 0})
	addVector(t, ix, "c2", "d1", "ws1", "", []float32{0, 1})
	addVector(t, ix, "c3", "d2", "ws1", "", []float32{1, 1})

	require.NoError(t, ix.DeleteByDocument(ctx, "d1"))
	assert.Equal(t, 1, ix.Count())

	hits, err := ix.QuerySimilar(ctx, []float32{1, 0},
		map[string]string{MetaDocumentID: "d1"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteBySession(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	addVector(t, ix, "c1", "d1", "ws1", "S1", []float32{1, 0})
	addVector(t, ix, "c2", "d2", "ws1", "", []float32{0, 1})

	require.NoError(t, ix.DeleteBySession(ctx, "S1"))
	assert.Equal(t, 1, ix.Count())
}

func TestResetRequiresConfirmation(t *testing.T) {
	ix := newTestIndex(t)
	addVector(t, ix, "c1", "d1", "ws1", "", []float32{1, 0})

	err := ix.Reset(context.Background(), false)
	assert.Error(t, err)
	assert.Equal(t, 1, ix.Count())

	require.NoError(t, ix.Reset(context.Background(), true))
	assert.Equal(t, 0, ix.Count())
}

func TestPersistentIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ix, err := NewPersistent(dir)
	require.NoError(t, err)
	addVector(t, ix, "c1", "d1", "ws1", "", []float32{1, 0})

	reopened, err := NewPersistent(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}
