package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netsight-go/internal/model"
)

func sourceDocs(sources []model.Source) []string {
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.DocumentID
	}
	return ids
}

func TestRetrievalService_Scope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.documents.Register(ctx, alice, []byte("alice private notes"), "p.txt")
	require.NoError(t, err)
	c, err := f.documents.RegisterSharedUpload(ctx, admin, []byte("shared handbook"), "c.pdf")
	require.NoError(t, err)
	q, err := f.documents.Register(ctx, bob, []byte("bob private notes"), "q.txt")
	require.NoError(t, err)

	session, err := f.sessionSv.CreateSession(ctx, alice, model.ModeKnowledge, "")
	require.NoError(t, err)

	sources, err := f.retrieval.Retrieve(ctx, alice, session, "notes", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p.ID, c.ID}, sourceDocs(sources))

	require.NoError(t, f.documents.Hide(ctx, alice, c.ID))
	sources, err = f.retrieval.Retrieve(ctx, alice, session, "notes", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, sourceDocs(sources))

	// 选中的文档同样受可见性约束：隐藏的共享文档和他人的私有文档都不会命中
	require.NoError(t, f.sessionSv.UpdateSessionDocuments(ctx, alice, session.ID, []string{c.ID, q.ID}))
	session, err = f.sessionSv.GetSession(ctx, alice, session.ID)
	require.NoError(t, err)
	sources, err = f.retrieval.Retrieve(ctx, alice, session, "notes", 10)
	require.NoError(t, err)
	assert.Empty(t, sources)

	require.NoError(t, f.sessionSv.UpdateSessionDocuments(ctx, alice, session.ID, []string{p.ID}))
	session, err = f.sessionSv.GetSession(ctx, alice, session.ID)
	require.NoError(t, err)
	sources, err = f.retrieval.Retrieve(ctx, alice, session, "notes", 10)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "p.txt", sources[0].Filename)
	assert.Equal(t, "alice private notes", sources[0].Text)

	// bob 没有隐藏共享文档
	bobSession, err := f.sessionSv.CreateSession(ctx, bob, model.ModeKnowledge, "")
	require.NoError(t, err)
	sources, err = f.retrieval.Retrieve(ctx, bob, bobSession, "notes", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c.ID, q.ID}, sourceDocs(sources))
}

func TestRetrievalService_TopKAndOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := f.documents.Register(ctx, alice, []byte("content of "+name), name)
		require.NoError(t, err)
	}
	session := &model.ChatSession{ID: "s", OwnerID: alice.ID, Mode: model.ModeKnowledge, UpdatedAt: time.Now()}

	sources, err := f.retrieval.Retrieve(ctx, alice, session, "content", 2)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.GreaterOrEqual(t, sources[0].Score, sources[1].Score)
	assert.Equal(t, "a.txt", sources[0].Filename)
}

func TestRetrievalService_EdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sources, err := f.retrieval.Retrieve(ctx, alice, nil, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, sources)

	session := &model.ChatSession{ID: "s", OwnerID: alice.ID, Mode: model.ModeKnowledge}
	sources, err = f.retrieval.Retrieve(ctx, alice, session, "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, sources)
	assert.Empty(t, sources)

	failing := NewRetrievalService(f.docRepo, staticEmbedder{err: errors.New("embedding down")}, f.index)
	_, err = failing.Retrieve(ctx, alice, session, "anything", 5)
	assert.Error(t, err)
}

func TestRetrievalService_UnknownFilename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.index.Add(ctx, []model.EsChunk{{
		ChunkID: "orphan_0", DocumentID: "orphan", OwnerID: alice.ID, Visibility: model.VisibilityPrivate, Text: "orphan text",
	}}))
	session := &model.ChatSession{ID: "s", OwnerID: alice.ID, Mode: model.ModeKnowledge}

	sources, err := f.retrieval.Retrieve(ctx, alice, session, "orphan", 5)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "Unknown", sources[0].Filename)
}
