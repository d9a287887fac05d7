package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperrag/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
}

func TestUpsertPaper(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	paper := &Paper{PaperID: "2401.00001", Title: "Attention Revisited", Status: PaperDownloading}
	require.NoError(t, storage.UpsertPaper(ctx, paper))

	got, err := storage.GetPaper(ctx, "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, "Attention Revisited", got.Title)
	assert.Equal(t, PaperDownloading, got.Status)
	assert.True(t, got.IngestedAt.IsZero())

	// Empty title and path don't clobber stored values
	done := time.Now().UTC().Truncate(time.Second)
	update := &Paper{PaperID: "2401.00001", Status: PaperCompleted, ChunkCount: 12, IngestedAt: done}
	require.NoError(t, storage.UpsertPaper(ctx, update))

	got, err = storage.GetPaper(ctx, "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, "Attention Revisited", got.Title)
	assert.Equal(t, PaperCompleted, got.Status)
	assert.Equal(t, 12, got.ChunkCount)
	assert.WithinDuration(t, done, got.IngestedAt, time.Second)
}

func TestUpsertPaper_DefaultsAndValidation(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	err := storage.UpsertPaper(ctx, &Paper{})
	assert.ErrorIs(t, err, types.ErrEmptyPaperID)

	paper := &Paper{PaperID: "p1"}
	require.NoError(t, storage.UpsertPaper(ctx, paper))
	assert.Equal(t, PaperPending, paper.Status)
}

func TestGetPaper_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	_, err := storage.GetPaper(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPapers(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	papers, err := storage.ListPapers(ctx)
	require.NoError(t, err)
	assert.Empty(t, papers)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, storage.UpsertPaper(ctx, &Paper{PaperID: id}))
	}
	papers, err = storage.ListPapers(ctx)
	require.NoError(t, err)
	assert.Len(t, papers, 3)
}

func TestDeletePaper(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertPaper(ctx, &Paper{PaperID: "p1"}))
	require.NoError(t, storage.ReplaceSections(ctx, "p1", []types.Section{{Key: "intro", Title: "Intro", Type: types.SectionIntroduction}}))
	require.NoError(t, storage.UpsertFigure(ctx, &types.Figure{FigureID: "1", PaperID: "p1", Data: "AAAA"}))
	require.NoError(t, storage.UpsertPoint(ctx, testPoint("pt1", "p1", "attention is all you need")))

	require.NoError(t, storage.DeletePaper(ctx, "p1"))

	_, err := storage.GetPaper(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	sections, err := storage.ListSections(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, sections)
	figures, err := storage.ListFigures(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, figures)
	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PointsCount)
	assert.Equal(t, 0, status.TermsCount)
}

func TestReplaceSections(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, storage.UpsertPaper(ctx, &Paper{PaperID: "p1"}))

	first := []types.Section{
		{Key: "1 introduction", Title: "1 Introduction", Type: types.SectionIntroduction, Number: "1", Level: 2},
		{Key: "2.1 setup", Title: "2.1 Setup", Type: types.SectionMethods, Number: "2.1", Level: 3, Subsection: true, Page: 4,
			Figures: []types.FigureRef{{ID: "2"}}},
	}
	require.NoError(t, storage.ReplaceSections(ctx, "p1", first))

	got, err := storage.ListSections(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1 introduction", got[0].Key)
	assert.Equal(t, types.SectionMethods, got[1].Type)
	assert.Equal(t, "2.1", got[1].Number)
	assert.True(t, got[1].Subsection)
	assert.Equal(t, 4, got[1].Page)
	assert.Empty(t, got[1].Content)

	require.NoError(t, storage.ReplaceSections(ctx, "p1", first[:1]))
	got, err = storage.ListSections(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFigures(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"10", "2", "1"} {
		require.NoError(t, storage.UpsertFigure(ctx, &types.Figure{
			FigureID: id, PaperID: "p1", Section: "Results", Caption: "Caption " + id, Data: "iVBORw0KGgo=",
		}))
	}
	// Same figure ID on another paper is a different figure
	require.NoError(t, storage.UpsertFigure(ctx, &types.Figure{FigureID: "1", PaperID: "p2", Data: "QUJD"}))

	list, err := storage.ListFigures(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"1", "2", "10"}, []string{list[0].FigureID, list[1].FigureID, list[2].FigureID})
	assert.Equal(t, len("iVBORw0KGgo="), list[0].SizeB64)

	fig, err := storage.GetFigure(ctx, "p2", "1")
	require.NoError(t, err)
	assert.Equal(t, "QUJD", fig.Data)

	_, err = storage.GetFigure(ctx, "p2", "2")
	assert.ErrorIs(t, err, ErrNotFound)

	err = storage.UpsertFigure(ctx, &types.Figure{FigureID: "3", PaperID: "p1"})
	assert.ErrorIs(t, err, types.ErrEmptyContent)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.False(t, status.Health.PointsAvailable)
	assert.Equal(t, BuildMode, status.BuildMode)

	require.NoError(t, storage.UpsertPaper(ctx, &Paper{PaperID: "p1", Status: PaperCompleted}))
	require.NoError(t, storage.UpsertPaper(ctx, &Paper{PaperID: "p2", Status: PaperFailed}))
	require.NoError(t, storage.UpsertPoint(ctx, testPoint("pt1", "p1", "graph neural networks")))

	status, err = storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.PapersCount)
	assert.Equal(t, 1, status.CompletedCount)
	assert.Equal(t, 1, status.FailedCount)
	assert.Equal(t, 1, status.PointsCount)
	assert.Equal(t, 3, status.TermsCount)
	assert.True(t, status.Health.PointsAvailable)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpsertPaper(ctx, &Paper{PaperID: "tx1"}))
		require.NoError(t, tx.UpsertPoint(ctx, testPoint("pt-tx1", "tx1", "committed text")))

		// Reads inside the transaction see its writes
		n, err := tx.CountPoints(ctx, "tx1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, tx.Commit())

		n, err = storage.CountPoints(ctx, "tx1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("rollback", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpsertPaper(ctx, &Paper{PaperID: "tx2"}))
		require.NoError(t, tx.Rollback())

		_, err = storage.GetPaper(ctx, "tx2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("nested", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()
		_, err = tx.BeginTx(ctx)
		assert.Error(t, err)
	})
}
