package docingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/ai/mock"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(transcript string) ai.AIProvider {
	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 16
	recognizer := mock.NewMockTextRecognizer()
	recognizer.Transcript = transcript
	return mock.NewMockProviderWithServices(embedder, recognizer)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 4)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := NewDatabase(tmpDir)
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()

	assert.NotNil(t, db.Store())
	assert.NotNil(t, db.Provider())
}

func TestDatabase_Close(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := NewDatabase(tmpDir, WithProvider(newTestProvider("x")))
	require.NoError(t, err)
	require.NotNil(t, db)

	err = db.Close()
	assert.NoError(t, err)
}

func TestDatabase_InvalidAIConfigReleasesStore(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := ai.NewConfig(ai.WithVisionModel(""))

	_, err := NewDatabase(tmpDir, WithAIConfig(cfg))
	require.Error(t, err)

	// The directory lock must have been released.
	db, err := NewDatabase(tmpDir, WithProvider(newTestProvider("x")))
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestNewDatabaseWithStore(t *testing.T) {
	t.Run("nil store", func(t *testing.T) {
		_, err := NewDatabaseWithStore(nil)
		assert.ErrorIs(t, err, ErrStoreRequired)
	})

	t.Run("memory store", func(t *testing.T) {
		store, err := badger.NewMemoryStore()
		require.NoError(t, err)

		db, err := NewDatabaseWithStore(store, WithProvider(newTestProvider("x")))
		require.NoError(t, err)
		assert.Same(t, store, db.Store())
		require.NoError(t, db.Close())
	})
}

func TestDatabase_FactoryMethods(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := NewDatabase(tmpDir, WithProvider(newTestProvider("x")))
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()

	t.Run("can create ingestion pipeline", func(t *testing.T) {
		pipeline, err := db.NewIngestionPipeline()
		require.NoError(t, err)
		require.NotNil(t, pipeline)
		pipeline.Release()
	})

	t.Run("can create searcher", func(t *testing.T) {
		searcher, err := db.NewSearcher()
		require.NoError(t, err)
		require.NotNil(t, searcher)
	})
}

func TestDatabase_IngestAndSearch(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	db, err := NewDatabase(tmpDir, WithProvider(newTestProvider("Invoice 42 total due")))
	require.NoError(t, err)

	pipeline, err := db.NewIngestionPipeline()
	require.NoError(t, err)

	outcomes, err := pipeline.Ingest(ctx, []core.Submission{
		{Filename: "scan.png", MIMEType: "image/png", Data: testPNG(t)},
	})
	pipeline.Release()
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].OK(), outcomes[0].Reason())
	assert.Equal(t, "Invoice 42 total due", outcomes[0].Text)

	id := outcomes[0].DocumentID

	searcher, err := db.NewSearcher()
	require.NoError(t, err)
	results, err := searcher.FindSimilar(ctx, "Invoice 42 total due", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Record.ID)

	require.NoError(t, db.Close())

	t.Run("records survive reopen", func(t *testing.T) {
		db, err := NewDatabase(tmpDir, WithProvider(newTestProvider("x")))
		require.NoError(t, err)
		defer db.Close()

		record, err := db.Store().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "scan.png", record.Filename)
		assert.Len(t, record.Embedding, 16)

		dim, err := db.Store().Dimension(ctx)
		require.NoError(t, err)
		assert.Equal(t, 16, dim)
	})

	t.Run("conflicting dimension is rejected", func(t *testing.T) {
		_, err := NewDatabase(tmpDir, WithProvider(newTestProvider("x")), WithDimension(3))
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})
}
