package mock

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministicVector(t *testing.T) {
	a := GenerateDeterministicVector("hello", 16)
	b := GenerateDeterministicVector("hello", 16)
	c := GenerateDeterministicVector("world", 16)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestMockEmbedder(t *testing.T) {
	m := NewMockEmbedder()
	m.Dimensions = 8

	v, err := m.EmbedText(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, v, 8)

	vs, err := m.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vs, 2)
	assert.Equal(t, 2, m.CallCount())

	m.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("down")
	}
	_, err = m.EmbedText(context.Background(), "x")
	assert.Error(t, err)

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
}

func TestMockTextRecognizer(t *testing.T) {
	m := NewMockTextRecognizer()
	m.Transcript = "hello streaming world"
	m.ChunkSize = 5

	var chunks []string
	err := m.StreamText(context.Background(), []byte("img"), "image/png", "x", func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello streaming world", strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, 1, m.CallCount())
	assert.Equal(t, "image/png", m.LastMIMEType())
	assert.Equal(t, []byte("img"), m.LastImage())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	mp := p.(*MockProvider)

	assert.Same(t, mp.GetMockEmbedder(), p.Embedder())
	assert.Same(t, mp.GetMockRecognizer(), p.TextRecognizer())
	assert.NoError(t, p.Close())
}
