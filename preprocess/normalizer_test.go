package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/poiesic/docingest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradientImage returns a low-contrast RGB gradient with a dark bar in the middle.
func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(100 + (x*40)/w)
			if y > h/3 && y < 2*h/3 {
				v = 90
			}
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: v, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assertTwoTone(t *testing.T, data []byte, wantBounds image.Rectangle) {
	t.Helper()
	out, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, wantBounds.Dx(), out.Bounds().Dx())
	assert.Equal(t, wantBounds.Dy(), out.Bounds().Dy())

	for y := out.Bounds().Min.Y; y < out.Bounds().Max.Y; y++ {
		for x := out.Bounds().Min.X; x < out.Bounds().Max.X; x++ {
			g := color.GrayModel.Convert(out.At(x, y)).(color.Gray)
			if g.Y != 0 && g.Y != 255 {
				t.Fatalf("pixel (%d,%d) = %d, want 0 or 255", x, y, g.Y)
			}
		}
	}
}

func TestNormalize_PNG(t *testing.T) {
	src := gradientImage(40, 30)
	n := NewImageNormalizer()

	out, err := n.Normalize(context.Background(), encodePNG(t, src))
	require.NoError(t, err)
	assertTwoTone(t, out, src.Bounds())
}

func TestNormalize_JPEG(t *testing.T) {
	src := gradientImage(32, 32)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}))

	out, err := NewImageNormalizer().Normalize(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assertTwoTone(t, out, src.Bounds())
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := encodePNG(t, gradientImage(20, 20))
	n := NewImageNormalizer()

	a, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	b, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalize_Undecodable(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "garbage", raw: []byte("definitely not an image")},
		{name: "empty", raw: nil},
		{name: "truncated png", raw: encodePNG(t, gradientImage(10, 10))[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImageNormalizer().Normalize(context.Background(), tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrNormalization)
		})
	}
}

func TestNormalize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewImageNormalizer().Normalize(ctx, encodePNG(t, gradientImage(4, 4)))
	assert.ErrorIs(t, err, core.ErrNormalization)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStretchContrast(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 120, G: 120, B: 120, A: 255})
	img.SetNRGBA(2, 0, color.NRGBA{R: 140, G: 140, B: 140, A: 255})

	out := stretchContrast(img)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(128), out.NRGBAAt(1, 0).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(2, 0).R)
}

func TestStretchContrast_Flat(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	assert.Same(t, img, stretchContrast(img))
}

func TestBinarize(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 127, G: 127, B: 127, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	img.SetNRGBA(2, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 0}) // transparent
	img.SetNRGBA(3, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	out := binarize(img, 128)
	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(2, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(3, 0).Y)

	out = binarize(img, 200)
	assert.Equal(t, uint8(0), out.GrayAt(1, 0).Y)
}

func TestNormalize_PixelBudget(t *testing.T) {
	t.Run("large blank image is rejected before decoding", func(t *testing.T) {
		// Compresses to a few dozen KiB but would expand to gigabytes across the filter steps.
		raw := encodePNG(t, image.NewGray(image.Rect(0, 0, 8000, 8000)))

		out, err := NewImageNormalizer().Normalize(context.Background(), raw)
		require.Error(t, err)
		assert.Nil(t, out)
		assert.ErrorIs(t, err, core.ErrNormalization)
		assert.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("custom budget", func(t *testing.T) {
		raw := encodePNG(t, gradientImage(40, 30))

		_, err := NewImageNormalizer(WithMaxPixels(1199)).Normalize(context.Background(), raw)
		assert.ErrorIs(t, err, ErrImageTooLarge)

		out, err := NewImageNormalizer(WithMaxPixels(1200)).Normalize(context.Background(), raw)
		require.NoError(t, err)
		assertTwoTone(t, out, image.Rect(0, 0, 40, 30))
	})
}

func TestOptions(t *testing.T) {
	n := NewImageNormalizer(WithThreshold(100), WithSharpenSigma(0), WithLogger(nil))
	assert.Equal(t, uint8(100), n.threshold)
	assert.Equal(t, 0.0, n.sharpenSigma)
	assert.NotNil(t, n.logger)
	assert.Equal(t, int64(DefaultMaxPixels), n.maxPixels)

	n = NewImageNormalizer(WithMaxPixels(0))
	assert.Equal(t, int64(DefaultMaxPixels), n.maxPixels)
}
