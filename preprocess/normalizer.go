package preprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/poiesic/docingest/core"
)

const (
	// DefaultThreshold is the binarization cutoff. Pixels at or above it become white.
	DefaultThreshold = 128

	// DefaultSharpenSigma is the gaussian sigma used by the sharpen step.
	DefaultSharpenSigma = 1.0

	// DefaultMaxPixels bounds the decoded size of an image. Every filter step
	// holds a full RGBA copy, so memory grows with width*height, not file size.
	DefaultMaxPixels = 40_000_000
)

// ErrImageTooLarge is returned when an image's declared dimensions exceed the pixel budget.
var ErrImageTooLarge = errors.New("image dimensions exceed pixel budget")

// Normalizer turns raw image bytes into a form that is easier to transcribe.
// Implementations must be thread-safe for concurrent use.
type Normalizer interface {
	// Normalize returns the preprocessed image. Errors wrap core.ErrNormalization.
	Normalize(ctx context.Context, raw []byte) ([]byte, error)
}

// ImageNormalizer applies grayscale, contrast stretch, sharpen and a fixed
// threshold, in that order, and encodes the result as PNG.
type ImageNormalizer struct {
	threshold    uint8
	sharpenSigma float64
	maxPixels    int64
	logger       *slog.Logger
}

var _ Normalizer = (*ImageNormalizer)(nil)

// Option configures an ImageNormalizer.
type Option func(*ImageNormalizer)

// WithThreshold sets the binarization cutoff.
func WithThreshold(threshold uint8) Option {
	return func(n *ImageNormalizer) {
		n.threshold = threshold
	}
}

// WithSharpenSigma sets the sharpen strength. Values <= 0 skip sharpening.
func WithSharpenSigma(sigma float64) Option {
	return func(n *ImageNormalizer) {
		n.sharpenSigma = sigma
	}
}

// WithMaxPixels sets the largest accepted width*height. Values <= 0 restore the default.
func WithMaxPixels(pixels int64) Option {
	return func(n *ImageNormalizer) {
		if pixels <= 0 {
			pixels = DefaultMaxPixels
		}
		n.maxPixels = pixels
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *ImageNormalizer) {
		if logger == nil {
			logger = slog.Default()
		}
		n.logger = logger
	}
}

// NewImageNormalizer creates a normalizer with the default threshold and sharpen sigma.
func NewImageNormalizer(opts ...Option) *ImageNormalizer {
	n := &ImageNormalizer{
		threshold:    DefaultThreshold,
		sharpenSigma: DefaultSharpenSigma,
		maxPixels:    DefaultMaxPixels,
		logger:       slog.Default().With("component", "normalizer"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize decodes raw, runs the normalization steps and returns a two-tone PNG.
func (n *ImageNormalizer) Normalize(ctx context.Context, raw []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrNormalization, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", core.ErrNormalization, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > n.maxPixels {
		return nil, fmt.Errorf("%w: %w: %dx%d", core.ErrNormalization, ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", core.ErrNormalization, err)
	}

	bounds := img.Bounds()
	n.logger.Debug("normalizing image", "width", bounds.Dx(), "height", bounds.Dy())

	gray := imaging.Grayscale(img)
	stretched := stretchContrast(gray)
	sharpened := stretched
	if n.sharpenSigma > 0 {
		sharpened = imaging.Sharpen(stretched, n.sharpenSigma)
	}
	binary := binarize(sharpened, n.threshold)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, binary, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: encode: %w", core.ErrNormalization, err)
	}
	return buf.Bytes(), nil
}

// stretchContrast linearly maps the darkest gray level to 0 and the
// brightest to 255. Input must already be grayscale (R == G == B).
func stretchContrast(img *image.NRGBA) *image.NRGBA {
	lo, hi := uint8(255), uint8(0)
	for i := 0; i < len(img.Pix); i += 4 {
		v := img.Pix[i]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo || (lo == 0 && hi == 255) {
		return img
	}

	span := float64(hi - lo)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := uint8(float64(c.R-lo)*255.0/span + 0.5)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// binarize maps every pixel to black or white. Transparent pixels are
// composited onto white first.
func binarize(img *image.NRGBA, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			v := (uint32(c.R)*uint32(c.A) + 255*(255-uint32(c.A))) / 255
			if v >= uint32(threshold) {
				out.SetGray(x, y, color.Gray{Y: 255})
			} else {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}
