// Package preprocess prepares scanned images for text recognition.
//
// The ImageNormalizer pipeline is fixed: grayscale, contrast stretch to the
// full intensity range, sharpen, then binarize at a mid-range threshold. Each
// step assumes the output of the previous one. Normalization failures are
// reported as core.ErrNormalization and callers are expected to fall back to
// the original bytes.
package preprocess
