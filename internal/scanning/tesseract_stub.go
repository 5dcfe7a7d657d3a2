//go:build !tesseract

package scanning

import (
	"context"
	"image"
)

// Tesseract is unavailable without the "tesseract" build tag.
type Tesseract struct{}

// NewTesseract always fails with ErrEngineNotEnabled in this build.
func NewTesseract(lang string) (*Tesseract, error) {
	return nil, ErrEngineNotEnabled
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (any, error) {
	return nil, ErrEngineNotEnabled
}

func (t *Tesseract) Close() error { return nil }
