//go:build tesseract

package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements Engine with a local Tesseract install. It requires the
// "tesseract" build tag and the kor traineddata.
type Tesseract struct {
	client *gosseract.Client
}

// NewTesseract creates a Tesseract engine for lang ("kor+eng" when empty).
func NewTesseract(lang string) (*Tesseract, error) {
	if lang == "" {
		lang = "kor+eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	return &Tesseract{client: client}, nil
}

// Recognize returns one Region per text line.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("reading text lines: %w", err)
	}

	regions := make([]Region, 0, len(boxes))
	for _, b := range boxes {
		r := b.Box
		regions = append(regions, Region{
			Text:       b.Word,
			Confidence: b.Confidence / 100,
			Polygon: []image.Point{
				r.Min, {X: r.Max.X, Y: r.Min.Y}, r.Max, {X: r.Min.X, Y: r.Max.Y},
			},
		})
	}
	return regions, nil
}

// Close releases the Tesseract handle
func (t *Tesseract) Close() error {
	return t.client.Close()
}
