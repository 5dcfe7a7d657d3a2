package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

var (
	// ErrUnsupportedFormat is returned for uploads that are not a known image or PDF.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrRasterization is returned when a supported file cannot be decoded.
	ErrRasterization = errors.New("rasterizing file")
)

// Defaults for RasterOptions.
const (
	DefaultMaxWidth = 1000
	DefaultPDFDPI   = 300
)

// RasterOptions controls how uploads are turned into images.
type RasterOptions struct {
	// MaxWidth downscales wider images, preserving aspect ratio. Zero disables it.
	MaxWidth int
	PDFDPI   float64
}

// DefaultRasterOptions returns the options used by the service.
func DefaultRasterOptions() RasterOptions {
	return RasterOptions{MaxWidth: DefaultMaxWidth, PDFDPI: DefaultPDFDPI}
}

// Supported MIME types, as reported by mimetype.
var supportedTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp",
	"image/heic", "image/heif", "application/pdf",
}

// Rasterize decodes an uploaded file into an NRGBA image. PDFs are rendered
// from their first page. The format is sniffed from content; filename only
// appears in errors.
func Rasterize(data []byte, filename string, opts RasterOptions) (*image.NRGBA, error) {
	mime := mimetype.Detect(data)
	if !mimetype.EqualsAny(mime.String(), supportedTypes...) {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedFormat, filename, mime.String())
	}

	var (
		img image.Image
		err error
	)
	switch {
	case mime.Is("application/pdf"):
		img, err = pdfToImage(data, opts.PDFDPI)
	case mime.Is("image/heic"), mime.Is("image/heif"):
		img, err = heic.Decode(bytes.NewReader(data))
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrRasterization, filename, err)
	}

	return fitWidth(img, opts.MaxWidth), nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte, dpi float64) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if dpi <= 0 {
		dpi = DefaultPDFDPI
	}

	img, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func fitWidth(img image.Image, maxWidth int) *image.NRGBA {
	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}
	return imaging.Clone(img)
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}
