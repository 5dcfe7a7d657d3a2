package scanning

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	// ErrOCR wraps any failure of the underlying OCR engine.
	ErrOCR = errors.New("ocr failed")

	// ErrEngineNotEnabled is returned for engines compiled out of this binary.
	ErrEngineNotEnabled = errors.New("ocr engine not enabled in this build")
)

// Engine recognizes text lines in a decoded receipt image.
//
// Recognize may return whatever shape the engine natively produces; Canonicalize
// turns it into a Result. Engines are not safe for concurrent use; each worker
// of a Pool owns its own.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (any, error)
	Close() error
}

// EngineFactory creates a new Engine.
type EngineFactory func() (Engine, error)

// Engine kinds accepted by NewEngineFactory.
const (
	EnginePaddle    = "paddle"
	EngineGemini    = "gemini"
	EngineTesseract = "tesseract"
)

// EngineConfig selects and configures an OCR engine
type EngineConfig struct {
	Kind          string
	PaddleURL     string
	GeminiKey     string
	GeminiModel   string
	TesseractLang string
}

// NewEngineFactory returns a factory for the configured engine kind.
func NewEngineFactory(cfg EngineConfig) (EngineFactory, error) {
	switch cfg.Kind {
	case EnginePaddle, "":
		return func() (Engine, error) { return engine(NewPaddle(cfg.PaddleURL)) }, nil
	case EngineGemini:
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("gemini api key is required")
		}
		return func() (Engine, error) { return engine(NewGemini(cfg.GeminiKey, cfg.GeminiModel)) }, nil
	case EngineTesseract:
		return func() (Engine, error) { return engine(NewTesseract(cfg.TesseractLang)) }, nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Kind)
	}
}

// engine keeps a failed constructor from producing a non-nil Engine holding a nil pointer.
func engine[E Engine](e E, err error) (Engine, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Recognize runs eng over img once and canonicalizes its output.
func Recognize(ctx context.Context, eng Engine, img image.Image) (Result, error) {
	raw, err := eng.Recognize(ctx, img)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrOCR, err)
	}
	return Canonicalize(raw), nil
}
