package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcribePrompt asks the model for a line transcription in the same shape
// the PaddleOCR pipeline returns, so both engines canonicalize the same way.
const transcribePrompt = `You are an OCR engine. Transcribe every line of text in this receipt image exactly as printed, top to bottom. Do not translate, correct or summarize. Keep Korean text as Korean.

Return ONLY valid JSON in this exact format:
{
  "rec_texts": ["first line", "second line"],
  "rec_scores": [0.99, 0.95]
}

rec_scores holds your confidence for each line between 0 and 1. Do not use markdown code blocks.`

// Gemini implements Engine using Google Gemini vision models
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini engine
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:  client,
		model:   model,
		timeout: 60 * time.Second,
	}, nil
}

// Recognize transcribes img and returns the parsed JSON payload.
func (g *Gemini) Recognize(ctx context.Context, img image.Image) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}

	// genai.ImageData expects the format suffix, not the MIME type
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", buf.Bytes()), genai.Text(transcribePrompt))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	payload, err := parseLinesJSON(text.String())
	if err != nil {
		return nil, fmt.Errorf("parsing transcription: %w", err)
	}
	return payload, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
