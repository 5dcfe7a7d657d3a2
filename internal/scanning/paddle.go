package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"
)

// Paddle implements Engine against a PaddleOCR serving pipeline
// (paddlex --serve --pipeline OCR).
type Paddle struct {
	baseURL string
	client  *http.Client
}

// NewPaddle creates a new PaddleOCR serving client
func NewPaddle(baseURL string) (*Paddle, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &Paddle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 120 * time.Second, // CPU inference on large scans is slow
		},
	}, nil
}

// paddleOCRRequest is the request body of the serving OCR endpoint.
// fileType 1 means an image.
type paddleOCRRequest struct {
	File                      string `json:"file"`
	FileType                  int    `json:"fileType"`
	UseDocOrientationClassify bool   `json:"useDocOrientationClassify"`
	UseDocUnwarping           bool   `json:"useDocUnwarping"`
	UseTextlineOrientation    bool   `json:"useTextlineOrientation"`
}

type paddleOCRResponse struct {
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	Result    any    `json:"result"`
}

// Recognize posts img to the serving pipeline and returns its untyped result.
// The recognized lines sit several levels down; Canonicalize finds them.
func (p *Paddle) Recognize(ctx context.Context, img image.Image) (any, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(paddleOCRRequest{
		File:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		FileType: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/ocr", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling paddleocr API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("paddleocr API error (status %d): %s", resp.StatusCode, string(body))
	}

	var ocrResp paddleOCRResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocrResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if ocrResp.ErrorCode != 0 {
		return nil, fmt.Errorf("paddleocr error %d: %s", ocrResp.ErrorCode, ocrResp.ErrorMsg)
	}

	return ocrResp.Result, nil
}

// Close is a no-op for the HTTP client
func (p *Paddle) Close() error {
	return nil
}
