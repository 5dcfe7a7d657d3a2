package receipt

import (
	"errors"
	"time"

	"github.com/zombor/receipt-ocr/internal/extract"
)

// ErrBatchNotFound is returned for unknown batches and for batches owned by
// another client.
var ErrBatchNotFound = errors.New("batch not found")

// Stage is a step of the per-image pipeline.
type Stage string

const (
	StageReceived        Stage = "received"
	StageRasterized      Stage = "rasterized"
	StageRecognized      Stage = "recognized"
	StageFieldsExtracted Stage = "fields_extracted"
	StageClassified      Stage = "classified"
	StageAssembled       Stage = "assembled"
	StagePersisted       Stage = "persisted"
	StageFailed          Stage = "failed"
)

// Upload is one submitted file
type Upload struct {
	Filename string
	Data     []byte
}

// Batch is a set of uploads from one client. ServiceKey, when set, overrides
// the configured tax lookup key for this batch only.
type Batch struct {
	ClientID   string
	ServiceKey string
	Files      []Upload
}

// Record is the extraction result for one image
type Record struct {
	BusinessNumber string          `json:"business_number,omitempty"`
	PaymentDate    string          `json:"payment_date"`
	MerchantName   string          `json:"merchant_name"`
	PaymentAmount  int64           `json:"payment_amount"`
	HasAmount      bool            `json:"has_amount"`
	TaxType        extract.TaxType `json:"tax_type"`
}

// Outcome is the result of one upload: either a record with its stored file
// names, or the stage that failed and why.
type Outcome struct {
	Index          int      `json:"index"`
	OriginalFile   string   `json:"original_file"`
	Stage          Stage    `json:"stage"`
	FailedAt       Stage    `json:"failed_at,omitempty"`
	Error          string   `json:"error,omitempty"`
	Record         *Record  `json:"record,omitempty"`
	Lines          []string `json:"lines,omitempty"`
	RenamedFile    string   `json:"renamed_file,omitempty"`
	VisualizedFile string   `json:"visualized_file,omitempty"`
	RenamedPath    string   `json:"-"`
	VisualizedPath string   `json:"-"`
}

// Failed reports whether the upload did not make it through the pipeline.
func (o Outcome) Failed() bool {
	return o.Stage == StageFailed
}

// BatchResult holds one outcome per upload, in upload order.
type BatchResult struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}
