// Package extract turns the recognized text of a Korean card or POS receipt into
// structured fields. Every extractor is total: when nothing usable is found it
// returns a sentinel instead of an error.
package extract

import "strings"

// Unknown is the sentinel for a text field that could not be determined.
const Unknown = "UNKNOWN"

// Document is the text view of one recognized receipt.
type Document struct {
	Lines    []string
	FullText string
}

// NewDocument builds a Document from recognized lines, dropping blank ones.
func NewDocument(lines []string) Document {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return Document{
		Lines:    kept,
		FullText: strings.Join(kept, "\n"),
	}
}

// Fields holds everything the extractors pulled out of one receipt
type Fields struct {
	BusinessNumber string `json:"biz_no,omitempty"`
	PaymentDate    string `json:"pay_date"`
	MerchantName   string `json:"merchant"`
	PaymentAmount  int64  `json:"amount"`
	HasAmount      bool   `json:"-"`
}

// Extract runs every field extractor over doc.
func Extract(doc Document) Fields {
	bizNo, _ := BusinessNumber(doc.FullText)
	amount, ok := PaymentAmount(doc.Lines)
	return Fields{
		BusinessNumber: bizNo,
		PaymentDate:    PaymentDate(doc),
		MerchantName:   MerchantName(doc.Lines),
		PaymentAmount:  amount,
		HasAmount:      ok,
	}
}

// strategy is one step of an extractor's fallback chain. The bool reports
// whether the step produced an answer; the first answering step wins.
type strategy[T any] func(Document) (T, bool)

func firstOf[T any](doc Document, chain ...strategy[T]) (T, bool) {
	for _, s := range chain {
		if v, ok := s(doc); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
