package extract

import "strings"

// TaxType is a VAT registration class. Its value is the label used in file names.
type TaxType string

const (
	TaxGeneral    TaxType = "일반"
	TaxSimplified TaxType = "간이"
	TaxExempt     TaxType = "면세"
	TaxUnknown    TaxType = "미확인"
	TaxError      TaxType = "오류"
)

// classified in priority order
var taxClasses = []TaxType{TaxGeneral, TaxSimplified, TaxExempt}

// NormalizeTaxType maps a free-text tax status, as returned by the tax
// authority, onto a TaxType. A nil status or one naming no known class is TaxError.
// Normalizing a label it returns gives the same label back; TaxUnknown is never
// returned, so its label normalizes to TaxError.
func NormalizeTaxType(raw *string) TaxType {
	if raw == nil {
		return TaxError
	}
	for _, class := range taxClasses {
		if strings.Contains(*raw, string(class)) {
			return class
		}
	}
	return TaxError
}

func (t TaxType) String() string {
	return string(t)
}
