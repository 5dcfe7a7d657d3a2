package receipt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	imageExt      = ".png"
	visualSuffix  = "_vis"
	maxNameLength = 30
)

// Names are the two stored file names of a processed image.
type Names struct {
	Plain      string
	Visualized string
}

// Assemble formats {date}_{tax}_{amount}_{merchant}.png and its visualization
// variant. The same record always yields the same names.
func Assemble(rec Record) Names {
	amount := int64(0)
	if rec.HasAmount {
		amount = rec.PaymentAmount
	}
	base := fmt.Sprintf("%s_%s_%d_%s", rec.PaymentDate, rec.TaxType, amount, sanitizeFilename(rec.MerchantName))
	return Names{
		Plain:      base + imageExt,
		Visualized: base + visualSuffix + imageExt,
	}
}

// sanitizeFilename drops characters no filesystem accepts and truncates to
// maxNameLength runes.
func sanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) || r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if utf8.RuneCountInString(name) > maxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:maxNameLength]))
	}
	if name == "" || name == "." || name == ".." {
		name = "receipt"
	}
	return name
}

// scopeSegment turns a client identity such as an IPv6 address into a single
// directory name.
func scopeSegment(id string) string {
	seg := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, id)
	if seg == "" || strings.Trim(seg, ".") == "" {
		return "anonymous"
	}
	return seg
}
