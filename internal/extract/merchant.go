package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var merchantMarkers = []string{"가맹점명", "가맹점정보"}

// merchantNoise are labels that OCR often glues onto the merchant name.
var merchantNoise = []string{
	"사업자등록번호", "대표자", "전화", "주소",
	"카드", "승인", "금액", "합계",
}

var nonNameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// MerchantName returns the cleaned merchant name printed next to or below the
// merchant label, or Unknown when no label line exists.
func MerchantName(lines []string) string {
	for i, line := range lines {
		marker, ok := merchantMarker(line)
		if !ok {
			continue
		}
		if rest := afterMarker(line, marker); rest != "" {
			return orUnknown(cleanMerchantName(rest))
		}
		if i+1 < len(lines) {
			return orUnknown(cleanMerchantName(lines[i+1]))
		}
	}
	return Unknown
}

func merchantMarker(line string) (string, bool) {
	for _, m := range merchantMarkers {
		if strings.Contains(line, m) {
			return m, true
		}
	}
	return "", false
}

func afterMarker(line, marker string) string {
	rest := line[strings.LastIndex(line, marker)+len(marker):]
	rest = strings.TrimLeftFunc(rest, func(r rune) bool {
		return r == ':' || r == '：' || unicode.IsSpace(r)
	})
	return strings.TrimSpace(rest)
}

func cleanMerchantName(name string) string {
	for _, noise := range merchantNoise {
		name = strings.ReplaceAll(name, noise, "")
	}
	name = nonNameChars.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
