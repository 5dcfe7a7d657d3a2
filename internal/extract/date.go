package extract

import (
	"regexp"
	"strings"
)

// dateAnchor labels the transaction timestamp; the date is printed on the next line.
const dateAnchor = "거래일시"

var (
	longDatePattern  = regexp.MustCompile(`(?:^|\D)(20\d{2})[./-](\d{1,2})[./-](\d{1,2})(?:\D|$)`)
	shortDatePattern = regexp.MustCompile(`(?:^|\D)(\d{2})[./-](\d{1,2})[./-](\d{1,2})(?:\D|$)`)
)

var dateChain = []strategy[string]{
	anchoredDate,
	unanchoredDate(longDatePattern),
	unanchoredDate(shortDatePattern),
}

// PaymentDate returns the transaction date as YYMMDD, or Unknown.
//
// When a line carries the transaction-timestamp label only the line after it
// is searched; a miss there is final and never falls back to the full text.
func PaymentDate(doc Document) string {
	if d, ok := firstOf(doc, dateChain...); ok {
		return d
	}
	return Unknown
}

func anchoredDate(doc Document) (string, bool) {
	for i, line := range doc.Lines {
		if !strings.Contains(line, dateAnchor) {
			continue
		}
		if i+1 < len(doc.Lines) {
			if d, ok := matchDate(longDatePattern, doc.Lines[i+1]); ok {
				return d, true
			}
		}
		return Unknown, true
	}
	return "", false
}

func unanchoredDate(re *regexp.Regexp) strategy[string] {
	return func(doc Document) (string, bool) {
		return matchDate(re, doc.FullText)
	}
}

func matchDate(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	year := m[1]
	return year[len(year)-2:] + pad2(m[2]) + pad2(m[3]), true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
