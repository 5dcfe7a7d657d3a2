package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// wonPattern matches a won-denominated number such as 12,000원 or 4500원.
var wonPattern = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)원`)

// Lines with these labels print surtax or service amounts, never the payable total.
var amountIgnore = []string{"부가세", "봉사료", "면세"}

var amountKeywords = []string{
	"결제금액", "거래금액", "합계", "총액", "청구금액", "승인금액",
}

// PaymentAmount returns the payable total in won.
//
// A line carrying an amount label wins outright, taking its rightmost amount (or
// the next line's when it has none). Without such a line the largest amount
// anywhere on the receipt is used.
func PaymentAmount(lines []string) (int64, bool) {
	return firstOf[int64](Document{Lines: lines}, keywordAmount, largestAmount)
}

func keywordAmount(doc Document) (int64, bool) {
	for i, line := range doc.Lines {
		if containsAny(line, amountIgnore) || !containsAny(line, amountKeywords) {
			continue
		}
		if v, ok := lastWon(line); ok {
			return v, true
		}
		if i+1 < len(doc.Lines) {
			if v, ok := lastWon(doc.Lines[i+1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func largestAmount(doc Document) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for _, line := range doc.Lines {
		if containsAny(line, amountIgnore) {
			continue
		}
		for _, v := range wonAmounts(line) {
			if !found || v > best {
				best, found = v, true
			}
		}
	}
	return best, found
}

func lastWon(line string) (int64, bool) {
	m := wonPattern.FindAllStringSubmatch(line, -1)
	if len(m) == 0 {
		return 0, false
	}
	return parseWon(m[len(m)-1][1])
}

func wonAmounts(line string) []int64 {
	var amounts []int64
	for _, m := range wonPattern.FindAllStringSubmatch(line, -1) {
		if v, ok := parseWon(m[1]); ok {
			amounts = append(amounts, v)
		}
	}
	return amounts
}

func parseWon(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
