package extract

import "regexp"

// businessNumberPattern is the DDD-DD-DDDDD shape of a Korean business registration number.
var businessNumberPattern = regexp.MustCompile(`\d{3}-\d{2}-\d{5}`)

// BusinessNumber returns the first business-registration-number shaped substring
// of text, hyphens included. No checksum or registry check is made.
func BusinessNumber(text string) (string, bool) {
	m := businessNumberPattern.FindString(text)
	return m, m != ""
}
