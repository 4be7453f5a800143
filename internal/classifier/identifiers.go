package classifier

import (
	"regexp"
	"strings"
)

// ProductIdentifiers holds ASINs and SKUs found in free text, upper-cased,
// deduplicated, in order of first appearance.
type ProductIdentifiers struct {
	ASINs []string
	SKUs  []string
}

// Empty reports whether nothing was found.
func (p ProductIdentifiers) Empty() bool {
	return len(p.ASINs) == 0 && len(p.SKUs) == 0
}

// All returns ASINs followed by SKUs.
func (p ProductIdentifiers) All() []string {
	out := make([]string, 0, len(p.ASINs)+len(p.SKUs))
	out = append(out, p.ASINs...)
	return append(out, p.SKUs...)
}

var (
	tokenRe = regexp.MustCompile(`[A-Za-z0-9_-]+`)
	asinRe  = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	skuRe   = regexp.MustCompile(`^[A-Z0-9_-]{4,24}$`)
)

// ExtractProductIdentifiers scans text for ASIN-like and SKU-like tokens.
//
// An ASIN is an exact 10-character alphanumeric token that also contains at
// least one digit. The digit rule is a deliberate heuristic, narrower than
// the bare 10-character shape: ten-letter words such as "PROMOTIONS" or
// "BESTSELLER" would otherwise read as ASINs, while real ASINs ("B0..." and
// ISBN-10s) carry a digit. "ABCDEFGHIJ" is therefore not an ASIN.
//
// A SKU is a 4-24 character token of letters, digits, hyphens and
// underscores containing at least one letter and one digit. A token that
// qualifies as an ASIN is not also reported as a SKU.
func ExtractProductIdentifiers(text string) ProductIdentifiers {
	var out ProductIdentifiers
	seen := make(map[string]bool)
	for _, tok := range tokenRe.FindAllString(text, -1) {
		up := strings.ToUpper(strings.Trim(tok, "-_"))
		if up == "" || seen[up] {
			continue
		}
		switch {
		case asinRe.MatchString(up) && hasDigit(up):
			seen[up] = true
			out.ASINs = append(out.ASINs, up)
		case skuRe.MatchString(up) && hasDigit(up) && hasLetter(up):
			seen[up] = true
			out.SKUs = append(out.SKUs, up)
		}
	}
	return out
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0
}
