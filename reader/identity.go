package reader

import "strings"

// DefaultRegion is used when the identifier carries no trailing region code.
const DefaultRegion = "SP"

// Identity is the decomposed operator identifier: the digit body, its final
// check digit (submitted in its own field on the login form), and a
// two-letter region code driving the region selector.
type Identity struct {
	Body       string
	CheckDigit string
	Region     string
}

// DecomposeIdentifier splits a raw identifier string into an Identity.
//
// The input is lowercased and trimmed. A trailing pair of letters becomes
// the region (uppercased), defaulting to DefaultRegion when absent. Every
// remaining letter is stripped; of the digits that survive, the last one is
// the check digit and the rest the body, so body+checkDigit always equals
// the digits of the input.
func DecomposeIdentifier(raw string) Identity {
	s := strings.ToLower(strings.TrimSpace(raw))

	region := DefaultRegion
	if n := len(s); n >= 2 && isLetter(s[n-1]) && isLetter(s[n-2]) {
		region = s[n-2:]
	}

	digits := digitsOnly(s)
	var body, check string
	if len(digits) > 0 {
		body = digits[:len(digits)-1]
		check = digits[len(digits)-1:]
	}

	return Identity{
		Body:       body,
		CheckDigit: check,
		Region:     strings.ToUpper(region),
	}
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z'
}

func digitsOnly(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
