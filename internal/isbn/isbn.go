// Package isbn normalizes and validates ISBNs found in promise item manifests.
package isbn

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// SKUPrefix marks internal vendor identifiers that appear alongside ISBNs
// in manifests. They are never catalog identifiers.
const SKUPrefix = "BWB"

// Normalize strips hyphens and whitespace and upper-cases a trailing x.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return strings.ToUpper(s)
}

// Valid reports whether s is a well-formed ISBN-10 or ISBN-13 with a correct
// check digit. s must already be normalized.
func Valid(s string) bool {
	switch len(s) {
	case 10:
		return valid10(s)
	case 13:
		return valid13(s)
	default:
		return false
	}
}

func valid10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c == 'X' && i == 9:
			d = 10
		default:
			return false
		}
		sum += d * (10 - i)
	}
	return sum%11 == 0
}

func valid13(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return sum%10 == 0
}

// FromManifest converts the raw values of a manifest's isbn list into a
// sorted, deduplicated list of valid ISBNs. Values may be JSON strings or
// numbers. SKUs and malformed values are dropped. A 9-digit number is
// treated as an ISBN-10 that lost its leading zero to numeric encoding.
func FromManifest(values []json.RawMessage) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))

	for _, raw := range values {
		s, ok := rawString(raw)
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(s), SKUPrefix) {
			continue
		}
		s = Normalize(s)
		if len(s) == 9 && isDigits(s) {
			s = "0" + s
		}
		if !Valid(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	sort.Strings(out)
	return out
}

// rawString extracts a string or number literal from a raw JSON value.
func rawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
