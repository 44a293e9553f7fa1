package inference

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxIdentifierLength = 63

// NormalizeHeader turns a raw CSV header into a lower snake case identifier
// made of ASCII letters, digits and underscores. Accents are folded, other
// characters become separators. A leading digit gets an underscore prefix.
func NormalizeHeader(raw string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.TrimSpace(raw),
	)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}

	out := b.String()
	if out == "" {
		return "column"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	if len(out) > maxIdentifierLength {
		out = out[:maxIdentifierLength]
	}
	return out
}

// NormalizeHeaders normalizes every header and disambiguates collisions with
// a numeric suffix.
func NormalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]struct{}, len(raw))
	for i, h := range raw {
		base := NormalizeHeader(h)
		name := base
		for n := 2; ; n++ {
			if _, taken := used[name]; !taken {
				break
			}
			name = suffixed(base, n)
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}

func suffixed(name string, n int) string {
	suffix := "_" + strconv.Itoa(n)
	if len(name)+len(suffix) > maxIdentifierLength {
		name = name[:maxIdentifierLength-len(suffix)]
	}
	return name + suffix
}
