package r2c

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations end in a period that does not close a sentence.
var abbreviations = map[string]bool{
	// titles
	"Mr": true, "Mrs": true, "Dr": true, "Ms": true, "Prof": true, "Sr": true, "Jr": true,
	// corporate suffixes
	"Inc": true, "Ltd": true, "Corp": true, "Co": true, "LLC": true, "LLP": true,
	// months
	"Jan": true, "Feb": true, "Mar": true, "Apr": true, "May": true, "Jun": true,
	"Jul": true, "Aug": true, "Sep": true, "Oct": true, "Nov": true, "Dec": true,
}

// SplitSentences splits text after '.', '!' or '?' when followed by
// whitespace. A period ending a known abbreviation ("Dr.", "Inc.", "Oct.")
// is not a boundary. Empty sentences are dropped; the rest are trimmed.
func SplitSentences(text string) []string {
	var out []string
	start := 0

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		end := i + size
		if r != '.' && r != '!' && r != '?' {
			i = end
			continue
		}
		next, _ := utf8.DecodeRuneInString(text[end:])
		if end >= len(text) || !unicode.IsSpace(next) {
			i = end
			continue
		}
		if r == '.' && abbreviations[wordBefore(text, i)] {
			i = end
			continue
		}

		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
		i = end
	}

	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// wordBefore returns the run of letters ending at byte offset i, provided it
// starts at a word boundary.
func wordBefore(text string, i int) string {
	j := i
	for j > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:j])
		if !unicode.IsLetter(r) {
			if unicode.IsDigit(r) || r == '_' {
				return ""
			}
			break
		}
		j -= size
	}
	return text[j:i]
}
