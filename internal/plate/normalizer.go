package plate

import (
	"regexp"
	"strings"
)

// Format patterns are matched against the already-normalized text
// (uppercase, separators stripped).
var (
	// FormatLoose accepts most regional layouts.
	FormatLoose = regexp.MustCompile(`^[A-Z0-9]{2,3}[A-Z0-9]{2,3}[A-Z0-9]{3,5}$`)
	// FormatStrictIN is the strict 9-10 character Indian layout.
	FormatStrictIN = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z]{1,2}[0-9]{4}$`)
)

// FormatByName resolves a configured format name. Unknown names fall back
// to the loose pattern.
func FormatByName(name string) *regexp.Regexp {
	switch name {
	case "strict_in":
		return FormatStrictIN
	default:
		return FormatLoose
	}
}

var separators = strings.NewReplacer(" ", "", "-", "", ".", "", "_", "")

// Normalizer cleans raw OCR candidates and gates out implausible reads.
// A rejected candidate is an expected, frequent outcome, not an error.
type Normalizer struct {
	MinConfidence float64
	MinLength     int
	Format        *regexp.Regexp
}

func NewNormalizer(minConfidence float64, minLength int, format *regexp.Regexp) *Normalizer {
	if format == nil {
		format = FormatLoose
	}
	return &Normalizer{
		MinConfidence: minConfidence,
		MinLength:     minLength,
		Format:        format,
	}
}

// Normalize returns the canonical plate text and true, or ("", false)
// when the candidate fails the confidence floor, the length floor or the
// format rule.
func (n *Normalizer) Normalize(raw string, confidence float64) (string, bool) {
	if confidence < n.MinConfidence {
		return "", false
	}

	cleaned := strings.ToUpper(separators.Replace(strings.TrimSpace(raw)))
	if len(cleaned) < n.MinLength {
		return "", false
	}
	if !n.Format.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}
