package pipeline

import (
	"regexp"
	"strings"
)

// Marketplace UI junk that leaks into extracted field values. A field that is
// nothing but one of these phrases is dropped entirely.
var junkPhrases = []string{
	"Plus small",
	"Thumb up outline",
	"No. 1 most liked",
	"No. 2 most liked",
	"No. 3 most liked",
}

var (
	percentRe      = regexp.MustCompile(`\d+%`)
	parenCountRe   = regexp.MustCompile(`\(\d+\)`)
	dupSemicolonRe = regexp.MustCompile(`;\s*;`)
	dupCommaRe     = regexp.MustCompile(`,\s*,`)
	multiSpaceRe   = regexp.MustCompile(`\s+`)
	emptyParenRe   = regexp.MustCompile(`\(\s*\)`)
)

// CleanField strips marketplace junk from a raw extracted value: known UI
// phrases, like-percentage tokens ("93%"), and review-count tokens ("(30)").
// Separator runs left behind by the removal are collapsed.
func CleanField(value string) string {
	if value == "" {
		return value
	}

	trimmed := strings.TrimSpace(value)
	for _, phrase := range junkPhrases {
		if trimmed == phrase {
			return ""
		}
	}

	cleaned := value
	hadJunk := false
	for _, phrase := range junkPhrases {
		if strings.Contains(cleaned, phrase) {
			cleaned = strings.ReplaceAll(cleaned, phrase, "")
			hadJunk = true
		}
	}
	cleaned = percentRe.ReplaceAllString(cleaned, "")
	cleaned = parenCountRe.ReplaceAllString(cleaned, "")

	// Tag lists use semicolon separators; removing junk can leave doubled
	// separators and stray empty parens behind.
	if strings.Contains(value, ";") || hadJunk {
		cleaned = dupSemicolonRe.ReplaceAllString(cleaned, ";")
		cleaned = dupCommaRe.ReplaceAllString(cleaned, ",")
		cleaned = multiSpaceRe.ReplaceAllString(cleaned, " ")
		cleaned = strings.Trim(cleaned, " ;,")
		cleaned = strings.TrimSpace(emptyParenRe.ReplaceAllString(cleaned, ""))
	} else {
		cleaned = strings.TrimSpace(cleaned)
	}

	return cleaned
}

// CleanFields cleans every value in a raw extraction result, dropping keys
// whose values clean away to nothing.
func CleanFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if cleaned := CleanField(v); cleaned != "" {
			out[k] = cleaned
		}
	}
	return out
}
