package domain

import (
	"regexp"
	"strings"
)

// LanguageUnknown is returned when neither detection stage matches.
const LanguageUnknown = "unknown"

// languageKeywords maps filename substrings to 3-letter language codes.
// Substring match runs before the ISO-suffix regex; the table covers the 17
// supported languages. Order of individual checks is not significant.
var languageKeywords = []struct {
	keyword string
	code    string
}{
	{"english", "eng"},
	{"hindi", "hin"},
	{"tamil", "tam"},
	{"telugu", "tel"},
	{"kannada", "kan"},
	{"malayalam", "mal"},
	{"marathi", "mar"},
	{"bengali", "ben"},
	{"spanish", "spa"},
	{"french", "fra"},
	{"german", "deu"},
	{"portuguese", "por"},
	{"russian", "rus"},
	{"japanese", "jpn"},
	{"chinese", "zho"},
	{"arabic", "ara"},
	{"thai", "tha"},
}

// isoCodes maps 2-letter ISO 639-1 suffixes to the 3-letter codes above.
var isoCodes = map[string]string{
	"en": "eng", "hi": "hin", "ta": "tam", "te": "tel", "kn": "kan",
	"ml": "mal", "mr": "mar", "bn": "ben", "es": "spa", "fr": "fra",
	"de": "deu", "pt": "por", "ru": "rus", "ja": "jpn", "zh": "zho",
	"ar": "ara", "th": "tha",
}

var isoSuffixRe = regexp.MustCompile(`\.(en|hi|ta|te|kn|ml|mr|bn|es|fr|de|pt|ru|ja|zh|ar|th)[._-]`)

// SupportedLanguages returns the 3-letter codes the detector can produce.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languageKeywords))
	for _, entry := range languageKeywords {
		out = append(out, entry.code)
	}
	return out
}

// DetectLanguage infers a subtitle language from its filename. Stage one is
// a substring match against the keyword table; stage two matches 2-letter
// ISO suffixes like ".en.srt". The detector is advisory; false positives on
// short codes are accepted.
func DetectLanguage(filename string) string {
	lower := strings.ToLower(filename)
	for _, entry := range languageKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.code
		}
	}
	if m := isoSuffixRe.FindStringSubmatch(lower); m != nil {
		if code, ok := isoCodes[m[1]]; ok {
			return code
		}
	}
	return LanguageUnknown
}
