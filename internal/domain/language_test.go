package domain

import "testing"

func TestDetectLanguageKeyword(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"Movie.2023.English.srt", "eng"},
		{"movie.HINDI.vtt", "hin"},
		{"show.tamil.ass", "tam"},
		{"film_Portuguese_forced.srt", "por"},
		{"anime.japanese.srt", "jpn"},
	}
	for _, tc := range tests {
		if got := DetectLanguage(tc.filename); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestDetectLanguageISOSuffix(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"movie.en.srt", "eng"},
		{"movie.fr-forced.srt", "fra"},
		{"movie.zh_cn.srt", "zho"},
		{"movie.th.vtt", "tha"},
	}
	for _, tc := range tests {
		if got := DetectLanguage(tc.filename); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestDetectLanguageKeywordWinsOverSuffix(t *testing.T) {
	// Stage one (substring) runs before the ISO regex.
	if got := DetectLanguage("spanish.en.srt"); got != "spa" {
		t.Fatalf("expected keyword stage to win, got %q", got)
	}
}

func TestDetectLanguageUnknown(t *testing.T) {
	for _, name := range []string{"subtitles.srt", "movie.xx.srt", "track2.vtt"} {
		if got := DetectLanguage(name); got != LanguageUnknown {
			t.Errorf("DetectLanguage(%q) = %q, want unknown", name, got)
		}
	}
}

func TestSupportedLanguagesCount(t *testing.T) {
	if got := len(SupportedLanguages()); got != 17 {
		t.Fatalf("expected 17 supported languages, got %d", got)
	}
}
