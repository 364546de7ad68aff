package source

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"streamgate/internal/domain"
)

// SubtitleExtensions lists the side-file formats treated as subtitles.
var SubtitleExtensions = map[string]bool{
	"srt":  true,
	"vtt":  true,
	"ass":  true,
	"ssa":  true,
	"sub":  true,
	"sbv":  true,
	"json": true,
}

// ExtractSubtitles copies each detected subtitle into the session folder as
// subtitle_<lang>.<ext>. Extractions run concurrently; a failed subtitle is
// logged and skipped so one broken side-file never fails the session.
// Duplicate languages get a numeric suffix to keep filenames unique.
func ExtractSubtitles(folder string, subs []TorrentSubtitle, logger *slog.Logger) []domain.ExtractedSubtitle {
	if logger == nil {
		logger = slog.Default()
	}
	if len(subs) == 0 {
		return nil
	}

	names := make([]string, len(subs))
	seen := make(map[string]int)
	for i, sub := range subs {
		base := fmt.Sprintf("subtitle_%s", sub.Meta.Language)
		seen[base]++
		if n := seen[base]; n > 1 {
			base = fmt.Sprintf("%s_%d", base, n)
		}
		names[i] = base + "." + sub.Meta.Ext
	}

	results := make([]*domain.ExtractedSubtitle, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub TorrentSubtitle) {
			defer wg.Done()
			dest := filepath.Join(folder, names[i])
			size, err := copySubtitle(sub, dest)
			if err != nil {
				logger.Warn("subtitle extraction failed",
					"subtitle", sub.Meta.Name, "error", err)
				return
			}
			results[i] = &domain.ExtractedSubtitle{
				Name:     names[i],
				Path:     dest,
				Language: sub.Meta.Language,
				Ext:      sub.Meta.Ext,
				Size:     size,
			}
		}(i, sub)
	}
	wg.Wait()

	out := make([]domain.ExtractedSubtitle, 0, len(subs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func copySubtitle(sub TorrentSubtitle, dest string) (int64, error) {
	r, err := sub.Open()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return n, nil
}

// ScanFolderSubtitles detects subtitle side-files already present in a
// staged download folder and registers them as extracted.
func ScanFolderSubtitles(folder string) []domain.ExtractedSubtitle {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil
	}
	var out []domain.ExtractedSubtitle
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), "."))
		if !SubtitleExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.ExtractedSubtitle{
			Name:     entry.Name(),
			Path:     filepath.Join(folder, entry.Name()),
			Language: domain.DetectLanguage(entry.Name()),
			Ext:      ext,
			Size:     info.Size(),
		})
	}
	return out
}
