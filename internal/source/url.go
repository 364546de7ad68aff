package source

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"streamgate/internal/domain"
)

// URLAdapter stages remote media with yt-dlp before transcoding. Unlike
// torrents the payload is fully downloaded into the session folder first;
// yt-dlp picks the filename from the media title.
type URLAdapter struct {
	ytdlpPath string
	logger    *slog.Logger
}

func NewURLAdapter(ytdlpPath string, logger *slog.Logger) *URLAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	return &URLAdapter{ytdlpPath: ytdlpPath, logger: logger}
}

// Stage downloads the remote media into folder and returns the staged file.
// The video is located by scanning the folder afterwards because yt-dlp
// derives the output name from the media title.
func (a *URLAdapter) Stage(ctx context.Context, rawURL, folder string) (*domain.SourceFile, *domain.Error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, domain.NewError(domain.KindBadRequest, "invalid url: %s", rawURL)
	}

	if _, err := exec.LookPath(a.ytdlpPath); err != nil {
		return nil, domain.NewError(domain.KindExternalToolMissing, "yt-dlp not found in PATH")
	}

	cmd := exec.CommandContext(ctx, a.ytdlpPath,
		"-f", "best",
		"-o", filepath.Join(folder, "%(title)s.%(ext)s"),
		rawURL,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	a.logger.Info("staging url source", "url", rawURL, "folder", folder)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, domain.NewError(domain.KindExternalToolFailed, "yt-dlp failed: %s", truncate(msg, 500))
	}

	staged, found := findFirstVideo(folder)
	if !found {
		return nil, domain.NewError(domain.KindNoPlayableFile, "yt-dlp produced no playable file")
	}

	info, err := os.Stat(staged)
	if err != nil {
		return nil, domain.NewError(domain.KindStorageError, "stat staged file: %v", err)
	}

	return &domain.SourceFile{
		Name:   filepath.Base(staged),
		Length: info.Size(),
		Path:   staged,
		OpenRange: func(start, end int64) (io.ReadCloser, error) {
			return openFileRange(staged, start, end)
		},
	}, nil
}

// findFirstVideo scans folder (non-recursively, name order) and returns the
// first file with a known video extension.
func findFirstVideo(folder string) (string, bool) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if videoExtensions[ext] {
			return filepath.Join(folder, entry.Name()), true
		}
	}
	return "", false
}

func openFileRange(path string, start, end int64) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	if end < 0 {
		return f, nil
	}
	return &limitedReadCloser{Reader: io.LimitReader(f, end-start+1), closer: f}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
