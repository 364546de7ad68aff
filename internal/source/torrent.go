package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"streamgate/internal/domain"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".mov":  true,
	".avi":  true,
	".flv":  true,
}

const (
	addMagnetTimeout    = 10 * time.Second
	metadataWaitTimeout = 2 * time.Minute
)

// TorrentAdapter resolves magnet links into live streamable sources backed
// by a shared anacrolix client. Torrent payloads are never staged: readers
// pull bytes straight from the client, which fetches pieces on demand.
type TorrentAdapter struct {
	client *torrent.Client
	logger *slog.Logger
}

func NewTorrentAdapter(dataDir string, logger *slog.Logger) (*TorrentAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := torrent.NewDefaultClientConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Seed = false
	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("torrent client: %w", err)
	}
	return &TorrentAdapter{client: client, logger: logger}, nil
}

func (a *TorrentAdapter) Close() error {
	if a.client == nil {
		return nil
	}
	errs := a.client.Close()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// TorrentSubtitle pairs a detected subtitle side-file with a reader factory.
type TorrentSubtitle struct {
	Meta domain.SubtitleFile
	Open func() (io.ReadCloser, error)
}

// Resolved is a magnet turned into a streamable file plus its side-channel
// data. Drop releases the torrent from the client.
type Resolved struct {
	File      *domain.SourceFile
	Subtitles []TorrentSubtitle
	Stats     func() domain.TorrentStats
	Drop      func()
}

// Resolve adds the magnet, waits for metadata, and picks the first file with
// a known video extension. AddMagnet runs in a goroutine with a timeout
// because it can block on the client's internal lock.
func (a *TorrentAdapter) Resolve(ctx context.Context, magnet string) (*Resolved, *domain.Error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, err := a.client.AddMagnet(magnet)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, domain.NewError(domain.KindBadRequest, "invalid magnet link: %v", res.err)
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, domain.NewError(domain.KindTorrentError, "torrent client busy, try again later")
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, domain.NewError(domain.KindTorrentError, "cancelled while adding magnet")
	}

	metaCtx, cancel := context.WithTimeout(ctx, metadataWaitTimeout)
	defer cancel()
	select {
	case <-t.GotInfo():
	case <-metaCtx.Done():
		t.Drop()
		return nil, domain.NewError(domain.KindTorrentError, "timed out waiting for torrent metadata")
	}

	file := pickFirstVideo(t.Files())
	if file == nil {
		t.Drop()
		return nil, domain.NewError(domain.KindNoPlayableFile, "no playable video file in torrent")
	}

	file.Download()
	a.logger.Info("torrent resolved",
		"name", t.Name(),
		"file", file.DisplayPath(),
		"size", file.Length(),
	)

	src := &domain.SourceFile{
		Name:   filepath.Base(file.DisplayPath()),
		Length: file.Length(),
		OpenRange: func(start, end int64) (io.ReadCloser, error) {
			return openTorrentRange(file, start, end)
		},
	}
	return &Resolved{
		File:      src,
		Subtitles: detectTorrentSubtitles(t),
		Stats:     newStatsSampler(t),
		Drop:      t.Drop,
	}, nil
}

// detectTorrentSubtitles scans the torrent's file list for subtitle
// side-files without forcing their download.
func detectTorrentSubtitles(t *torrent.Torrent) []TorrentSubtitle {
	var out []TorrentSubtitle
	for _, f := range t.Files() {
		f := f
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.DisplayPath()), "."))
		if !SubtitleExtensions[ext] {
			continue
		}
		name := filepath.Base(f.DisplayPath())
		out = append(out, TorrentSubtitle{
			Meta: domain.SubtitleFile{
				Name:     name,
				Ext:      ext,
				Size:     f.Length(),
				Language: domain.DetectLanguage(name),
			},
			Open: func() (io.ReadCloser, error) {
				f.Download()
				return openTorrentRange(f, 0, -1)
			},
		})
	}
	return out
}

// pickFirstVideo returns the first file in torrent order whose extension is
// playable, or nil.
func pickFirstVideo(files []*torrent.File) *torrent.File {
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.DisplayPath()))
		if videoExtensions[ext] {
			return f
		}
	}
	return nil
}

// openTorrentRange seeks a fresh torrent reader to start and limits it to
// the inclusive range end. end < 0 streams to end of file. Reads block
// until the client has downloaded the pieces in question.
func openTorrentRange(f *torrent.File, start, end int64) (io.ReadCloser, error) {
	r := f.NewReader()
	r.SetResponsive()
	r.SetReadahead(8 << 20)
	if start > 0 {
		if _, err := r.Seek(start, io.SeekStart); err != nil {
			r.Close()
			return nil, err
		}
	}
	length := f.Length() - start
	if end >= 0 {
		length = end - start + 1
	}
	return &limitedReadCloser{Reader: io.LimitReader(r, length), closer: r}, nil
}

type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error { return l.closer.Close() }

// newStatsSampler returns a stats function that derives download speed from
// the byte-counter delta between consecutive calls.
func newStatsSampler(t *torrent.Torrent) func() domain.TorrentStats {
	var mu sync.Mutex
	var lastAt time.Time
	var lastRead int64

	return func() domain.TorrentStats {
		stats := t.Stats()
		length := t.Length()
		completed := t.BytesCompleted()
		progress := float64(0)
		if length > 0 {
			progress = float64(completed) / float64(length) * 100
		}

		read := stats.BytesReadUsefulData.Int64()
		written := stats.BytesWrittenData.Int64()
		now := time.Now()

		mu.Lock()
		var speed int64
		if !lastAt.IsZero() {
			if dt := now.Sub(lastAt).Seconds(); dt > 0 && read >= lastRead {
				speed = int64(float64(read-lastRead) / dt)
			}
		}
		lastAt, lastRead = now, read
		mu.Unlock()

		ratio := float64(0)
		if read > 0 {
			ratio = float64(written) / float64(read)
		}
		return domain.TorrentStats{
			Name:          t.Name(),
			InfoHash:      t.InfoHash().HexString(),
			Peers:         stats.ActivePeers,
			Progress:      float64(int(progress*100)) / 100,
			DownloadSpeed: speed,
			Ratio:         ratio,
		}
	}
}
