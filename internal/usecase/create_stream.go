package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/session"
	"streamgate/internal/source"
	"streamgate/internal/supervisor"
	"streamgate/internal/transcode"
)

// probeHeadBytes bounds how much of a live torrent source is fed to ffprobe.
const probeHeadBytes = 16 << 20

// Streams orchestrates the stream lifecycle: session creation, source
// resolution, transcode scheduling, and teardown. Adapters are injected as
// functions so tests can substitute them.
type Streams struct {
	Registry   *session.Registry
	Scheduler  *transcode.Scheduler
	Supervisor *supervisor.Supervisor
	Logger     *slog.Logger

	ResolveTorrent func(ctx context.Context, magnet string) (*source.Resolved, *domain.Error)
	StageURL       func(ctx context.Context, rawURL, folder string) (*domain.SourceFile, *domain.Error)
	Probe          func(ctx context.Context, s *domain.SourceFile) transcode.ProbeResult

	FFMPEGPath     string
	StreamBaseDir  string
	Threads        func() int
	SegmentSeconds func(activeSessions int) int

	mu      sync.Mutex
	handles map[domain.SessionID]*handle
}

// handle collects the per-session runtime state that the registry record
// deliberately does not carry. The pipeline goroutine publishes the source
// drop and the transcoder job under the mutex; once close ran, late arrivals
// are torn down on the spot instead of stored, so teardown cannot race
// resolution into leaking a torrent.
type handle struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	drop   func()
	job    *transcode.Job
}

func (h *handle) setJob(j *transcode.Job) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		j.Kill()
		return
	}
	h.job = j
	h.mu.Unlock()
}

func (h *handle) setDrop(fn func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		fn()
		return
	}
	h.drop = fn
	h.mu.Unlock()
}

// close cancels the pipeline context, kills the transcoder, and releases the
// source. Idempotent; the drop runs at most once.
func (h *handle) close() {
	h.mu.Lock()
	h.closed = true
	drop := h.drop
	h.drop = nil
	j := h.job
	h.job = nil
	h.mu.Unlock()

	h.cancel()
	if j != nil {
		j.Kill()
	}
	if drop != nil {
		drop()
	}
}

// CreateResult is the response to a stream creation request.
type CreateResult struct {
	StreamID  string `json:"stream_id"`
	HLSURL    string `json:"hls_url"`
	MP4URL    string `json:"mp4_url"`
	StatusURL string `json:"status_url"`
}

// CreateTorrentStream registers a session for a magnet link and starts the
// resolution pipeline in the background. The response URLs are valid
// immediately; playback waits on readiness.
func (s *Streams) CreateTorrentStream(magnet string) (CreateResult, *domain.Error) {
	if magnet == "" {
		return CreateResult{}, domain.NewError(domain.KindBadRequest, "magnet is required")
	}
	return s.create(domain.SourceTorrent, func(ctx context.Context, id domain.SessionID, folder string, h *handle) *domain.Error {
		resolved, derr := s.ResolveTorrent(ctx, magnet)
		if derr != nil {
			return derr
		}
		// Publish the drop before touching the record so a concurrent Delete
		// either runs it via close or sees it run here immediately.
		h.setDrop(resolved.Drop)
		if err := s.Registry.Update(id, func(rec *domain.Session) {
			rec.Source = resolved.File
			rec.DetectedSubtitles = subtitleMetas(resolved.Subtitles)
			rec.Stats = resolved.Stats
		}); err != nil {
			return domain.NewError(domain.KindTorrentError, "session gone during resolution")
		}

		go func() {
			extracted := source.ExtractSubtitles(folder, resolved.Subtitles, s.Logger)
			_ = s.Registry.Update(id, func(rec *domain.Session) {
				rec.ExtractedSubtitles = extracted
			})
		}()
		return nil
	})
}

// CreateURLStream registers a session for a remote URL. The payload is
// staged into the session folder by the downloader before transcoding.
func (s *Streams) CreateURLStream(rawURL string) (CreateResult, *domain.Error) {
	if rawURL == "" {
		return CreateResult{}, domain.NewError(domain.KindBadRequest, "url is required")
	}
	return s.create(domain.SourceURL, func(ctx context.Context, id domain.SessionID, folder string, h *handle) *domain.Error {
		staged, derr := s.StageURL(ctx, rawURL, folder)
		if derr != nil {
			return derr
		}
		if err := s.Registry.Update(id, func(rec *domain.Session) {
			rec.Source = staged
			rec.ExtractedSubtitles = source.ScanFolderSubtitles(folder)
		}); err != nil {
			return domain.NewError(domain.KindStorageError, "session gone during staging")
		}
		return nil
	})
}

// create sets up the session record and folder, then runs resolve (source
// specific) and the shared transcode pipeline in a goroutine.
func (s *Streams) create(kind domain.SourceKind, resolve func(context.Context, domain.SessionID, string, *handle) *domain.Error) (CreateResult, *domain.Error) {
	sess := s.Registry.Create(kind)
	folder := filepath.Join(s.StreamBaseDir, string(sess.ID))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		s.Registry.Delete(sess.ID)
		return CreateResult{}, domain.NewError(domain.KindStorageError, "create folder: %v", err)
	}

	segSeconds := s.SegmentSeconds(s.Registry.Len())
	_ = s.Registry.Update(sess.ID, func(rec *domain.Session) {
		rec.Folder = folder
		rec.SegmentDuration = segSeconds
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel}
	s.mu.Lock()
	if s.handles == nil {
		s.handles = make(map[domain.SessionID]*handle)
	}
	s.handles[sess.ID] = h
	s.mu.Unlock()

	go s.pipeline(ctx, sess.ID, folder, h, resolve)

	id := string(sess.ID)
	return CreateResult{
		StreamID:  id,
		HLSURL:    fmt.Sprintf("/hls/%s/playlist.m3u8", id),
		MP4URL:    fmt.Sprintf("/stream/%s", id),
		StatusURL: fmt.Sprintf("/status/%s", id),
	}, nil
}

func (s *Streams) pipeline(ctx context.Context, id domain.SessionID, folder string, h *handle, resolve func(context.Context, domain.SessionID, string, *handle) *domain.Error) {
	if err := s.Registry.Transition(id, domain.StateResolving); err != nil {
		return
	}

	if derr := resolve(ctx, id, folder, h); derr != nil {
		s.Registry.Fail(id, derr)
		return
	}

	snap, err := s.Registry.Snapshot(id)
	if err != nil || snap.Source == nil {
		return
	}

	probe := s.Probe(ctx, snap.Source)
	mode := transcode.PickMode(snap.Source.Name, probe.VideoCodec)
	_ = s.Registry.Update(id, func(rec *domain.Session) {
		rec.Media = probe.MediaInfo()
	})

	if err := s.Registry.Transition(id, domain.StateQueued); err != nil {
		return
	}

	s.Scheduler.Submit(&transcode.Task{
		SessionID: id,
		Admit: func() error {
			if err := s.Registry.Transition(id, domain.StateTranscoding); err != nil {
				return err
			}
			go s.Supervisor.Watch(ctx, id, snap.Folder)
			return nil
		},
		Start: func(exit func(*domain.Error)) *domain.Error {
			return s.startTranscode(snap, mode, h, exit)
		},
		Fail: func(e *domain.Error) {
			s.Registry.Fail(id, e)
		},
	})
}

// startTranscode spawns ffmpeg for the session. Staged sources are read by
// path; torrent sources stream over stdin so transcoding begins while the
// download is still in flight.
func (s *Streams) startTranscode(snap session.Snapshot, mode transcode.Mode, h *handle, exit func(*domain.Error)) *domain.Error {
	input := snap.Source.Path
	var stdin io.ReadCloser
	if input == "" {
		r, err := snap.Source.OpenRange(0, -1)
		if err != nil {
			return domain.NewError(domain.KindTorrentError, "open source: %v", err)
		}
		stdin = r
		input = "pipe:0"
	}

	threads := 0
	if s.Threads != nil {
		threads = s.Threads()
	}
	args := transcode.BuildArgs(mode, input, snap.Folder, snap.SegmentDuration, threads)
	job, derr := transcode.Spawn(s.FFMPEGPath, args, stdin, snap.ID, s.Logger, exit)
	if derr != nil {
		return derr
	}
	h.setJob(job)
	return nil
}

// ProbeSource adapts the ffprobe wrapper to both staged and live sources.
// Probe failures are non-fatal; the session proceeds without media info and
// falls back to the baseline encoder.
func ProbeSource(prober *transcode.Prober, logger *slog.Logger) func(context.Context, *domain.SourceFile) transcode.ProbeResult {
	return func(ctx context.Context, f *domain.SourceFile) transcode.ProbeResult {
		probeCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
		defer cancel()

		var result transcode.ProbeResult
		var err error
		if f.Path != "" {
			result, err = prober.Probe(probeCtx, f.Path)
		} else {
			end := int64(probeHeadBytes) - 1
			if f.Length > 0 && f.Length-1 < end {
				end = f.Length - 1
			}
			var r io.ReadCloser
			r, err = f.OpenRange(0, end)
			if err == nil {
				result, err = prober.ProbeReader(probeCtx, r)
				r.Close()
			}
		}
		if err != nil && logger != nil {
			logger.Warn("media probe failed", "file", f.Name, "error", err)
		}
		return result
	}
}

func subtitleMetas(subs []source.TorrentSubtitle) []domain.SubtitleFile {
	if len(subs) == 0 {
		return nil
	}
	out := make([]domain.SubtitleFile, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Meta)
	}
	return out
}
