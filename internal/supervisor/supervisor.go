package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
	"streamgate/internal/session"
)

var segmentRe = regexp.MustCompile(`^segment_(\d+)\.ts$`)

const playlistName = "playlist.m3u8"

// minPlaylistBytes is the readiness threshold: a playlist at or under this
// size is just the ffmpeg header and references no segments yet.
const minPlaylistBytes = 100

// Supervisor watches session folders for readiness, updates segment counts,
// and bounds per-session disk use with rolling-window retention.
type Supervisor struct {
	registry *session.Registry
	logger   *slog.Logger

	MaxStorageBytes   int64
	KeepSegments      int
	ReadinessInterval time.Duration
	MonitorInterval   time.Duration
	RetentionInterval time.Duration
}

func New(registry *session.Registry, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		registry:          registry,
		logger:            logger,
		MaxStorageBytes:   2_000_000_000,
		KeepSegments:      5,
		ReadinessInterval: time.Second,
		MonitorInterval:   5 * time.Second,
		RetentionInterval: 15 * time.Second,
	}
}

// Watch runs the session's readiness poll, segment monitor, and retention
// loop until ctx is cancelled. Call once per session in its own goroutine.
func (s *Supervisor) Watch(ctx context.Context, id domain.SessionID, folder string) {
	readiness := time.NewTicker(s.ReadinessInterval)
	monitor := time.NewTicker(s.MonitorInterval)
	retention := time.NewTicker(s.RetentionInterval)
	defer readiness.Stop()
	defer monitor.Stop()
	defer retention.Stop()

	ready := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-readiness.C:
			if ready {
				continue
			}
			if s.checkReadiness(id, folder) {
				ready = true
				readiness.Stop()
			}
		case <-monitor.C:
			s.updateSegmentCount(id, folder)
		case <-retention.C:
			deleted, bytes := RetentionPass(folder, s.MaxStorageBytes, s.KeepSegments)
			if deleted > 0 {
				metrics.RetentionDeletionsTotal.Add(float64(deleted))
				metrics.RetentionBytesReclaimed.Add(float64(bytes))
				s.logger.Info("retention pass trimmed folder",
					"session", string(id), "deleted", deleted, "bytes", bytes)
			}
		}
	}
}

// checkReadiness applies the readiness rule: playlist over 100 bytes plus at
// least one segment on disk. Returns true once the session reached Ready.
func (s *Supervisor) checkReadiness(id domain.SessionID, folder string) bool {
	info, err := os.Stat(filepath.Join(folder, playlistName))
	if err != nil || info.Size() <= minPlaylistBytes {
		return false
	}
	segments := countSegments(folder)
	if segments < 1 {
		return false
	}

	err = s.registry.Update(id, func(sess *domain.Session) {
		sess.State = domain.StateReady
		if sess.PlaylistReadyAt.IsZero() {
			sess.PlaylistReadyAt = time.Now()
		}
		if segments > sess.TotalSegments {
			sess.TotalSegments = segments
		}
	})
	if err != nil {
		// Session failed or closed in the meantime; stop trying.
		return true
	}
	s.logger.Info("session ready", "session", string(id), "segments", segments)
	return true
}

func (s *Supervisor) updateSegmentCount(id domain.SessionID, folder string) {
	segments := countSegments(folder)
	if segments == 0 {
		return
	}
	_ = s.registry.Update(id, func(sess *domain.Session) {
		if segments > sess.TotalSegments {
			sess.TotalSegments = segments
		}
	})
}

func countSegments(folder string) int {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && segmentRe.MatchString(entry.Name()) {
			n++
		}
	}
	return n
}

type folderFile struct {
	name    string
	size    int64
	modTime time.Time
	segNum  int
	segment bool
}

// RetentionPass enforces the rolling-window disk budget on one folder.
// While total size exceeds maxBytes it deletes, one file at a time with a
// size re-check between deletions: oldest unprotected segments first, then
// oldest other files. The playlist and the newest keepSegments segments are
// never deleted. Returns the number of files and bytes removed.
func RetentionPass(folder string, maxBytes int64, keepSegments int) (int, int64) {
	files, total := scanFolder(folder)
	if total <= maxBytes {
		return 0, 0
	}

	var segments, others []folderFile
	for _, f := range files {
		if f.name == playlistName {
			continue
		}
		if f.segment {
			segments = append(segments, f)
		} else {
			others = append(others, f)
		}
	}

	// Protect the newest keepSegments by segment number.
	sort.Slice(segments, func(i, j int) bool { return segments[i].segNum < segments[j].segNum })
	if keepSegments > 0 && len(segments) > keepSegments {
		segments = segments[:len(segments)-keepSegments]
	} else if keepSegments > 0 {
		segments = nil
	}

	sort.Slice(others, func(i, j int) bool { return others[i].modTime.Before(others[j].modTime) })

	deleted := 0
	var reclaimed int64
	for _, f := range append(segments, others...) {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(filepath.Join(folder, f.name)); err != nil {
			continue
		}
		deleted++
		reclaimed += f.size
		total -= f.size
	}
	return deleted, reclaimed
}

func scanFolder(folder string) ([]folderFile, int64) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, 0
	}
	var files []folderFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		f := folderFile{name: entry.Name(), size: info.Size(), modTime: info.ModTime()}
		if m := segmentRe.FindStringSubmatch(entry.Name()); m != nil {
			f.segment = true
			f.segNum, _ = strconv.Atoi(m[1])
		}
		files = append(files, f)
		total += info.Size()
	}
	return files, total
}
