package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/session"
	"streamgate/internal/supervisor"
)

type createStreamRequest struct {
	Magnet string `json:"magnet"`
	URL    string `json:"url"`
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindBadRequest), "invalid JSON body")
		return
	}
	result, derr := s.streams.CreateTorrentStream(strings.TrimSpace(req.Magnet))
	if derr != nil {
		writeDomainError(w, derr)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateURLStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindBadRequest), "invalid JSON body")
		return
	}
	result, derr := s.streams.CreateURLStream(strings.TrimSpace(req.URL))
	if derr != nil {
		writeDomainError(w, derr)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStreamByID serves GET (direct byte-range playback) and DELETE
// (teardown) on /stream/<id>.
func (s *Server) handleStreamByID(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(pathSuffix(r.URL.Path, "/stream/"))
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveSourceRange(w, r, id)
	case http.MethodDelete:
		if err := s.streams.Delete(id); err != nil {
			writeError(w, http.StatusNotFound, string(domain.KindNotFound), fmt.Sprintf("stream %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or DELETE required")
	}
}

// serveSourceRange streams the raw source file with byte-range semantics.
// Unsatisfiable ranges get 416 with a wildcard Content-Range; a missing
// Range header gets the whole file.
func (s *Server) serveSourceRange(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	snap, err := s.registry.Snapshot(id)
	if err != nil {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), fmt.Sprintf("stream %s not found", id))
		return
	}
	s.registry.Touch(id)

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Stream-Ready", fmt.Sprintf("%t", snap.State == domain.StateReady))
	w.Header().Set("X-Subtitle-Count", fmt.Sprintf("%d", len(snap.ExtractedSubtitles)))

	if snap.Source == nil {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), "source not resolved yet")
		return
	}
	size := snap.Source.Length
	w.Header().Set("Content-Type", fallbackContentType(filepath.Ext(snap.Source.Name)))

	rangeHeader := r.Header.Get("Range")
	start, end := int64(0), size-1
	status := http.StatusOK
	if rangeHeader != "" {
		start, end, err = parseByteRange(rangeHeader, size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", end-start+1))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	reader, err := snap.Source.OpenRange(start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(domain.KindStorageError), "open source failed")
		return
	}
	defer reader.Close()

	w.WriteHeader(status)
	_, _ = io.Copy(w, reader)
}

// handleHLS serves playlist and segment files from the session folder.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/hls/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		writeError(w, http.StatusBadRequest, string(domain.KindBadRequest), "expected /hls/<id>/<file>")
		return
	}
	id := domain.SessionID(parts[0])

	snap, err := s.registry.Snapshot(id)
	if err != nil || snap.Folder == "" {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), fmt.Sprintf("stream %s not found", id))
		return
	}
	s.registry.Touch(id)

	path, err := resolveSessionFilePath(snap.Folder, parts[1])
	if err != nil {
		writeError(w, http.StatusForbidden, string(domain.KindAccessDenied), "path escapes stream folder")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), "file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), "file not found")
		return
	}

	w.Header().Set("Content-Type", fallbackContentType(filepath.Ext(path)))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(pathSuffix(r.URL.Path, "/status/"))
	snap, err := s.registry.Snapshot(id)
	if err != nil {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), fmt.Sprintf("stream %s not found", id))
		return
	}
	s.registry.Touch(id)
	writeJSON(w, http.StatusOK, buildStatus(snap))
}

type seekControl struct {
	CurrentPosition      int  `json:"currentPosition"`
	CurrentSegment       int  `json:"currentSegment"`
	TotalSegments        int  `json:"totalSegments"`
	SegmentDuration      int  `json:"segmentDuration"`
	SupportRangeRequests bool `json:"supportRangeRequests"`
	CanSeek              bool `json:"canSeek"`
}

type statusResponse struct {
	Ready              bool                       `json:"ready"`
	State              string                     `json:"state"`
	Folder             string                     `json:"folder"`
	File               string                     `json:"file,omitempty"`
	Error              string                     `json:"error,omitempty"`
	CreatedAt          time.Time                  `json:"createdAt"`
	ElapsedSeconds     float64                    `json:"elapsedSeconds"`
	TorrentName        string                     `json:"torrentName,omitempty"`
	TorrentHash        string                     `json:"torrentHash,omitempty"`
	NumPeers           int                        `json:"numPeers"`
	Progress           float64                    `json:"progress"`
	DownloadSpeed      int64                      `json:"downloadSpeed"`
	Ratio              float64                    `json:"ratio"`
	HLSReadyAt         *time.Time                 `json:"hlsReadyAt,omitempty"`
	MediaInfo          *domain.MediaInfo          `json:"mediaInfo,omitempty"`
	AvailableSubtitles []domain.SubtitleFile      `json:"availableSubtitles"`
	ExtractedSubtitles []domain.ExtractedSubtitle `json:"extractedSubtitles"`
	SeekControl        seekControl                `json:"seekControl"`
}

func buildStatus(snap session.Snapshot) statusResponse {
	resp := statusResponse{
		Ready:              snap.State == domain.StateReady,
		State:              string(snap.State),
		Folder:             snap.Folder,
		CreatedAt:          snap.CreatedAt,
		ElapsedSeconds:     time.Since(snap.CreatedAt).Seconds(),
		MediaInfo:          snap.Media,
		AvailableSubtitles: snap.DetectedSubtitles,
		ExtractedSubtitles: snap.ExtractedSubtitles,
		SeekControl: seekControl{
			CurrentPosition:      snap.PlaybackPosition,
			CurrentSegment:       snap.CurrentSegment,
			TotalSegments:        snap.TotalSegments,
			SegmentDuration:      snap.SegmentDuration,
			SupportRangeRequests: snap.Source != nil,
			CanSeek:              snap.TotalSegments > 0,
		},
	}
	if resp.AvailableSubtitles == nil {
		resp.AvailableSubtitles = []domain.SubtitleFile{}
	}
	if resp.ExtractedSubtitles == nil {
		resp.ExtractedSubtitles = []domain.ExtractedSubtitle{}
	}
	if snap.Source != nil {
		resp.File = snap.Source.Name
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if !snap.PlaylistReadyAt.IsZero() {
		t := snap.PlaylistReadyAt
		resp.HLSReadyAt = &t
	}
	if snap.HasStats {
		resp.TorrentName = snap.Stats.Name
		resp.TorrentHash = snap.Stats.InfoHash
		resp.NumPeers = snap.Stats.Peers
		resp.Progress = snap.Stats.Progress
		resp.DownloadSpeed = snap.Stats.DownloadSpeed
		resp.Ratio = snap.Stats.Ratio
	}
	return resp
}

func (s *Server) collectStatuses() []statusResponse {
	var out []statusResponse
	s.registry.ForEach(func(sess *domain.Session) {
		if snap, err := s.registry.Snapshot(sess.ID); err == nil {
			out = append(out, buildStatus(snap))
		}
	})
	return out
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	id := domain.SessionID(pathSuffix(r.URL.Path, "/seek/"))

	var req supervisor.SeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindBadRequest), "invalid JSON body")
		return
	}
	result, derr := supervisor.Seek(s.registry, id, req)
	if derr != nil {
		writeDomainError(w, derr)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSeekInfo(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(pathSuffix(r.URL.Path, "/seek-info/"))
	info, derr := supervisor.GetSeekInfo(s.registry, id)
	if derr != nil {
		writeDomainError(w, derr)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSubtitlesList(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(pathSuffix(r.URL.Path, "/subtitles-list/"))
	snap, err := s.registry.Snapshot(id)
	if err != nil {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), fmt.Sprintf("stream %s not found", id))
		return
	}
	s.registry.Touch(id)

	available := snap.DetectedSubtitles
	if available == nil {
		available = []domain.SubtitleFile{}
	}
	extracted := snap.ExtractedSubtitles
	if extracted == nil {
		extracted = []domain.ExtractedSubtitle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":         available,
		"extracted":         extracted,
		"languageSupported": domain.SupportedLanguages(),
	})
}

func (s *Server) handleSubtitleFile(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/subtitles/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		writeError(w, http.StatusBadRequest, string(domain.KindBadRequest), "expected /subtitles/<id>/<filename>")
		return
	}
	id := domain.SessionID(parts[0])

	snap, err := s.registry.Snapshot(id)
	if err != nil || snap.Folder == "" {
		writeError(w, http.StatusNotFound, string(domain.KindNotFound), fmt.Sprintf("stream %s not found", id))
		return
	}

	path, err := resolveSessionFilePath(snap.Folder, parts[1])
	if err != nil {
		writeError(w, http.StatusForbidden, string(domain.KindAccessDenied), "path escapes stream folder")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, string(domain.KindNotFound), "subtitle not found")
			return
		}
		writeError(w, http.StatusInternalServerError, string(domain.KindStorageError), "read subtitle failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptime":        time.Since(s.startedAt).Seconds(),
		"ffmpeg":        toolOnPath(s.ffmpegPath),
		"ffprobe":       toolOnPath(s.ffprobePath),
		"ytdlp":         toolOnPath(s.ytdlpPath),
		"activeStreams": s.registry.Len(),
		"features": map[string]bool{
			"torrent":   true,
			"url":       toolOnPath(s.ytdlpPath),
			"subtitles": true,
			"seek":      true,
		},
	})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"activeSessions": s.registry.Len(),
	}
	if s.probe != nil {
		limits := s.probe.Current()
		resp["memoryMB"] = limits.MemoryMB
		resp["cpuCount"] = limits.CPUCount
	}
	if s.scheduler != nil {
		active, queued, maxConcurrent := s.scheduler.Stats()
		resp["transcoders"] = map[string]int{
			"active":        active,
			"queued":        queued,
			"maxConcurrent": maxConcurrent,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
