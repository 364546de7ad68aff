package apihttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"streamgate/internal/domain"
	"streamgate/internal/session"
	"streamgate/internal/source"
	"streamgate/internal/supervisor"
	"streamgate/internal/transcode"
	"streamgate/internal/usecase"
)

func newTestServer(t *testing.T) (*Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	streams := &usecase.Streams{
		Registry:   registry,
		Scheduler:  transcode.NewScheduler(1, nil),
		Supervisor: supervisor.New(registry, nil),
		Logger:     logger,
		ResolveTorrent: func(context.Context, string) (*source.Resolved, *domain.Error) {
			return nil, domain.NewError(domain.KindTorrentError, "not reachable in tests")
		},
		StageURL: func(context.Context, string, string) (*domain.SourceFile, *domain.Error) {
			return nil, domain.NewError(domain.KindExternalToolFailed, "not reachable in tests")
		},
		Probe: func(context.Context, *domain.SourceFile) transcode.ProbeResult {
			return transcode.ProbeResult{}
		},
		FFMPEGPath:     "ffmpeg",
		StreamBaseDir:  t.TempDir(),
		SegmentSeconds: func(int) int { return 4 },
	}
	srv := NewServer(streams, registry, WithLogger(logger))
	t.Cleanup(srv.Close)
	return srv, registry
}

// seedFileSession registers a Ready session whose source is a staged file
// with the given contents.
func seedFileSession(t *testing.T, registry *session.Registry, contents string) (domain.SessionID, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	sess := registry.Create(domain.SourceURL)
	for _, to := range []domain.State{domain.StateResolving, domain.StateQueued, domain.StateTranscoding, domain.StateReady} {
		if err := registry.Transition(sess.ID, to); err != nil {
			t.Fatal(err)
		}
	}
	err := registry.Update(sess.ID, func(s *domain.Session) {
		s.Folder = dir
		s.SegmentDuration = 4
		s.Source = &domain.SourceFile{
			Name:   "movie.mp4",
			Length: int64(len(contents)),
			Path:   path,
			OpenRange: func(start, end int64) (io.ReadCloser, error) {
				data := contents
				if end < 0 {
					end = int64(len(data)) - 1
				}
				return io.NopCloser(strings.NewReader(data[start : end+1])), nil
			},
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	return sess.ID, dir
}

func doRequest(srv *Server, method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCreateStreamRejectsMissingMagnet(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/stream", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != "BadRequest" {
		t.Errorf("code = %q, want BadRequest", body["code"])
	}
}

func TestCreateStreamReturnsURLs(t *testing.T) {
	srv, registry := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/stream", `{"magnet":"magnet:?xt=urn:btih:AAAA"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var res usecase.CreateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.StreamID) != 8 {
		t.Errorf("stream_id = %q, want 8 hex chars", res.StreamID)
	}
	if res.HLSURL != "/hls/"+res.StreamID+"/playlist.m3u8" || res.MP4URL != "/stream/"+res.StreamID {
		t.Errorf("urls = %q, %q", res.HLSURL, res.MP4URL)
	}
	if _, err := registry.Get(domain.SessionID(res.StreamID)); err != nil {
		t.Errorf("session not registered: %v", err)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/status/deadbeef", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatusSnapshot(t *testing.T) {
	srv, registry := newTestServer(t)
	id, _ := seedFileSession(t, registry, "0123456789")

	rec := doRequest(srv, http.MethodGet, "/status/"+string(id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ready"] != true {
		t.Error("ready = false, want true")
	}
	if body["file"] != "movie.mp4" {
		t.Errorf("file = %v", body["file"])
	}
	sc, ok := body["seekControl"].(map[string]any)
	if !ok {
		t.Fatal("seekControl missing")
	}
	if sc["segmentDuration"] != float64(4) {
		t.Errorf("segmentDuration = %v, want 4", sc["segmentDuration"])
	}
	if sc["supportRangeRequests"] != true {
		t.Error("supportRangeRequests = false")
	}
}

func TestStreamRangeSemantics(t *testing.T) {
	srv, registry := newTestServer(t)
	id, _ := seedFileSession(t, registry, strings.Repeat("x", 1000))
	path := "/stream/" + string(id)

	t.Run("no range returns full body", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.Len() != 1000 {
			t.Errorf("body = %d bytes, want 1000", rec.Body.Len())
		}
		if rec.Header().Get("Accept-Ranges") != "bytes" {
			t.Error("Accept-Ranges missing")
		}
		if rec.Header().Get("X-Stream-Ready") != "true" {
			t.Errorf("X-Stream-Ready = %q", rec.Header().Get("X-Stream-Ready"))
		}
		if rec.Header().Get("X-Subtitle-Count") != "0" {
			t.Errorf("X-Subtitle-Count = %q", rec.Header().Get("X-Subtitle-Count"))
		}
	})

	t.Run("partial range", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, path, "", map[string]string{"Range": "bytes=100-199"})
		if rec.Code != http.StatusPartialContent {
			t.Fatalf("status = %d, want 206", rec.Code)
		}
		if rec.Body.Len() != 100 {
			t.Errorf("body = %d bytes, want 100", rec.Body.Len())
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
			t.Errorf("Content-Range = %q", got)
		}
	})

	t.Run("open ended range", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, path, "", map[string]string{"Range": "bytes=990-"})
		if rec.Code != http.StatusPartialContent || rec.Body.Len() != 10 {
			t.Errorf("status = %d body = %d, want 206 with 10 bytes", rec.Code, rec.Body.Len())
		}
	})

	t.Run("range beyond size", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, path, "", map[string]string{"Range": "bytes=1000-1500"})
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("status = %d, want 416", rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
			t.Errorf("Content-Range = %q, want bytes */1000", got)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("body = %d bytes, want empty", rec.Body.Len())
		}
	})

	t.Run("end beyond size is not clamped", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, path, "", map[string]string{"Range": "bytes=0-5000"})
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Errorf("status = %d, want 416", rec.Code)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, path, "", map[string]string{"Range": "bytes=200-100"})
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Errorf("status = %d, want 416", rec.Code)
		}
	})
}

func TestStreamSingleByteFile(t *testing.T) {
	srv, registry := newTestServer(t)
	id, _ := seedFileSession(t, registry, "a")

	rec := doRequest(srv, http.MethodGet, "/stream/"+string(id), "", map[string]string{"Range": "bytes=0-0"})
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "a" {
		t.Errorf("body = %q, want one byte", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-0/1" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestDeleteStream(t *testing.T) {
	srv, registry := newTestServer(t)
	id, _ := seedFileSession(t, registry, "abc")

	rec := doRequest(srv, http.MethodDelete, "/stream/"+string(id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := registry.Get(id); err == nil {
		t.Error("session still registered after delete")
	}

	rec = doRequest(srv, http.MethodDelete, "/stream/"+string(id), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestSeekByTime(t *testing.T) {
	srv, registry := newTestServer(t)
	id, _ := seedFileSession(t, registry, "abc")
	_ = registry.Update(id, func(s *domain.Session) { s.TotalSegments = 100 })

	rec := doRequest(srv, http.MethodPost, "/seek/"+string(id), `{"time": 17}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var res supervisor.SeekResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.CurrentSegment != 4 || res.PlaybackPosition != 16 {
		t.Errorf("result = %+v, want segment 4 position 16", res)
	}
	if res.PlaybackPositionFormatted != "00:00:16" {
		t.Errorf("formatted = %q", res.PlaybackPositionFormatted)
	}
}

func TestSeekOutOfRange(t *testing.T) {
	srv, registry := newTestServer(t)
	id, _ := seedFileSession(t, registry, "abc")
	_ = registry.Update(id, func(s *domain.Session) { s.TotalSegments = 100 })

	rec := doRequest(srv, http.MethodPost, "/seek/"+string(id), `{"segment": 999}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "invalid segment 999, valid range: 0-99" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestSeekInfo(t *testing.T) {
	srv, registry := newTestServer(t)
	id, _ := seedFileSession(t, registry, "abc")
	_ = registry.Update(id, func(s *domain.Session) { s.TotalSegments = 10 })

	rec := doRequest(srv, http.MethodGet, "/seek-info/"+string(id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info supervisor.SeekInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.TotalSegments != 10 || len(info.Window) != 10 {
		t.Errorf("info = %+v", info)
	}
}

func TestHLSServesPlaylistAndSegments(t *testing.T) {
	srv, registry := newTestServer(t)
	id, dir := seedFileSession(t, registry, "abc")
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:4.0,\nsegment_000.ts\n"
	if err := os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte(playlist), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "segment_000.ts"), []byte("tsdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(srv, http.MethodGet, "/hls/"+string(id)+"/playlist.m3u8", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("playlist status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "#EXTM3U") {
		t.Errorf("playlist body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("Content-Type = %q", ct)
	}

	rec = doRequest(srv, http.MethodGet, "/hls/"+string(id)+"/segment_000.ts", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "tsdata" {
		t.Errorf("segment status = %d body = %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(srv, http.MethodGet, "/hls/"+string(id)+"/segment_999.ts", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing segment status = %d, want 404", rec.Code)
	}
}

func TestSubtitlesList(t *testing.T) {
	srv, registry := newTestServer(t)
	id, dir := seedFileSession(t, registry, "abc")
	subPath := filepath.Join(dir, "subtitle_eng.srt")
	if err := os.WriteFile(subPath, []byte("1\nhello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = registry.Update(id, func(s *domain.Session) {
		s.ExtractedSubtitles = []domain.ExtractedSubtitle{{
			Name: "subtitle_eng.srt", Path: subPath, Language: "eng", Ext: "srt", Size: 8,
		}}
	})

	rec := doRequest(srv, http.MethodGet, "/subtitles-list/"+string(id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Extracted         []domain.ExtractedSubtitle `json:"extracted"`
		LanguageSupported []string                   `json:"languageSupported"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Extracted) != 1 || body.Extracted[0].Language != "eng" {
		t.Errorf("extracted = %v", body.Extracted)
	}
	if len(body.LanguageSupported) != 17 {
		t.Errorf("languageSupported = %d entries, want 17", len(body.LanguageSupported))
	}

	rec = doRequest(srv, http.MethodGet, "/subtitles/"+string(id)+"/subtitle_eng.srt", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("subtitle fetch status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestResolveSessionFilePathRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"../secret", "../../etc/passwd", "..", "a/../../b"} {
		if _, err := resolveSessionFilePath(dir, name); err == nil {
			t.Errorf("name %q should be rejected", name)
		}
	}
	if _, err := resolveSessionFilePath(dir, "subtitle_eng.srt"); err != nil {
		t.Errorf("plain name rejected: %v", err)
	}
}

func TestHealthAndResources(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v", health["status"])
	}
	if _, ok := health["ffmpeg"].(bool); !ok {
		t.Error("ffmpeg flag missing")
	}

	rec = doRequest(srv, http.MethodGet, "/resources", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resources status = %d", rec.Code)
	}
	var resources map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resources); err != nil {
		t.Fatal(err)
	}
	if resources["activeSessions"] != float64(0) {
		t.Errorf("activeSessions = %v", resources["activeSessions"])
	}
}

func TestParseByteRangeTable(t *testing.T) {
	tests := []struct {
		header     string
		size       int64
		start, end int64
		ok         bool
	}{
		{"bytes=0-499", 1000, 0, 499, true},
		{"bytes=500-", 1000, 500, 999, true},
		{"bytes=0-0", 1, 0, 0, true},
		{"bytes=999-999", 1000, 999, 999, true},
		{"bytes=1000-1500", 1000, 0, 0, false},
		{"bytes=0-1000", 1000, 0, 0, false},
		{"bytes=200-100", 1000, 0, 0, false},
		{"bytes=-500", 1000, 0, 0, false},
		{"items=0-10", 1000, 0, 0, false},
		{"bytes=0-10,20-30", 1000, 0, 0, false},
		{"bytes=abc-def", 1000, 0, 0, false},
	}
	for _, tt := range tests {
		start, end, err := parseByteRange(tt.header, tt.size)
		if tt.ok {
			if err != nil {
				t.Errorf("%q: unexpected error %v", tt.header, err)
				continue
			}
			if start != tt.start || end != tt.end {
				t.Errorf("%q: got %d-%d, want %d-%d", tt.header, start, end, tt.start, tt.end)
			}
		} else if err == nil {
			t.Errorf("%q: expected error", tt.header)
		}
	}
}
