package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

// SessionID is an 8-hex-character identifier, unique for the process lifetime.
type SessionID string

// NewSessionID returns a uniformly random 8-hex-char identifier.
func NewSessionID() SessionID {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// timestamp-derived id rather than panicking mid-request.
		return SessionID(fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff))
	}
	return SessionID(hex.EncodeToString(buf))
}

type SourceKind string

const (
	SourceTorrent SourceKind = "torrent"
	SourceURL     SourceKind = "url"
)

// State is the lifecycle state of a stream session.
type State string

const (
	StatePending     State = "pending"
	StateResolving   State = "resolving"
	StateQueued      State = "queued"
	StateTranscoding State = "transcoding"
	StateReady       State = "ready"
	StateFailed      State = "failed"
	StateClosed      State = "closed"
)

// transitions lists the permitted state changes. Ready→Ready is a no-op
// handled by CanTransition; any state may move to Closed.
var transitions = map[State][]State{
	StatePending:     {StateResolving},
	StateResolving:   {StateQueued, StateFailed},
	StateQueued:      {StateTranscoding, StateFailed},
	StateTranscoding: {StateReady, StateFailed},
	StateReady:       {StateReady},
	StateFailed:      {},
	StateClosed:      {},
}

// CanTransition reports whether from→to is a legal state change.
func CanTransition(from, to State) bool {
	if to == StateClosed {
		return true
	}
	if from == to && from == StateReady {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourceFile is the selected playable file of a resolved source. OpenRange
// returns a reader over [start, end] inclusive; end < 0 means end of file.
type SourceFile struct {
	Name      string
	Length    int64
	Path      string // staged file path; empty for live torrent sources
	OpenRange func(start, end int64) (io.ReadCloser, error)
}

// SubtitleFile describes a subtitle side-file discovered in the source.
type SubtitleFile struct {
	Name     string `json:"name"`
	Ext      string `json:"ext"`
	Size     int64  `json:"size"`
	Language string `json:"language"`
}

// ExtractedSubtitle is a subtitle written into the session folder.
type ExtractedSubtitle struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Ext      string `json:"ext"`
	Size     int64  `json:"size"`
}

// MediaInfo holds probed media metadata.
type MediaInfo struct {
	Duration          float64 `json:"duration"`
	DurationFormatted string  `json:"durationFormatted"`
}

// TorrentStats is a point-in-time view of the torrent transfer backing a
// session. Populated by the torrent source adapter; zero for URL sources.
type TorrentStats struct {
	Name          string
	InfoHash      string
	Peers         int
	Progress      float64 // 0–100, 2 decimals
	DownloadSpeed int64   // bytes/s
	Ratio         float64
}

// Session is one client-requested stream from creation to teardown. All
// mutation goes through Registry.Update which holds the per-record lock;
// readers take snapshots.
type Session struct {
	Mu sync.Mutex

	ID        SessionID
	Kind      SourceKind
	State     State
	CreatedAt time.Time
	Folder    string

	Source             *SourceFile
	DetectedSubtitles  []SubtitleFile
	ExtractedSubtitles []ExtractedSubtitle
	Media              *MediaInfo

	// Fixed at transcoder spawn; never mutated afterwards (existing segment
	// timestamps depend on it).
	SegmentDuration int
	TotalSegments   int // monotonic non-decreasing

	// Advisory client-maintained seek cursor.
	CurrentSegment   int
	PlaybackPosition int // seconds; always CurrentSegment*SegmentDuration

	PlaylistReadyAt time.Time
	LastAccess      time.Time

	// Stats reports live torrent transfer state; nil for URL sources.
	Stats func() TorrentStats

	Err *Error
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
