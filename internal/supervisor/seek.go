package supervisor

import (
	"fmt"
	"os"
	"path/filepath"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
	"streamgate/internal/session"
)

// SeekRequest carries a client seek: exactly one of Time or Segment set.
type SeekRequest struct {
	Time    *float64 `json:"time,omitempty"`
	Segment *int     `json:"segment,omitempty"`
}

// SeekResult reports the advisory cursor after a successful seek.
type SeekResult struct {
	Success                   bool   `json:"success"`
	CurrentSegment            int    `json:"currentSegment"`
	PlaybackPosition          int    `json:"playbackPosition"`
	PlaybackPositionFormatted string `json:"playbackPositionFormatted"`
	Message                   string `json:"message"`
}

// Seek updates the session's advisory playback cursor. Seeking by time maps
// to the containing segment; seeking by segment is direct. The range check
// only applies once at least one segment has been observed.
func Seek(registry *session.Registry, id domain.SessionID, req SeekRequest) (SeekResult, *domain.Error) {
	if req.Time == nil && req.Segment == nil {
		return SeekResult{}, domain.NewError(domain.KindBadRequest, "time or segment required")
	}

	snap, err := registry.Snapshot(id)
	if err != nil {
		return SeekResult{}, domain.NewError(domain.KindNotFound, "stream %s not found", id)
	}
	segDur := snap.SegmentDuration
	if segDur < 1 {
		segDur = 1
	}

	target := 0
	if req.Segment != nil {
		target = *req.Segment
	} else {
		if *req.Time < 0 {
			return SeekResult{}, domain.NewError(domain.KindBadRequest, "time must be non-negative")
		}
		target = int(*req.Time) / segDur
	}

	if target < 0 || (snap.TotalSegments > 0 && target >= snap.TotalSegments) {
		return SeekResult{}, domain.NewError(domain.KindOutOfRange,
			"invalid segment %d, valid range: 0-%d", target, snap.TotalSegments-1)
	}

	position := target * segDur
	updateErr := registry.Update(id, func(s *domain.Session) {
		s.CurrentSegment = target
		s.PlaybackPosition = position
	})
	if updateErr != nil {
		return SeekResult{}, domain.NewError(domain.KindNotFound, "stream %s not found", id)
	}
	registry.Touch(id)
	metrics.SeekRequestsTotal.Inc()

	return SeekResult{
		Success:                   true,
		CurrentSegment:            target,
		PlaybackPosition:          position,
		PlaybackPositionFormatted: domain.FormatDuration(float64(position)),
		Message:                   fmt.Sprintf("seeked to segment %d", target),
	}, nil
}

// SegmentDescriptor annotates one segment of the seek window with its
// on-disk availability; retention may have evicted older segments.
type SegmentDescriptor struct {
	Segment   int    `json:"segment"`
	StartTime int    `json:"startTime"`
	Available bool   `json:"available"`
	File      string `json:"file"`
}

// SeekInfo describes the current cursor plus a window of up to 20 segments
// centred on it.
type SeekInfo struct {
	CurrentSegment  int                 `json:"currentSegment"`
	CurrentPosition int                 `json:"currentPosition"`
	SegmentDuration int                 `json:"segmentDuration"`
	TotalSegments   int                 `json:"totalSegments"`
	TotalDuration   float64             `json:"totalDuration,omitempty"`
	Window          []SegmentDescriptor `json:"window"`
}

const seekWindowSize = 20

// GetSeekInfo returns the session's seek cursor and segment window.
func GetSeekInfo(registry *session.Registry, id domain.SessionID) (SeekInfo, *domain.Error) {
	snap, err := registry.Snapshot(id)
	if err != nil {
		return SeekInfo{}, domain.NewError(domain.KindNotFound, "stream %s not found", id)
	}
	registry.Touch(id)

	segDur := snap.SegmentDuration
	if segDur < 1 {
		segDur = 1
	}

	info := SeekInfo{
		CurrentSegment:  snap.CurrentSegment,
		CurrentPosition: snap.PlaybackPosition,
		SegmentDuration: segDur,
		TotalSegments:   snap.TotalSegments,
	}
	if snap.Media != nil {
		info.TotalDuration = snap.Media.Duration
	}

	if snap.TotalSegments == 0 {
		return info, nil
	}

	half := seekWindowSize / 2
	start := snap.CurrentSegment - half
	if start < 0 {
		start = 0
	}
	end := start + seekWindowSize
	if end > snap.TotalSegments {
		end = snap.TotalSegments
		if end-seekWindowSize > 0 {
			start = end - seekWindowSize
		} else {
			start = 0
		}
	}

	for seg := start; seg < end; seg++ {
		name := fmt.Sprintf("segment_%03d.ts", seg)
		_, statErr := os.Stat(filepath.Join(snap.Folder, name))
		info.Window = append(info.Window, SegmentDescriptor{
			Segment:   seg,
			StartTime: seg * segDur,
			Available: statErr == nil,
			File:      name,
		})
	}
	return info, nil
}
