package session

import (
	"log/slog"
	"sync"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

// Registry holds all live sessions keyed by ID. The registry map has its own
// lock; each record carries a per-record mutex so Update on one session never
// blocks lookups of another.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

// Create registers a new Pending session and returns it. The ID is
// re-rolled on the unlikely event of a collision with a live session.
func (r *Registry) Create(kind domain.SourceKind) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := domain.NewSessionID()
	for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
		id = domain.NewSessionID()
	}

	now := time.Now()
	s := &domain.Session{
		ID:         id,
		Kind:       kind,
		State:      domain.StatePending,
		CreatedAt:  now,
		LastAccess: now,
	}
	r.sessions[id] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return s
}

// Get returns the live session for id, or domain.ErrNotFound.
func (r *Registry) Get(id domain.SessionID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// Update runs fn with the record lock held. When fn changes State the
// transition is validated; an illegal transition rolls the state back and
// returns domain.ErrInvalidTransition.
func (r *Registry) Update(id domain.SessionID, fn func(*domain.Session)) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()

	before := s.State
	fn(s)
	if s.State != before && !domain.CanTransition(before, s.State) {
		r.logger.Warn("rejected state transition",
			"session", string(id), "from", string(before), "to", string(s.State))
		s.State = before
		return domain.ErrInvalidTransition
	}
	if s.State != before {
		switch s.State {
		case domain.StateReady:
			metrics.SessionsReadyTotal.Inc()
		case domain.StateFailed:
			kind := string(domain.KindTranscoderError)
			if s.Err != nil {
				kind = string(s.Err.Kind)
			}
			metrics.SessionsFailedTotal.WithLabelValues(kind).Inc()
		}
	}
	return nil
}

// Transition moves the session to the target state, enforcing the lifecycle
// rules. Ready→Ready is accepted and is a no-op.
func (r *Registry) Transition(id domain.SessionID, to domain.State) error {
	return r.Update(id, func(s *domain.Session) {
		s.State = to
	})
}

// Fail marks the session Failed with the given error. If the session is
// already terminal the call is a no-op so the first failure wins.
func (r *Registry) Fail(id domain.SessionID, e *domain.Error) {
	s, err := r.Get(id)
	if err != nil {
		return
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.State == domain.StateFailed || s.State == domain.StateClosed {
		return
	}
	if !domain.CanTransition(s.State, domain.StateFailed) {
		return
	}
	s.State = domain.StateFailed
	s.Err = e
	metrics.SessionsFailedTotal.WithLabelValues(string(e.Kind)).Inc()
	r.logger.Error("session failed", "session", string(id), "error", e.Error())
}

// Touch records client activity for the idle sweep.
func (r *Registry) Touch(id domain.SessionID) {
	s, err := r.Get(id)
	if err != nil {
		return
	}
	s.Mu.Lock()
	s.LastAccess = time.Now()
	s.Mu.Unlock()
}

// Snapshot copies the session's fields under the record lock so callers can
// render state without racing writers.
type Snapshot struct {
	ID                 domain.SessionID
	Kind               domain.SourceKind
	State              domain.State
	CreatedAt          time.Time
	Folder             string
	Source             *domain.SourceFile
	DetectedSubtitles  []domain.SubtitleFile
	ExtractedSubtitles []domain.ExtractedSubtitle
	Media              *domain.MediaInfo
	SegmentDuration    int
	TotalSegments      int
	CurrentSegment     int
	PlaybackPosition   int
	PlaylistReadyAt    time.Time
	LastAccess         time.Time
	Stats              domain.TorrentStats
	HasStats           bool
	Err                *domain.Error
}

func (r *Registry) Snapshot(id domain.SessionID) (Snapshot, error) {
	s, err := r.Get(id)
	if err != nil {
		return Snapshot{}, err
	}

	s.Mu.Lock()
	snap := Snapshot{
		ID:                 s.ID,
		Kind:               s.Kind,
		State:              s.State,
		CreatedAt:          s.CreatedAt,
		Folder:             s.Folder,
		Source:             s.Source,
		DetectedSubtitles:  append([]domain.SubtitleFile(nil), s.DetectedSubtitles...),
		ExtractedSubtitles: append([]domain.ExtractedSubtitle(nil), s.ExtractedSubtitles...),
		Media:              s.Media,
		SegmentDuration:    s.SegmentDuration,
		TotalSegments:      s.TotalSegments,
		CurrentSegment:     s.CurrentSegment,
		PlaybackPosition:   s.PlaybackPosition,
		PlaylistReadyAt:    s.PlaylistReadyAt,
		LastAccess:         s.LastAccess,
		Err:                s.Err,
	}
	stats := s.Stats
	s.Mu.Unlock()

	// Stats polls the torrent client; call it outside the record lock.
	if stats != nil {
		snap.Stats = stats()
		snap.HasStats = true
	}
	return snap, nil
}

// Delete removes the session from the registry. The caller is responsible
// for tearing down the session's folder and source.
func (r *Registry) Delete(id domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach visits every live session. fn must not call back into the registry.
func (r *Registry) ForEach(fn func(*domain.Session)) {
	r.mu.RLock()
	list := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	for _, s := range list {
		fn(s)
	}
}
