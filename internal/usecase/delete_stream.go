package usecase

import (
	"context"
	"os"
	"time"

	"streamgate/internal/domain"
)

// Delete tears the session down: Closed transition, stop the watchers, kill
// the transcoder, release the source, remove the folder, drop the record.
func (s *Streams) Delete(id domain.SessionID) error {
	snap, err := s.Registry.Snapshot(id)
	if err != nil {
		return err
	}

	_ = s.Registry.Transition(id, domain.StateClosed)

	s.mu.Lock()
	h := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	if h != nil {
		h.close()
	}

	s.Registry.Delete(id)
	if snap.Folder != "" {
		if err := os.RemoveAll(snap.Folder); err != nil {
			s.Logger.Warn("folder cleanup failed", "session", string(id), "error", err)
		}
	}
	s.Logger.Info("session closed", "session", string(id))
	return nil
}

// Shutdown closes every live session. Used on SIGTERM after the HTTP
// listener has drained.
func (s *Streams) Shutdown() {
	s.Registry.ForEach(func(sess *domain.Session) {
		_ = s.Delete(sess.ID)
	})
}

// SweepIdle deletes sessions whose last client access is older than timeout.
// A timeout of zero disables the sweep.
func (s *Streams) SweepIdle(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-timeout)
			var stale []domain.SessionID
			s.Registry.ForEach(func(sess *domain.Session) {
				sess.Mu.Lock()
				last := sess.LastAccess
				sess.Mu.Unlock()
				if !last.IsZero() && last.Before(cutoff) {
					stale = append(stale, sess.ID)
				}
			})
			for _, id := range stale {
				s.Logger.Info("reaping idle session", "session", string(id), "idleTimeout", timeout)
				_ = s.Delete(id)
			}
		}
	}
}
