package session

import (
	"errors"
	"sync"
	"testing"

	"streamgate/internal/domain"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(nil)

	s := r.Create(domain.SourceTorrent)
	if len(s.ID) != 8 {
		t.Fatalf("ID = %q, want 8 hex chars", s.ID)
	}
	if s.State != domain.StatePending {
		t.Errorf("State = %q, want pending", s.State)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Error("Get returned a different record")
	}

	if _, err := r.Get("deadbeef"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	r := NewRegistry(nil)
	s := r.Create(domain.SourceURL)

	for _, to := range []domain.State{
		domain.StateResolving, domain.StateQueued,
		domain.StateTranscoding, domain.StateReady,
	} {
		if err := r.Transition(s.ID, to); err != nil {
			t.Fatalf("Transition to %s: %v", to, err)
		}
	}

	// Ready is sticky: re-entering Ready is fine, leaving it is not.
	if err := r.Transition(s.ID, domain.StateReady); err != nil {
		t.Errorf("Ready->Ready: %v, want nil", err)
	}
	if err := r.Transition(s.ID, domain.StateTranscoding); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Ready->Transcoding = %v, want ErrInvalidTransition", err)
	}
	if snap, _ := r.Snapshot(s.ID); snap.State != domain.StateReady {
		t.Errorf("state after rejected transition = %q, want ready", snap.State)
	}
}

func TestTransitionSkipRejected(t *testing.T) {
	r := NewRegistry(nil)
	s := r.Create(domain.SourceTorrent)

	if err := r.Transition(s.ID, domain.StateTranscoding); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Pending->Transcoding = %v, want ErrInvalidTransition", err)
	}
}

func TestFailIsTerminalAndFirstWins(t *testing.T) {
	r := NewRegistry(nil)
	s := r.Create(domain.SourceTorrent)
	_ = r.Transition(s.ID, domain.StateResolving)

	first := domain.NewError(domain.KindTorrentError, "metadata timeout")
	r.Fail(s.ID, first)
	r.Fail(s.ID, domain.NewError(domain.KindStorageError, "late loser"))

	snap, err := r.Snapshot(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != domain.StateFailed {
		t.Fatalf("State = %q, want failed", snap.State)
	}
	if snap.Err != first {
		t.Errorf("Err = %v, want first failure retained", snap.Err)
	}

	if err := r.Transition(s.ID, domain.StateReady); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Failed->Ready = %v, want ErrInvalidTransition", err)
	}
}

func TestCloseFromAnyState(t *testing.T) {
	r := NewRegistry(nil)
	for _, setup := range []func(id domain.SessionID){
		func(domain.SessionID) {},
		func(id domain.SessionID) { _ = r.Transition(id, domain.StateResolving) },
		func(id domain.SessionID) { r.Fail(id, domain.NewError(domain.KindTorrentError, "x")) },
	} {
		s := r.Create(domain.SourceTorrent)
		setup(s.ID)
		if err := r.Transition(s.ID, domain.StateClosed); err != nil {
			t.Errorf("close: %v", err)
		}
	}
}

func TestDeleteAndLen(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Create(domain.SourceTorrent)
	b := r.Create(domain.SourceURL)
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	r.Delete(a.ID)
	r.Delete(a.ID) // second delete is a no-op
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if _, err := r.Get(a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(deleted) = %v, want ErrNotFound", err)
	}
	if _, err := r.Get(b.ID); err != nil {
		t.Errorf("Get(surviving) = %v", err)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry(nil)
	s := r.Create(domain.SourceTorrent)
	_ = r.Transition(s.ID, domain.StateResolving)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Update(s.ID, func(s *domain.Session) {
				if 10 > s.TotalSegments {
					s.TotalSegments = 10
				}
			})
			_, _ = r.Snapshot(s.ID)
			r.Touch(s.ID)
		}()
	}
	wg.Wait()

	snap, _ := r.Snapshot(s.ID)
	if snap.TotalSegments != 10 {
		t.Errorf("TotalSegments = %d, want 10", snap.TotalSegments)
	}
}
