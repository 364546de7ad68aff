package transcode

import (
	"log/slog"
	"sync"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

// Task is one pending transcode job. Admit moves the session into its
// running state and may refuse (the task is then dropped); Start spawns the
// subprocess and must arrange for the exit callback to fire exactly once.
type Task struct {
	SessionID domain.SessionID
	Admit     func() error
	Start     func(exit func(*domain.Error)) *domain.Error
	Fail      func(*domain.Error)
}

// Scheduler admits queued transcode tasks up to the concurrency cap in
// strict FIFO order. One lock serialises the queue and the active count.
type Scheduler struct {
	logger *slog.Logger

	mu            sync.Mutex
	queue         []*Task
	active        int
	maxConcurrent int
}

func NewScheduler(maxConcurrent int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{logger: logger, maxConcurrent: maxConcurrent}
}

// SetMaxConcurrent raises or lowers the cap. Raising it admits waiting
// tasks immediately; lowering it never kills running jobs, the excess
// drains as they finish.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.maxConcurrent = n
	s.mu.Unlock()
	s.admit()
}

// Submit enqueues the task and immediately attempts admission.
func (s *Scheduler) Submit(t *Task) {
	s.mu.Lock()
	s.queue = append(s.queue, t)
	metrics.TranscodersQueued.Set(float64(len(s.queue)))
	s.mu.Unlock()
	s.admit()
}

// Stats reports the live queue depth and active count.
func (s *Scheduler) Stats() (active, queued, maxConcurrent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, len(s.queue), s.maxConcurrent
}

// admit pops tasks from the queue head while capacity allows. Start runs
// outside the lock; its exit callback releases the slot and re-admits.
func (s *Scheduler) admit() {
	for {
		s.mu.Lock()
		if s.active >= s.maxConcurrent || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.active++
		metrics.TranscodersQueued.Set(float64(len(s.queue)))
		metrics.TranscodersActive.Set(float64(s.active))
		s.mu.Unlock()

		s.runTask(task)
	}
}

func (s *Scheduler) runTask(task *Task) {
	if err := task.Admit(); err != nil {
		// Session left Queued in the meantime, typically closed by the client.
		s.logger.Info("skipping transcode task", "session", string(task.SessionID), "reason", err)
		s.release()
		return
	}

	var once sync.Once
	terminal := func(e *domain.Error) {
		once.Do(func() {
			if e != nil {
				task.Fail(e)
			}
			s.release()
		})
	}

	if err := task.Start(terminal); err != nil {
		terminal(err)
	}
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.active--
	metrics.TranscodersActive.Set(float64(s.active))
	s.mu.Unlock()
	go s.admit()
}
