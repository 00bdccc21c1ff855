package core

// sessions.go keeps in-flight import jobs in memory and sweeps idle ones.
//
// The sweeper is long-running and context-aware for graceful shutdown. A job
// that is mid-confirm is never swept.

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSessionTTL is how long an untouched import job is kept.
const DefaultSessionTTL = 30 * time.Minute

// ImportSessions maps job ids to jobs.
type ImportSessions struct {
	mu   sync.RWMutex
	jobs map[string]*ImportJob
	ttl  time.Duration
}

// NewImportSessions creates an empty session map.
func NewImportSessions(ttl time.Duration) *ImportSessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &ImportSessions{jobs: make(map[string]*ImportJob), ttl: ttl}
}

// Create starts a new job for user against target.
func (s *ImportSessions) Create(userID string, target TableDefinition) (*ImportJob, error) {
	job, err := NewImportJob(newID(), userID, target)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job, nil
}

// Get returns the job with id. Jobs are private to the user who created
// them; another user's job is reported as not found.
func (s *ImportSessions) Get(id, userID string) (*ImportJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok || job.UserID != userID {
		return nil, NewNotFoundError("import", id)
	}
	return job, nil
}

// Remove destroys a job. Running jobs are kept.
func (s *ImportSessions) Remove(id, userID string) error {
	job, err := s.Get(id, userID)
	if err != nil {
		return err
	}
	if job.Running() {
		return transitionError(job.State(), "discard")
	}
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live jobs.
func (s *ImportSessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep removes jobs idle for longer than the TTL and returns how many.
func (s *ImportSessions) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Running() {
			continue
		}
		if now.Sub(job.IdleSince()) > s.ttl {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper removes idle jobs every interval until ctx is cancelled.
func (s *ImportSessions) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl / 2
	}
	slog.Info("import session sweeper started", "ttl", s.ttl, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("import session sweeper stopped")
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				slog.Info("swept idle import jobs", "removed", n, "remaining", s.Len())
			}
		}
	}
}
