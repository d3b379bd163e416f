package bot

import (
	"context"
	"sync"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/models"
)

type sessionEntry struct {
	mu       sync.Mutex
	session  *models.ExtractionSession
	lastSeen time.Time

	// interrupt cancels the running pipeline stage; guarded by Sessions.mu
	interrupt context.CancelFunc
}

// Sessions holds one session per user. Events for the same user are
// serialized by the per-entry mutex. Long pipeline stages can be
// interrupted without that mutex.
type Sessions struct {
	mu      sync.Mutex
	entries map[int64]*sessionEntry
	now     func() time.Time
}

// NewSessions creates an empty registry
func NewSessions() *Sessions {
	return &Sessions{
		entries: make(map[int64]*sessionEntry),
		now:     time.Now,
	}
}

// Acquire locks the user's session, creating it on first use.
// The returned func must be called to release it.
func (s *Sessions) Acquire(userID, chatID int64) (*models.ExtractionSession, func()) {
	for {
		entry := s.entry(userID, chatID)
		entry.mu.Lock()

		// Prune may have dropped the entry between lookup and lock
		s.mu.Lock()
		current := s.entries[userID] == entry
		s.mu.Unlock()
		if !current {
			entry.mu.Unlock()
			continue
		}

		entry.session.ChatID = chatID
		return entry.session, func() {
			entry.lastSeen = s.now()
			entry.mu.Unlock()
		}
	}
}

func (s *Sessions) entry(userID, chatID int64) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		now := s.now()
		entry = &sessionEntry{
			session: &models.ExtractionSession{
				UserID:    userID,
				ChatID:    chatID,
				State:     models.StateSelectingAction,
				CreatedAt: now,
			},
			lastSeen: now,
		}
		s.entries[userID] = entry
	}
	return entry
}

// BeginWork derives a cancelable context for a long stage of the user's
// session. The returned func must be called when the stage ends.
func (s *Sessions) BeginWork(parent context.Context, userID int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	entry, ok := s.entries[userID]
	if ok {
		entry.interrupt = cancel
	}
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if ok {
			entry.interrupt = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// Interrupt cancels the user's running stage, if any. It does not wait
// for the session lock.
func (s *Sessions) Interrupt(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok || entry.interrupt == nil {
		return false
	}
	entry.interrupt()
	entry.interrupt = nil
	return true
}

// Len returns the number of tracked users
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Prune drops idle sessions not touched within maxAge. Sessions currently
// locked by a handler are left alone.
func (s *Sessions) Prune(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, entry := range s.entries {
		if !entry.mu.TryLock() {
			continue
		}
		if entry.lastSeen.Before(cutoff) && entry.session.State != models.StateProcessing {
			delete(s.entries, userID)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}
