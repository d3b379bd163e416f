package models

import (
	"time"
)

// ConversationState is the chat-level state of one user's session
type ConversationState int

const (
	StateSelectingAction ConversationState = iota
	StateAwaitingConfirmation
	StateAwaitingManualPage
	StateProcessing
	StateAwaitingFeedback
)

func (s ConversationState) String() string {
	switch s {
	case StateSelectingAction:
		return "selecting_action"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateAwaitingManualPage:
		return "awaiting_manual_page"
	case StateProcessing:
		return "processing"
	case StateAwaitingFeedback:
		return "awaiting_feedback"
	default:
		return "unknown"
	}
}

// ExtractionSession holds one user's in-flight request.
// The session owns SourceDocument until processing completes.
type ExtractionSession struct {
	SessionID      string
	UserID         int64
	ChatID         int64
	DocumentName   string
	SourceDocument []byte
	PageCount      int
	PageNumber     int // 0 until located or entered
	PageImage      []byte
	RawTableText   string
	Structured     *Specification
	Strategy       string
	Degraded       bool
	ArchivePath    string
	State          ConversationState
	CreatedAt      time.Time
}

// Clear drops all document data, keeping identity fields
func (s *ExtractionSession) Clear() {
	s.SourceDocument = nil
	s.PageCount = 0
	s.PageNumber = 0
	s.PageImage = nil
	s.RawTableText = ""
	s.Structured = nil
	s.Strategy = ""
	s.Degraded = false
	s.ArchivePath = ""
	s.State = StateSelectingAction
}
