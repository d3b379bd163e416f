package models

import (
	"time"
)

// FeedbackStatus is the lifecycle status of an archived run
type FeedbackStatus string

const (
	FeedbackPending FeedbackStatus = "pending"
	FeedbackGood    FeedbackStatus = "good"
	FeedbackBad     FeedbackStatus = "bad"
	FeedbackTimeout FeedbackStatus = "timeout"
)

// IsTerminal reports whether the status is one of good, bad or timeout
func (s FeedbackStatus) IsTerminal() bool {
	switch s {
	case FeedbackGood, FeedbackBad, FeedbackTimeout:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s FeedbackStatus) Valid() bool {
	return s == FeedbackPending || s.IsTerminal()
}

// ArchiveRecord is the metadata.json document stored with every archived run
type ArchiveRecord struct {
	UserID              int64          `json:"user_id"`
	DocumentName        string         `json:"document_name"`
	Timestamp           string         `json:"timestamp"` // ISO-8601 UTC
	ProcessingID        string         `json:"processing_id"`
	PageNumber          int            `json:"page_number"`
	FindPromptLength    int            `json:"find_prompt_length"`
	ExtractPromptLength int            `json:"extract_prompt_length"`
	Strategy            string         `json:"strategy"`
	Degraded            bool           `json:"degraded"`
	FeedbackStatus      FeedbackStatus `json:"feedback_status"`
	FeedbackReceivedAt  *time.Time     `json:"feedback_received_at"`
	FinalizedByTask     uint64         `json:"finalized_by_task,omitempty"`
}

// AnalyticsRow is one line of the date-partitioned feedback table
type AnalyticsRow struct {
	ProcessingID       string
	UserID             int64
	DocumentName       string
	FeedbackStatus     FeedbackStatus
	FeedbackReceivedAt time.Time
	TotalMass          float64
	ProfileCount       int
	ElementCount       int
	Degraded           bool
}
