package common

import (
	"github.com/google/uuid"
)

// NewProcessingID generates the unique id recorded in an archive record
func NewProcessingID() string {
	return uuid.New().String()
}

// NewSessionID generates a session id with the "ses_" prefix
// Format: ses_<first 12 hex chars of a uuid>
func NewSessionID() string {
	id := uuid.New().String()
	return "ses_" + id[:8] + id[9:13]
}
