package archive

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	maxFilenameRunes = 100
	defaultFilename  = "document"
	runTimeLayout    = "20060102_150405"
)

var unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

// CleanFilename turns a document name into a storage-safe path segment
func CleanFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	cleaned := unsafeFilenameChars.ReplaceAllString(base, "_")
	cleaned = strings.Trim(cleaned, "_")

	runes := []rune(cleaned)
	if len(runes) > maxFilenameRunes {
		cleaned = strings.TrimRight(string(runes[:maxFilenameRunes]), "_")
	}
	if cleaned == "" {
		return defaultFilename
	}
	return cleaned
}

// RunPath returns the archive directory of one run, without a trailing slash
func RunPath(prefix string, userID int64, documentName string, at time.Time) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts,
		strconv.FormatInt(userID, 10),
		CleanFilename(documentName),
		at.UTC().Format(runTimeLayout)+"Z",
	)
	return strings.Join(parts, "/")
}

// PendingKey returns the marker that lists a run as awaiting feedback
func PendingKey(runPath string) string {
	return pendingRoot + runPath
}

// AnalyticsKey returns the date-partitioned feedback table for day
func AnalyticsKey(day time.Time) string {
	return "analytics/date=" + day.UTC().Format("2006-01-02") + "/feedback.csv"
}
