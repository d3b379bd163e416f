// Package archive persists every processed run and finalizes it once the
// user's feedback arrives or the feedback window closes.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/AyanbekDos/smeta-2/internal/services/prompts"
	"github.com/AyanbekDos/smeta-2/internal/services/scheduler"
	"github.com/AyanbekDos/smeta-2/internal/services/tables"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"
)

const (
	metadataFile = "metadata.json"
	feedbackFile = "feedback.txt"
	resultFile   = "result.json"

	timeoutJobName = "feedback-timeout"

	// Markers of runs still awaiting feedback; the sweep lists only these
	pendingRoot = "pending/"

	// Budget for a finalize triggered from a timer or the sweep
	backgroundTimeout = 2 * time.Minute
)

// SweepJobName is the scheduler job that times out orphaned pending records
const SweepJobName = "archive-orphan-sweep"

var analyticsHeader = []string{
	"processing_id",
	"user_id",
	"document_name",
	"feedback_status",
	"feedback_received_at",
	"total_mass",
	"profile_count",
	"element_count",
	"degraded",
}

// InitialArtifacts is everything archived right after a run completes
type InitialArtifacts struct {
	UserID        int64
	DocumentName  string
	PageNumber    int
	PageImage     []byte
	PageImageType string // detected MIME type; PNG when empty
	TableHTML     string
	Result        *models.Specification
	FindPrompt    string
	ExtractPrompt string
	Strategy      string
	Degraded      bool
}

// Service writes run archives and drives their feedback lifecycle
type Service struct {
	store     interfaces.BlobStore
	scheduler interfaces.Scheduler
	registry  *scheduler.TimerRegistry
	prefix    string
	window    time.Duration
	now       func() time.Time
	logger    arbor.ILogger

	analyticsMu sync.Mutex
}

// NewService creates the archive service. A nil or unconfigured store
// disables archival; every other method then becomes a no-op.
func NewService(store interfaces.BlobStore, sched interfaces.Scheduler, registry *scheduler.TimerRegistry, prefix string, window time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		store:     store,
		scheduler: sched,
		registry:  registry,
		prefix:    strings.Trim(prefix, "/"),
		window:    window,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the wall clock used for run paths and timestamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enabled reports whether a configured blob store is attached
func (s *Service) Enabled() bool {
	return s.store != nil && s.store.Configured()
}

// Window returns the feedback window
func (s *Service) Window() time.Duration {
	return s.window
}

// WriteInitial uploads the run artifacts and a pending metadata.json.
// It returns the run path, or ("", false) when archival is disabled or failed.
func (s *Service) WriteInitial(ctx context.Context, in InitialArtifacts) (string, bool) {
	if !s.Enabled() {
		return "", false
	}

	started := s.now().UTC()
	path := RunPath(s.prefix, in.UserID, in.DocumentName, started)

	record := models.ArchiveRecord{
		UserID:              in.UserID,
		DocumentName:        in.DocumentName,
		Timestamp:           started.Format(time.RFC3339),
		ProcessingID:        common.NewProcessingID(),
		PageNumber:          in.PageNumber,
		FindPromptLength:    len([]rune(in.FindPrompt)),
		ExtractPromptLength: len([]rune(in.ExtractPrompt)),
		Strategy:            in.Strategy,
		Degraded:            in.Degraded,
		FeedbackStatus:      models.FeedbackPending,
	}

	if err := s.writeArtifacts(ctx, path, in); err != nil {
		s.logger.Error().
			Err(fmt.Errorf("%w: %w", interfaces.ErrArchiveWriteFailure, err)).
			Str("path", path).
			Msg("Failed to archive run artifacts")
		return "", false
	}

	// metadata.json goes last so a listed record always has its artifacts
	if err := s.putRecord(ctx, path, &record); err != nil {
		s.logger.Error().
			Err(fmt.Errorf("%w: %w", interfaces.ErrArchiveWriteFailure, err)).
			Str("path", path).
			Msg("Failed to write archive metadata")
		return "", false
	}

	if err := s.store.Put(ctx, PendingKey(path), []byte(record.Timestamp), "text/plain; charset=utf-8"); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to write pending marker; orphan sweep will not see this run")
	}

	s.logger.Info().
		Str("path", path).
		Str("processing_id", record.ProcessingID).
		Int64("user_id", in.UserID).
		Msg("Run archived")

	return path, true
}

func (s *Service) writeArtifacts(ctx context.Context, path string, in InitialArtifacts) error {
	gzipped, err := gzipString(in.TableHTML)
	if err != nil {
		return fmt.Errorf("failed to gzip table html: %w", err)
	}

	var result []byte
	if in.Result != nil {
		if result, err = json.MarshalIndent(in.Result, "", "  "); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	put := func(name string, data []byte, contentType string) {
		g.Go(func() error {
			return s.store.Put(gctx, path+"/"+name, data, contentType)
		})
	}

	if len(in.PageImage) > 0 {
		name, contentType := pageImageFile(in.PageImageType)
		put(name, in.PageImage, contentType)
	}
	put("table.html", []byte(in.TableHTML), "text/html; charset=utf-8")
	g.Go(func() error {
		return s.store.PutEncoded(gctx, path+"/table.html.gz", gzipped, "text/html; charset=utf-8", "gzip")
	})
	put("table.md", []byte(tables.Markdown(in.TableHTML)), "text/markdown; charset=utf-8")
	if result != nil {
		put(resultFile, result, "application/json")
	}
	put("prompts/"+prompts.FindAndValidate+".txt", []byte(in.FindPrompt), "text/plain; charset=utf-8")
	put("prompts/"+prompts.ExtractAndCorrect+".txt", []byte(in.ExtractPrompt), "text/plain; charset=utf-8")

	return g.Wait()
}

// ScheduleTimeout arms the feedback timeout for a user's run. Any earlier
// pending timeout for the same user is canceled and never fires.
func (s *Service) ScheduleTimeout(userID int64, archivePath string, timeout time.Duration) {
	if archivePath == "" || !s.Enabled() {
		return
	}

	task := s.registry.Schedule(userID, archivePath)
	stop := s.scheduler.After(timeout, timeoutJobName, func() {
		s.onTimeout(userID, task.ID, archivePath)
	})
	s.registry.Arm(userID, task.ID, stop)

	s.logger.Debug().
		Int64("user_id", userID).
		Str("task_id", strconv.FormatUint(task.ID, 10)).
		Str("path", archivePath).
		Dur("timeout", timeout).
		Msg("Feedback timeout scheduled")
}

// CancelPending cancels the user's pending timeout. It reports whether one existed.
func (s *Service) CancelPending(userID int64) bool {
	return s.registry.Cancel(userID)
}

// Finalize records explicit user feedback. The latest write wins.
func (s *Service) Finalize(ctx context.Context, archivePath string, status models.FeedbackStatus) {
	s.finalize(ctx, archivePath, status, 0, false)
}

func (s *Service) onTimeout(userID int64, taskID uint64, archivePath string) {
	if !s.registry.IsCurrent(userID, taskID) {
		s.logger.Debug().
			Int64("user_id", userID).
			Str("task_id", strconv.FormatUint(taskID, 10)).
			Msg("Stale feedback timeout ignored")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	s.finalize(ctx, archivePath, models.FeedbackTimeout, taskID, true)
	s.registry.Complete(userID, taskID)
}

func (s *Service) finalize(ctx context.Context, archivePath string, status models.FeedbackStatus, taskID uint64, onlyPending bool) {
	if archivePath == "" || !s.Enabled() {
		return
	}

	record, err := s.getRecord(ctx, archivePath)
	if err != nil {
		s.logger.Error().Err(err).Str("path", archivePath).Msg("Failed to read archive metadata")
		return
	}

	if onlyPending && record.FeedbackStatus.IsTerminal() {
		s.logger.Debug().
			Str("path", archivePath).
			Str("status", string(record.FeedbackStatus)).
			Msg("Run already finalized, timeout skipped")
		s.clearPending(ctx, archivePath)
		return
	}

	received := s.now().UTC()
	record.FeedbackStatus = status
	record.FeedbackReceivedAt = &received
	record.FinalizedByTask = taskID

	if err := s.putRecord(ctx, archivePath, record); err != nil {
		s.logger.Error().
			Err(fmt.Errorf("%w: %w", interfaces.ErrArchiveWriteFailure, err)).
			Str("path", archivePath).
			Msg("Failed to update archive metadata")
		return
	}

	s.clearPending(ctx, archivePath)

	if err := s.store.Put(ctx, archivePath+"/"+feedbackFile, []byte(feedbackNote(record)), "text/plain; charset=utf-8"); err != nil {
		s.logger.Warn().Err(err).Str("path", archivePath).Msg("Failed to write feedback note")
	}

	if err := s.appendAnalytics(ctx, s.analyticsRow(ctx, archivePath, record)); err != nil {
		s.logger.Warn().Err(err).Str("path", archivePath).Msg("Failed to append analytics row")
	}

	s.logger.Info().
		Str("path", archivePath).
		Str("status", string(status)).
		Str("processing_id", record.ProcessingID).
		Msg("Run finalized")
}

// SweepOrphans finalizes as timeout every pending run older than the
// feedback window that has no live timer, e.g. after a restart.
// Only runs with a pending marker are visited.
func (s *Service) SweepOrphans(ctx context.Context) int {
	if !s.Enabled() {
		return 0
	}

	keys, err := s.store.List(ctx, pendingRoot)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list pending runs")
		return 0
	}

	cutoff := s.now().Add(-s.window)
	swept := 0
	for _, key := range keys {
		path := strings.TrimPrefix(key, pendingRoot)

		marker, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable pending marker")
			continue
		}
		if started, err := time.Parse(time.RFC3339, string(marker)); err == nil && started.After(cutoff) {
			continue
		}

		record, err := s.getRecord(ctx, path)
		if errors.Is(err, interfaces.ErrBlobNotFound) {
			s.clearPending(ctx, path)
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable archive record")
			continue
		}
		if record.FeedbackStatus != models.FeedbackPending {
			s.clearPending(ctx, path)
			continue
		}
		started, err := time.Parse(time.RFC3339, record.Timestamp)
		if err != nil || started.After(cutoff) {
			continue
		}
		if task, ok := s.registry.Get(record.UserID); ok && task.ArchivePath == path {
			continue
		}

		s.finalize(ctx, path, models.FeedbackTimeout, 0, true)
		swept++
	}

	if swept > 0 {
		s.logger.Info().Int("count", swept).Msg("Orphaned pending runs timed out")
	}
	return swept
}

// RegisterSweep runs SweepOrphans on the given cron schedule
func (s *Service) RegisterSweep(schedule string) error {
	if schedule == "" || !s.Enabled() {
		return nil
	}
	return s.scheduler.Every(schedule, SweepJobName, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		s.SweepOrphans(ctx)
	})
}

func (s *Service) clearPending(ctx context.Context, archivePath string) {
	if err := s.store.Delete(ctx, PendingKey(archivePath)); err != nil {
		s.logger.Warn().Err(err).Str("path", archivePath).Msg("Failed to remove pending marker")
	}
}

// Record reads the metadata of an archived run
func (s *Service) Record(ctx context.Context, archivePath string) (*models.ArchiveRecord, error) {
	return s.getRecord(ctx, archivePath)
}

func (s *Service) getRecord(ctx context.Context, archivePath string) (*models.ArchiveRecord, error) {
	data, err := s.store.Get(ctx, archivePath+"/"+metadataFile)
	if err != nil {
		return nil, err
	}
	var record models.ArchiveRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", archivePath, metadataFile, err)
	}
	return &record, nil
}

func (s *Service) putRecord(ctx context.Context, archivePath string, record *models.ArchiveRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return s.store.Put(ctx, archivePath+"/"+metadataFile, data, "application/json")
}

func (s *Service) analyticsRow(ctx context.Context, archivePath string, record *models.ArchiveRecord) models.AnalyticsRow {
	row := models.AnalyticsRow{
		ProcessingID:       record.ProcessingID,
		UserID:             record.UserID,
		DocumentName:       record.DocumentName,
		FeedbackStatus:     record.FeedbackStatus,
		FeedbackReceivedAt: *record.FeedbackReceivedAt,
		Degraded:           record.Degraded,
	}

	data, err := s.store.Get(ctx, archivePath+"/"+resultFile)
	if err != nil {
		if !errors.Is(err, interfaces.ErrBlobNotFound) {
			s.logger.Warn().Err(err).Str("path", archivePath).Msg("Failed to read archived result")
		}
		return row
	}

	spec := &models.Specification{}
	if err := json.Unmarshal(data, spec); err != nil {
		s.logger.Warn().Err(err).Str("path", archivePath).Msg("Failed to decode archived result")
		return row
	}
	row.TotalMass = spec.TotalMass()
	row.ProfileCount = spec.ProfileCount()
	row.ElementCount = spec.ElementCount()
	return row
}

// appendAnalytics merges row into the day's feedback table
func (s *Service) appendAnalytics(ctx context.Context, row models.AnalyticsRow) error {
	s.analyticsMu.Lock()
	defer s.analyticsMu.Unlock()

	key := AnalyticsKey(row.FeedbackReceivedAt)

	var records [][]string
	existing, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		if records, err = csv.NewReader(bytes.NewReader(existing)).ReadAll(); err != nil {
			return fmt.Errorf("failed to parse %s: %w", key, err)
		}
	case errors.Is(err, interfaces.ErrBlobNotFound):
	default:
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	if len(records) == 0 {
		records = append(records, analyticsHeader)
	}
	records = append(records, []string{
		row.ProcessingID,
		strconv.FormatInt(row.UserID, 10),
		row.DocumentName,
		string(row.FeedbackStatus),
		row.FeedbackReceivedAt.UTC().Format(time.RFC3339),
		strconv.FormatFloat(row.TotalMass, 'f', -1, 64),
		strconv.Itoa(row.ProfileCount),
		strconv.Itoa(row.ElementCount),
		strconv.FormatBool(row.Degraded),
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	return s.store.Put(ctx, key, buf.Bytes(), "text/csv; charset=utf-8")
}

func feedbackNote(record *models.ArchiveRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Статус: %s\n", record.FeedbackStatus)
	fmt.Fprintf(&b, "Получено: %s\n", record.FeedbackReceivedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Документ: %s\n", record.DocumentName)
	fmt.Fprintf(&b, "Страница: %d\n", record.PageNumber)
	fmt.Fprintf(&b, "Стратегия: %s\n", record.Strategy)
	fmt.Fprintf(&b, "ID обработки: %s\n", record.ProcessingID)
	return b.String()
}

func pageImageFile(contentType string) (string, string) {
	if contentType == "image/jpeg" {
		return "page.jpg", contentType
	}
	return "page.png", "image/png"
}

func gzipString(s string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
