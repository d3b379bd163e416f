package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/AyanbekDos/smeta-2/internal/services/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type memoryBlob struct {
	data     []byte
	encoding string
}

type memoryStore struct {
	mu           sync.Mutex
	blobs        map[string]memoryBlob
	unconfigured bool
	failPut      string
	reads        map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blobs: make(map[string]memoryBlob), reads: make(map[string]int)}
}

func (m *memoryStore) Configured() bool { return !m.unconfigured }

func (m *memoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.PutEncoded(ctx, key, data, contentType, "")
}

func (m *memoryStore) PutEncoded(_ context.Context, key string, data []byte, _ string, encoding string) error {
	if m.failPut != "" && strings.HasSuffix(key, m.failPut) {
		return errors.New("upload refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = memoryBlob{data: append([]byte(nil), data...), encoding: encoding}
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[key]++
	blob, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBlobNotFound, key)
	}
	return blob.data, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []string{}
	for key := range m.blobs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memoryStore) resetReads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = make(map[string]int)
}

func (m *memoryStore) Close() error { return nil }

// fakeScheduler fires delayed callbacks only when the test advances its clock
type fakeScheduler struct {
	mu      sync.Mutex
	base    time.Time
	elapsed time.Duration
	timers  []*fakeTimer
	jobs    map[string]func()

	// lateCancel makes every cancel lose the race with an already due callback
	lateCancel bool
}

type fakeTimer struct {
	at       time.Duration
	fn       func()
	fired    bool
	canceled bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		base: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		jobs: make(map[string]func()),
	}
}

func (f *fakeScheduler) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base.Add(f.elapsed)
}

func (f *fakeScheduler) After(d time.Duration, _ string, fn func()) interfaces.CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{at: f.elapsed + d, fn: fn}
	f.timers = append(f.timers, timer)
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if timer.fired || timer.canceled || f.lateCancel {
			return false
		}
		timer.canceled = true
		return true
	}
}

func (f *fakeScheduler) Every(_ string, name string, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[name] = fn
	return nil
}

func (f *fakeScheduler) Start() {}
func (f *fakeScheduler) Stop()  {}

// Advance moves the clock forward and runs every callback that came due
func (f *fakeScheduler) Advance(d time.Duration) {
	f.mu.Lock()
	f.elapsed += d
	var due []func()
	for _, timer := range f.timers {
		if !timer.fired && !timer.canceled && timer.at <= f.elapsed {
			timer.fired = true
			due = append(due, timer.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

type fixture struct {
	store    *memoryStore
	sched    *fakeScheduler
	registry *scheduler.TimerRegistry
	service  *Service
}

func newFixture(window time.Duration) *fixture {
	store := newMemoryStore()
	sched := newFakeScheduler()
	registry := scheduler.NewTimerRegistry()
	service := NewService(store, sched, registry, "runs", window, arbor.NewLogger()).WithClock(sched.Now)
	return &fixture{store: store, sched: sched, registry: registry, service: service}
}

func sampleArtifacts(userID int64) InitialArtifacts {
	spec := models.NewSpecification("кг")
	spec.Add("Уголок", "С255", "L50x5", models.Element{Type: "Стойка", Positions: models.Positions{"1", "2"}, Mass: models.Float(12.5)})
	spec.Add("Швеллер", "С245", "10П", models.Element{Type: "Балка", Positions: models.Positions{"3"}, Mass: models.Float(7)})

	return InitialArtifacts{
		UserID:        userID,
		DocumentName:  "КМ лист 3.pdf",
		PageNumber:    3,
		PageImage:     []byte{0x89, 'P', 'N', 'G'},
		TableHTML:     `<table border="1"><tr><td>Уголок</td><td>12,5</td></tr></table>`,
		Result:        spec,
		FindPrompt:    "find",
		ExtractPrompt: "extract",
		Strategy:      "full_prompt",
	}
}

func status(t *testing.T, f *fixture, path string) models.FeedbackStatus {
	t.Helper()
	record, err := f.service.Record(context.Background(), path)
	require.NoError(t, err)
	return record.FeedbackStatus
}

func TestWriteInitial_Layout(t *testing.T) {
	f := newFixture(5 * time.Second)

	path, ok := f.service.WriteInitial(context.Background(), sampleArtifacts(42))
	require.True(t, ok)
	assert.Equal(t, "runs/42/КМ_лист_3/20250314_093000Z", path)

	for _, name := range []string{
		"page.png",
		"table.html",
		"table.html.gz",
		"table.md",
		"result.json",
		"prompts/find_and_validate.txt",
		"prompts/extract_and_correct.txt",
		"metadata.json",
	} {
		exists, err := f.store.Exists(context.Background(), path+"/"+name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}

	gz := f.store.blobs[path+"/table.html.gz"]
	assert.Equal(t, "gzip", gz.encoding)
	zr, err := gzip.NewReader(bytes.NewReader(gz.data))
	require.NoError(t, err)
	html, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, sampleArtifacts(42).TableHTML, string(html))

	record, err := f.service.Record(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackPending, record.FeedbackStatus)
	assert.Nil(t, record.FeedbackReceivedAt)
	assert.Equal(t, int64(42), record.UserID)
	assert.Equal(t, 3, record.PageNumber)
	assert.Equal(t, 4, record.FindPromptLength)
	assert.Equal(t, 7, record.ExtractPromptLength)
	assert.Equal(t, "2025-03-14T09:30:00Z", record.Timestamp)
	assert.NotEmpty(t, record.ProcessingID)
}

func TestWriteInitial_Disabled(t *testing.T) {
	f := newFixture(5 * time.Second)
	f.store.unconfigured = true

	path, ok := f.service.WriteInitial(context.Background(), sampleArtifacts(1))
	assert.False(t, ok)
	assert.Empty(t, path)
	assert.Empty(t, f.store.blobs)

	nilStore := NewService(nil, f.sched, f.registry, "runs", time.Second, arbor.NewLogger())
	path, ok = nilStore.WriteInitial(context.Background(), sampleArtifacts(1))
	assert.False(t, ok)
	assert.Empty(t, path)
}

func TestWriteInitial_UploadFailure(t *testing.T) {
	f := newFixture(5 * time.Second)
	f.store.failPut = "table.md"

	path, ok := f.service.WriteInitial(context.Background(), sampleArtifacts(1))
	assert.False(t, ok)
	assert.Empty(t, path)

	keys, err := f.store.List(context.Background(), "")
	require.NoError(t, err)
	for _, key := range keys {
		assert.False(t, strings.HasSuffix(key, "metadata.json"), "metadata must not be written after a failed upload")
	}
}

func TestFeedbackBeforeTimeout_StaysGood(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	path, ok := f.service.WriteInitial(ctx, sampleArtifacts(7))
	require.True(t, ok)
	f.service.ScheduleTimeout(7, path, 5*time.Second)

	f.sched.Advance(1 * time.Second)
	assert.True(t, f.service.CancelPending(7))
	f.service.Finalize(ctx, path, models.FeedbackGood)

	f.sched.Advance(5 * time.Second)

	record, err := f.service.Record(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackGood, record.FeedbackStatus)
	require.NotNil(t, record.FeedbackReceivedAt)
	assert.True(t, f.sched.base.Add(time.Second).Equal(*record.FeedbackReceivedAt))
	assert.Zero(t, record.FinalizedByTask)
	assert.Equal(t, 0, f.registry.Len())
}

func TestTimeoutAfterFeedback_IsSkipped(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	path, ok := f.service.WriteInitial(ctx, sampleArtifacts(7))
	require.True(t, ok)
	f.service.ScheduleTimeout(7, path, 5*time.Second)

	// Feedback recorded while the timer is still armed
	f.sched.Advance(1 * time.Second)
	f.service.Finalize(ctx, path, models.FeedbackBad)

	f.sched.Advance(5 * time.Second)

	assert.Equal(t, models.FeedbackBad, status(t, f, path))
	assert.Equal(t, 0, f.registry.Len())
}

func TestTimeoutFinalizes(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	path, ok := f.service.WriteInitial(ctx, sampleArtifacts(7))
	require.True(t, ok)
	f.service.ScheduleTimeout(7, path, 5*time.Second)

	f.sched.Advance(4 * time.Second)
	assert.Equal(t, models.FeedbackPending, status(t, f, path))

	f.sched.Advance(1 * time.Second)
	record, err := f.service.Record(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackTimeout, record.FeedbackStatus)
	assert.NotZero(t, record.FinalizedByTask)

	note, err := f.store.Get(ctx, path+"/feedback.txt")
	require.NoError(t, err)
	assert.Contains(t, string(note), "timeout")
}

func TestReschedule_OnlyLatestRunTransitions(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	pathA, ok := f.service.WriteInitial(ctx, sampleArtifacts(9))
	require.True(t, ok)
	f.service.ScheduleTimeout(9, pathA, 5*time.Second)

	f.sched.Advance(1 * time.Second)
	pathB, ok := f.service.WriteInitial(ctx, sampleArtifacts(9))
	require.True(t, ok)
	require.NotEqual(t, pathA, pathB)
	f.service.ScheduleTimeout(9, pathB, 5*time.Second)

	f.sched.Advance(10 * time.Second)

	assert.Equal(t, models.FeedbackPending, status(t, f, pathA))
	assert.Equal(t, models.FeedbackTimeout, status(t, f, pathB))
}

func TestFinalize_AppendsAnalytics(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	first, ok := f.service.WriteInitial(ctx, sampleArtifacts(1))
	require.True(t, ok)
	f.sched.Advance(time.Second)
	second, ok := f.service.WriteInitial(ctx, sampleArtifacts(2))
	require.True(t, ok)

	f.service.Finalize(ctx, first, models.FeedbackGood)
	f.service.Finalize(ctx, second, models.FeedbackBad)

	data, err := f.store.Get(ctx, "analytics/date=2025-03-14/feedback.csv")
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, analyticsHeader, rows[0])

	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "КМ лист 3.pdf", rows[1][2])
	assert.Equal(t, "good", rows[1][3])
	assert.Equal(t, "19.5", rows[1][5])
	assert.Equal(t, "2", rows[1][6])
	assert.Equal(t, "2", rows[1][7])
	assert.Equal(t, "false", rows[1][8])

	assert.Equal(t, "2", rows[2][1])
	assert.Equal(t, "bad", rows[2][3])
}

func TestFinalize_MissingRecordIsLogged(t *testing.T) {
	f := newFixture(5 * time.Second)

	assert.NotPanics(t, func() {
		f.service.Finalize(context.Background(), "runs/1/nothing/20250101_000000Z", models.FeedbackGood)
	})
	assert.Empty(t, f.store.blobs)
}

func TestSweepOrphans(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	orphan, ok := f.service.WriteInitial(ctx, sampleArtifacts(1))
	require.True(t, ok)

	f.sched.Advance(time.Second)
	tracked, ok := f.service.WriteInitial(ctx, sampleArtifacts(2))
	require.True(t, ok)
	f.service.ScheduleTimeout(2, tracked, time.Hour)

	f.sched.Advance(2 * time.Second)
	assert.Equal(t, 0, f.service.SweepOrphans(ctx), "nothing is older than the window yet")

	f.sched.Advance(10 * time.Second)
	assert.Equal(t, 1, f.service.SweepOrphans(ctx))

	assert.Equal(t, models.FeedbackTimeout, status(t, f, orphan))
	assert.Equal(t, models.FeedbackPending, status(t, f, tracked))

	assert.Equal(t, 0, f.service.SweepOrphans(ctx))
}

func TestRegisterSweep(t *testing.T) {
	f := newFixture(5 * time.Second)
	require.NoError(t, f.service.RegisterSweep("@every 10m"))
	assert.Contains(t, f.sched.jobs, SweepJobName)
}

func analyticsRows(t *testing.T, f *fixture) [][]string {
	t.Helper()
	data, err := f.store.Get(context.Background(), AnalyticsKey(f.sched.Now()))
	if errors.Is(err, interfaces.ErrBlobNotFound) {
		return nil
	}
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows[1:]
}

func TestLateTimer_AfterRescheduleIsIgnored(t *testing.T) {
	f := newFixture(5 * time.Second)
	f.sched.lateCancel = true
	ctx := context.Background()

	pathA, ok := f.service.WriteInitial(ctx, sampleArtifacts(9))
	require.True(t, ok)
	f.service.ScheduleTimeout(9, pathA, 5*time.Second)

	f.sched.Advance(1 * time.Second)
	pathB, ok := f.service.WriteInitial(ctx, sampleArtifacts(9))
	require.True(t, ok)
	require.NotEqual(t, pathA, pathB)
	f.service.ScheduleTimeout(9, pathB, 5*time.Second)

	// A's callback still runs at t=5s
	f.sched.Advance(4 * time.Second)
	assert.Equal(t, models.FeedbackPending, status(t, f, pathA))
	assert.Equal(t, models.FeedbackPending, status(t, f, pathB))
	assert.Empty(t, analyticsRows(t, f))

	f.sched.Advance(1 * time.Second)
	assert.Equal(t, models.FeedbackPending, status(t, f, pathA))
	assert.Equal(t, models.FeedbackTimeout, status(t, f, pathB))
	assert.Len(t, analyticsRows(t, f), 1)
}

func TestLateTimer_AfterCancelIsIgnored(t *testing.T) {
	t.Run("canceled without verdict stays pending", func(t *testing.T) {
		f := newFixture(5 * time.Second)
		f.sched.lateCancel = true
		ctx := context.Background()

		path, ok := f.service.WriteInitial(ctx, sampleArtifacts(3))
		require.True(t, ok)
		f.service.ScheduleTimeout(3, path, 5*time.Second)

		f.sched.Advance(time.Second)
		assert.True(t, f.service.CancelPending(3))

		f.sched.Advance(10 * time.Second)
		assert.Equal(t, models.FeedbackPending, status(t, f, path))
		assert.Empty(t, analyticsRows(t, f))
	})

	t.Run("explicit verdict is kept", func(t *testing.T) {
		f := newFixture(5 * time.Second)
		f.sched.lateCancel = true
		ctx := context.Background()

		path, ok := f.service.WriteInitial(ctx, sampleArtifacts(3))
		require.True(t, ok)
		f.service.ScheduleTimeout(3, path, 5*time.Second)

		f.sched.Advance(time.Second)
		assert.True(t, f.service.CancelPending(3))
		f.service.Finalize(ctx, path, models.FeedbackGood)

		f.sched.Advance(10 * time.Second)
		assert.Equal(t, models.FeedbackGood, status(t, f, path))

		rows := analyticsRows(t, f)
		require.Len(t, rows, 1)
		assert.Equal(t, "good", rows[0][3])
	})
}

func TestWriteInitial_JPEGPage(t *testing.T) {
	f := newFixture(5 * time.Second)
	in := sampleArtifacts(5)
	in.PageImage = []byte{0xff, 0xd8, 0xff}
	in.PageImageType = "image/jpeg"

	path, ok := f.service.WriteInitial(context.Background(), in)
	require.True(t, ok)

	_, hasJPEG := f.store.blobs[path+"/page.jpg"]
	_, hasPNG := f.store.blobs[path+"/page.png"]
	assert.True(t, hasJPEG)
	assert.False(t, hasPNG)
}

func TestSweepOrphans_VisitsOnlyPendingRuns(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	var paths []string
	for user := int64(1); user <= 3; user++ {
		path, ok := f.service.WriteInitial(ctx, sampleArtifacts(user))
		require.True(t, ok)
		paths = append(paths, path)
		f.sched.Advance(time.Second)
	}

	pending, err := f.store.List(ctx, pendingRoot)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	f.service.Finalize(ctx, paths[0], models.FeedbackGood)
	f.service.Finalize(ctx, paths[1], models.FeedbackBad)

	pending, err = f.store.List(ctx, pendingRoot)
	require.NoError(t, err)
	assert.Equal(t, []string{PendingKey(paths[2])}, pending)

	f.sched.Advance(time.Minute)
	f.store.resetReads()
	assert.Equal(t, 1, f.service.SweepOrphans(ctx))

	assert.Zero(t, f.store.reads[paths[0]+"/metadata.json"])
	assert.Zero(t, f.store.reads[paths[1]+"/metadata.json"])
	assert.Equal(t, models.FeedbackTimeout, status(t, f, paths[2]))

	pending, err = f.store.List(ctx, pendingRoot)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepOrphans_DropsStaleMarkers(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, PendingKey("runs/1/gone/20250101_000000Z"), []byte("2025-01-01T00:00:00Z"), "text/plain"))

	f.sched.Advance(time.Minute)
	assert.Equal(t, 0, f.service.SweepOrphans(ctx))

	exists, err := f.store.Exists(ctx, PendingKey("runs/1/gone/20250101_000000Z"))
	require.NoError(t, err)
	assert.False(t, exists)
}
