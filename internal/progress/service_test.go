package progress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/dayquest/internal/content"
	"github.com/ashureev/dayquest/internal/domain"
	"github.com/ashureev/dayquest/internal/quest"
	"github.com/ashureev/dayquest/internal/store"
)

// fakeRepo is an in-memory Repository. WithinTx does not roll back, which
// lets tests observe partial writes.
type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.UserRecord
	entries   map[string][]domain.ProgressEntry
	appendErr error
	loadErr   error
	saves     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   make(map[string]*domain.UserRecord),
		entries: make(map[string][]domain.ProgressEntry),
	}
}

func (f *fakeRepo) CreateIfAbsent(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = domain.NewUserRecord(userID, domain.ModeNormal, time.Now())
	}
	return nil
}

func (f *fakeRepo) Load(_ context.Context, userID string) (*domain.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	rec, ok := f.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *rec
	return &copy, nil
}

func (f *fakeRepo) Save(_ context.Context, rec *domain.UserRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	copy := *rec
	f.users[rec.UserID] = &copy
	return nil
}

func (f *fakeRepo) AppendEntry(_ context.Context, userID string, day int, description string, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries[userID] = append(f.entries[userID], domain.ProgressEntry{
		ID:          int64(len(f.entries[userID]) + 1),
		UserID:      userID,
		Day:         day,
		Description: description,
		CompletedAt: completedAt,
	})
	return nil
}

func (f *fakeRepo) ListEntries(_ context.Context, userID string) ([]domain.ProgressEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.ProgressEntry(nil), f.entries[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (f *fakeRepo) PurgeEntries(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, userID)
	return nil
}

func (f *fakeRepo) WithinTx(_ context.Context, fn func(tx store.Ops) error) error { return fn(f) }
func (f *fakeRepo) Migrate(_ context.Context) (int, error)                        { return 0, nil }
func (f *fakeRepo) Ping(_ context.Context) error                                  { return nil }
func (f *fakeRepo) Close() error                                                  { return nil }

func newTestService(t *testing.T, repo store.Repository) *Service {
	t.Helper()
	table, err := content.Default()
	if err != nil {
		t.Fatalf("content.Default failed: %v", err)
	}
	engine, err := quest.NewEngine(table, table.TotalDays())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return NewService(repo, engine, nil)
}

func TestHandleCreatesUserOnFirstContact(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo)

	res, err := svc.RequestTask(ctx, "new-user")
	if err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}
	if res.Outcome.Status != quest.StatusTaskIssued || res.Outcome.Day != 1 {
		t.Errorf("unexpected outcome: %+v", res.Outcome)
	}
	if !res.Record.TaskPending {
		t.Error("expected pending task")
	}

	stored, err := repo.Load(ctx, "new-user")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !stored.TaskPending {
		t.Error("pending flag was not persisted")
	}
}

func TestHandleRejectsEmptyUser(t *testing.T) {
	svc := newTestService(t, newFakeRepo())
	if _, err := svc.RequestTask(context.Background(), ""); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("expected ErrInvalidUser, got %v", err)
	}
	if err := svc.EnsureUser(context.Background(), ""); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("expected ErrInvalidUser, got %v", err)
	}
}

func TestFullRunPersistsEntries(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo)
	user := "runner"

	for day := 1; day <= svc.TotalDays(); day++ {
		if _, err := svc.RequestTask(ctx, user); err != nil {
			t.Fatalf("day %d RequestTask failed: %v", day, err)
		}
		res, err := svc.SubmitReport(ctx, user, fmt.Sprintf("did %d", day))
		if err != nil {
			t.Fatalf("day %d SubmitReport failed: %v", day, err)
		}
		if res.Outcome.Status != quest.StatusReportAccepted || res.Record.CurrentDay != day {
			t.Fatalf("day %d: unexpected result %+v", day, res)
		}

		dup, err := svc.SubmitReport(ctx, user, "again")
		if err != nil {
			t.Fatalf("day %d duplicate SubmitReport failed: %v", day, err)
		}
		if dup.Outcome.Status != quest.StatusNoPendingTask {
			t.Fatalf("day %d: expected no_pending_task, got %s", day, dup.Outcome.Status)
		}
	}

	entries, err := svc.Progress(ctx, user)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if len(entries) != svc.TotalDays() {
		t.Fatalf("expected %d entries, got %d", svc.TotalDays(), len(entries))
	}

	res, err := svc.RequestTask(ctx, user)
	if err != nil {
		t.Fatalf("final RequestTask failed: %v", err)
	}
	if res.Outcome.Status != quest.StatusRunCompleted || !res.Record.IsFinished {
		t.Errorf("expected completed run, got %+v", res)
	}
}

func TestResetPurgesHistory(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo)

	if _, err := svc.RequestTask(ctx, "u"); err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}
	if _, err := svc.SubmitReport(ctx, "u", "first"); err != nil {
		t.Fatalf("SubmitReport failed: %v", err)
	}

	res, err := svc.Reset(ctx, "u", domain.ModeHard)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if res.Outcome.Status != quest.StatusReset || res.Record.Mode != domain.ModeHard || !res.Record.IsFresh() {
		t.Errorf("unexpected reset result: %+v", res)
	}

	entries, err := svc.Progress(ctx, "u")
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries after reset, got %d", len(entries))
	}

	issued, err := svc.RequestTask(ctx, "u")
	if err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}
	table, _ := content.Default()
	want, _ := table.Lookup(1, domain.ModeHard)
	if issued.Outcome.Content == nil || issued.Outcome.Content.Task != want.Task {
		t.Errorf("expected hard day 1 content, got %+v", issued.Outcome.Content)
	}
}

func TestResetKeepsModeWhenUnset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRepo())

	if _, err := svc.Reset(ctx, "u", domain.ModeHard); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	res, err := svc.Handle(ctx, "u", Action{Kind: RequestReset})
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if res.Record.Mode != domain.ModeHard {
		t.Errorf("expected mode to be kept, got %s", res.Record.Mode)
	}

	if _, err := svc.Handle(ctx, "u", Action{Kind: RequestReset, Mode: "easy"}); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestStatusDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo)

	if _, err := svc.RequestTask(ctx, "u"); err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}
	before, _ := repo.Load(ctx, "u")

	res, err := svc.Status(ctx, "u")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if res.Outcome.Status != quest.StatusSnapshot || res.Outcome.Content == nil {
		t.Errorf("expected snapshot with pending content, got %+v", res.Outcome)
	}

	after, _ := repo.Load(ctx, "u")
	if *before != *after {
		t.Errorf("status changed the record: %+v -> %+v", before, after)
	}
}

func TestRejectedAndRepeatedActionsDoNotWrite(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo)

	if _, err := svc.RequestTask(ctx, "u"); err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}
	if repo.saves != 1 {
		t.Fatalf("expected 1 save after issuing, got %d", repo.saves)
	}

	again, err := svc.RequestTask(ctx, "u")
	if err != nil {
		t.Fatalf("second RequestTask failed: %v", err)
	}
	if !again.Outcome.Repeated {
		t.Errorf("expected repeated task, got %+v", again.Outcome)
	}
	empty, err := svc.SubmitReport(ctx, "u", "   ")
	if err != nil {
		t.Fatalf("SubmitReport failed: %v", err)
	}
	if empty.Outcome.Status != quest.StatusEmptyReport {
		t.Errorf("expected empty_report, got %s", empty.Outcome.Status)
	}

	if repo.saves != 1 {
		t.Errorf("repeated and rejected actions wrote the record: %d saves", repo.saves)
	}
}

func TestStoreFailurePropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.loadErr = fmt.Errorf("load user: %w", store.ErrStoreUnavailable)
	svc := newTestService(t, repo)

	if _, err := svc.RequestTask(context.Background(), "u"); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

// A failed append after the record was saved leaves a gap. The next
// interaction trusts the record and neither crashes nor duplicates.
func TestAppendFailureLeavesRecoverableGap(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo)

	if _, err := svc.RequestTask(ctx, "u"); err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}

	repo.appendErr = fmt.Errorf("append entry: %w", store.ErrStoreUnavailable)
	if _, err := svc.SubmitReport(ctx, "u", "lost report"); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	repo.appendErr = nil

	rec, _ := repo.Load(ctx, "u")
	if rec.CurrentDay != 1 || rec.TaskPending {
		t.Fatalf("expected saved record on day 1, got %+v", rec)
	}

	retry, err := svc.SubmitReport(ctx, "u", "lost report")
	if err != nil {
		t.Fatalf("retry SubmitReport failed: %v", err)
	}
	if retry.Outcome.Status != quest.StatusNoPendingTask {
		t.Errorf("expected no_pending_task on retry, got %s", retry.Outcome.Status)
	}

	next, err := svc.RequestTask(ctx, "u")
	if err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}
	if next.Outcome.Day != 2 {
		t.Errorf("expected day 2 task, got %d", next.Outcome.Day)
	}

	entries, _ := svc.Progress(ctx, "u")
	if len(entries) != 0 {
		t.Errorf("expected the gap to remain, got %d entries", len(entries))
	}
}

func TestConcurrentReportsCreateOneEntry(t *testing.T) {
	ctx := context.Background()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if _, err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	svc := newTestService(t, repo)

	if _, err := svc.RequestTask(ctx, "tapper"); err != nil {
		t.Fatalf("RequestTask failed: %v", err)
	}

	const n = 25
	var wg sync.WaitGroup
	statuses := make(chan quest.Status, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.SubmitReport(ctx, "tapper", fmt.Sprintf("tap %d", i))
			if err != nil {
				t.Errorf("SubmitReport failed: %v", err)
				return
			}
			statuses <- res.Outcome.Status
		}(i)
	}
	wg.Wait()
	close(statuses)

	accepted := 0
	for s := range statuses {
		if s == quest.StatusReportAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("expected exactly one accepted report, got %d", accepted)
	}

	entries, err := svc.Progress(ctx, "tapper")
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Day != 1 {
		t.Errorf("expected one entry for day 1, got %+v", entries)
	}
}
