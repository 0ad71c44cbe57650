package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the migration creates the expected indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_cycles_started", "idx_cycles_status", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestStartAndFinishCycle(t *testing.T) {
	s := openTestStore(t)

	started := time.Date(2025, 4, 5, 18, 30, 0, 0, time.UTC)
	if err := s.StartCycle(Cycle{ID: "c-1", Trigger: "scheduled", Reason: "input changed", Model: "gpt-4o-mini", StartedAt: started}); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}

	got, err := s.GetCycle("c-1")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Status != CycleRunning {
		t.Errorf("Status = %q, want %q", got.Status, CycleRunning)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.FinishedAt.IsZero() {
		t.Errorf("FinishedAt = %v, want zero", got.FinishedAt)
	}

	finished := started.Add(42 * time.Second)
	if err := s.FinishCycle("c-1", finished, "/out/v.md", "/out/s.txt", ""); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}
	got, err = s.GetCycle("c-1")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Status != CycleSucceeded {
		t.Errorf("Status = %q, want %q", got.Status, CycleSucceeded)
	}
	if got.VignettePath != "/out/v.md" || got.SummaryPath != "/out/s.txt" {
		t.Errorf("paths = %q, %q", got.VignettePath, got.SummaryPath)
	}
	if got.Trigger != "scheduled" || got.Reason != "input changed" || got.Model != "gpt-4o-mini" {
		t.Errorf("cycle = %+v", got)
	}
	if got.Duration() != 42*time.Second {
		t.Errorf("Duration = %v, want 42s", got.Duration())
	}
}

func TestFinishCycle_Failed(t *testing.T) {
	s := openTestStore(t)

	if err := s.StartCycle(Cycle{ID: "c-fail", Trigger: "manual"}); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}
	if err := s.FinishCycle("c-fail", time.Now(), "", "", "summary: timeout"); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}
	got, err := s.GetCycle("c-fail")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Status != CycleFailed || got.Error != "summary: timeout" {
		t.Errorf("cycle = %+v", got)
	}
}

func TestFinishCycle_NotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.FinishCycle("nope", time.Now(), "", "", ""); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetCycle("nope"); err != ErrNotFound {
		t.Errorf("GetCycle err = %v, want ErrNotFound", err)
	}
}

func TestRecentCycles(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		// Sub-second offsets exercise the fixed-width time encoding.
		c := Cycle{ID: fmt.Sprintf("c-%d", i), Trigger: "scheduled", StartedAt: base.Add(time.Duration(i) * 500 * time.Millisecond)}
		if err := s.StartCycle(c); err != nil {
			t.Fatalf("StartCycle %d: %v", i, err)
		}
	}

	got, err := s.RecentCycles(3)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"c-4", "c-3", "c-2"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestAbandonRunningCycles(t *testing.T) {
	s := openTestStore(t)

	if err := s.StartCycle(Cycle{ID: "c-stuck", Trigger: "scheduled"}); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}
	if err := s.StartCycle(Cycle{ID: "c-done", Trigger: "scheduled"}); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}
	if err := s.FinishCycle("c-done", time.Now(), "v", "s", ""); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}

	n, err := s.AbandonRunningCycles(time.Now())
	if err != nil {
		t.Fatalf("AbandonRunningCycles: %v", err)
	}
	if n != 1 {
		t.Errorf("abandoned = %d, want 1", n)
	}
	got, err := s.GetCycle("c-stuck")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Status != CycleFailed || got.Error != "abandoned" {
		t.Errorf("cycle = %+v", got)
	}
}

// TestJobsTableExists verifies the jobs table is created by migration and supports round-trip.
func TestJobsTableExists(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`INSERT INTO jobs (id, type, payload_json) VALUES ('j1', 'process_save', '{"path":"a.savegame"}')`)
	if err != nil {
		t.Fatalf("INSERT into jobs: %v", err)
	}

	var id, typ, payload, status string
	var attempts, maxAttempts int
	err = s.db.QueryRow(`SELECT id, type, payload_json, status, attempts, max_attempts FROM jobs WHERE id = 'j1'`).
		Scan(&id, &typ, &payload, &status, &attempts, &maxAttempts)
	if err != nil {
		t.Fatalf("SELECT from jobs: %v", err)
	}

	if id != "j1" {
		t.Errorf("id = %q, want %q", id, "j1")
	}
	if typ != "process_save" {
		t.Errorf("type = %q, want %q", typ, "process_save")
	}
	if payload != `{"path":"a.savegame"}` {
		t.Errorf("payload_json = %q, want %q", payload, `{"path":"a.savegame"}`)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
	if maxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", maxAttempts)
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-claim-1",
		Type:        "process_save",
		PayloadJSON: `{"path":"b.savegame"}`,
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"process_save"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.Type != "process_save" {
		t.Errorf("Type = %q, want %q", got.Type, "process_save")
	}
	if got.PayloadJSON != `{"path":"b.savegame"}` {
		t.Errorf("PayloadJSON = %q, want %q", got.PayloadJSON, `{"path":"b.savegame"}`)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"process_save"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-future",
		Type:        "process_save",
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(1 * time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"process_save"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.Type != "a" {
		t.Errorf("Type = %q, want %q", got.Type, "a")
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-first", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob first: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob first: %v", err)
	}

	if err := s.EnqueueJob(Job{ID: "j-second", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob second: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob second: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-second" {
		t.Errorf("ID = %q, want %q", got.ID, "j-second")
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-complete'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want %q", status, "completed")
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-inc", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-inc", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error FROM jobs WHERE id = 'j-fail-inc'`).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if lastError != "something broke" {
		t.Errorf("last_error = %q, want %q", lastError, "something broke")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-fail-max'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want %q", status, "failed")
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-backoff", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob("j-backoff", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var runAfterStr string
	if err := s.db.QueryRow(`SELECT run_after FROM jobs WHERE id = 'j-backoff'`).Scan(&runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	runAfter, err := parseTime(runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}
}

func TestPendingJobsAndReset(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"j-1", "j-2"} {
		if err := s.EnqueueJob(Job{ID: id, Type: "summarize_combat_log", PayloadJSON: `{}`}); err != nil {
			t.Fatalf("EnqueueJob %s: %v", id, err)
		}
	}
	if _, err := s.ClaimNextJob([]string{"summarize_combat_log"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	n, err := s.PendingJobs("summarize_combat_log")
	if err != nil {
		t.Fatalf("PendingJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("PendingJobs = %d, want 2", n)
	}

	reset, err := s.ResetRunningJobs()
	if err != nil {
		t.Fatalf("ResetRunningJobs: %v", err)
	}
	if reset != 1 {
		t.Errorf("ResetRunningJobs = %d, want 1", reset)
	}
	var running int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'running'`).Scan(&running); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if running != 0 {
		t.Errorf("running = %d, want 0", running)
	}
}

func TestGetJobAndRelease(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetJob("missing"); err != ErrNotFound {
		t.Errorf("GetJob(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-r", Type: "x", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if got, _ := s.ClaimNextJob([]string{"x"}); got != nil {
		t.Fatal("claimed a job scheduled in the future")
	}
	if err := s.ReleaseJob("j-r"); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}
	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil || got == nil {
		t.Fatalf("ClaimNextJob after release = %v, %v", got, err)
	}

	j, err := s.GetJob("j-r")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "running" || j.Type != "x" {
		t.Errorf("job = %+v", j)
	}

	jobs, err := s.ListJobs(10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j-r" {
		t.Errorf("ListJobs = %+v", jobs)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{9, 512 * time.Second},
		{10, maxRetryDelay},
		{64, maxRetryDelay},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempts); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestClaimNextJob_SkipsOtherTypesAndFutureJobs(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "later", Type: "x", RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "other", Type: "y"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j != nil {
		t.Fatalf("claimed %q, want nothing due", j.ID)
	}

	if err := s.ReleaseJob("later"); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}
	j, err = s.ClaimNextJob([]string{"x", "z"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil || j.ID != "later" {
		t.Fatalf("claimed %+v, want later", j)
	}
	if again, _ := s.ClaimNextJob([]string{"x"}); again != nil {
		t.Errorf("job claimed twice")
	}
}
