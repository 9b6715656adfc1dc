package maintenance

import (
	"context"
	"testing"
	"time"

	"jobplane/internal/job"
	"jobplane/internal/store"
)

// storeLifecycle drives transitions straight through the store, the way the
// job service does, so the sweeps are tested against the real guard semantics.
type storeLifecycle struct {
	store  *store.MemoryStore
	killed []string
}

func (l *storeLifecycle) Kill(ctx context.Context, id, reason string) error {
	stored, err := l.store.GetJobStatus(ctx, id)
	if err != nil {
		return err
	}
	if stored.IsFinished() {
		return nil
	}
	if _, err := l.store.UpdateJobStatus(ctx, id, stored, job.StatusKilled, reason); err != nil {
		return err
	}
	l.killed = append(l.killed, id)
	return nil
}

func (l *storeLifecycle) UpdateStatus(ctx context.Context, id string, expected, next job.Status, message string) (job.Status, error) {
	return l.store.UpdateJobStatus(ctx, id, expected, next, message)
}

func newSweeperUnderTest(t *testing.T) (*Sweeper, *store.MemoryStore, *storeLifecycle) {
	t.Helper()
	st := store.NewMemoryStore()
	lc := &storeLifecycle{store: st}
	return NewSweeper(st, lc, DefaultConfig()), st, lc
}

func createRunningJob(t *testing.T, st *store.MemoryStore, id string, timeoutSeconds int) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateJob(ctx, &job.Job{ID: id, Status: job.StatusInit}); err != nil {
		t.Fatalf("CreateJob(%s): %v", id, err)
	}
	if err := st.SaveResolvedJob(ctx, id, &job.ResolvedJob{ClusterID: "cl-1", CommandID: "cmd-1"}); err != nil {
		t.Fatalf("SaveResolvedJob(%s): %v", id, err)
	}
	if err := st.ClaimJob(ctx, id, job.AgentIdentity{Hostname: "agent-1"}); err != nil {
		t.Fatalf("ClaimJob(%s): %v", id, err)
	}
	if err := st.SetJobRunningInformation(ctx, id, 100, timeoutSeconds); err != nil {
		t.Fatalf("SetJobRunningInformation(%s): %v", id, err)
	}
}

func TestTimeoutSweepKillsOnlyExpiredJobs(t *testing.T) {
	t.Parallel()

	sweeper, st, lc := newSweeperUnderTest(t)
	createRunningJob(t, st, "expired", 60)
	createRunningJob(t, st, "healthy", 24*3600)

	killed := sweeper.sweepTimeouts(context.Background(), time.Now().Add(time.Hour))
	if killed != 1 {
		t.Fatalf("expected 1 kill, got %d", killed)
	}
	if len(lc.killed) != 1 || lc.killed[0] != "expired" {
		t.Errorf("wrong job killed: %v", lc.killed)
	}

	status, _ := st.GetJobStatus(context.Background(), "healthy")
	if status != job.StatusRunning {
		t.Errorf("healthy job should still be running, got %s", status)
	}
}

func TestTimeoutSweepIsIdempotent(t *testing.T) {
	t.Parallel()

	sweeper, st, _ := newSweeperUnderTest(t)
	createRunningJob(t, st, "expired", 60)

	now := time.Now().Add(time.Hour)
	if killed := sweeper.sweepTimeouts(context.Background(), now); killed != 1 {
		t.Fatalf("first sweep: expected 1 kill, got %d", killed)
	}
	if killed := sweeper.sweepTimeouts(context.Background(), now); killed != 0 {
		t.Errorf("second sweep: expected 0 kills, got %d", killed)
	}
}

func TestStaleSweepInvalidatesUnclaimedJobs(t *testing.T) {
	t.Parallel()

	sweeper, st, _ := newSweeperUnderTest(t)
	ctx := context.Background()
	if err := st.CreateJob(ctx, &job.Job{ID: "never-resolved", Status: job.StatusInit}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(ctx, &job.Job{ID: "never-claimed", Status: job.StatusInit}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.SaveResolvedJob(ctx, "never-claimed", &job.ResolvedJob{ClusterID: "cl-1", CommandID: "cmd-1"}); err != nil {
		t.Fatalf("SaveResolvedJob: %v", err)
	}
	createRunningJob(t, st, "claimed-in-time", 3600)

	// Nothing is stale yet.
	if n := sweeper.sweepStale(ctx, time.Now()); n != 0 {
		t.Fatalf("expected no invalidations, got %d", n)
	}

	if n := sweeper.sweepStale(ctx, time.Now().Add(2*time.Hour)); n != 2 {
		t.Fatalf("expected 2 invalidations, got %d", n)
	}
	for _, id := range []string{"never-resolved", "never-claimed"} {
		status, _ := st.GetJobStatus(ctx, id)
		if status != job.StatusInvalid {
			t.Errorf("%s: expected INVALID, got %s", id, status)
		}
	}
	status, _ := st.GetJobStatus(ctx, "claimed-in-time")
	if status != job.StatusRunning {
		t.Errorf("claimed job must be left alone, got %s", status)
	}
}

func TestRetentionSweepDeletesOldFinishedJobs(t *testing.T) {
	t.Parallel()

	sweeper, st, _ := newSweeperUnderTest(t)
	ctx := context.Background()
	createRunningJob(t, st, "done", 3600)
	if err := st.SetJobCompletionInformation(ctx, "done", job.StatusRunning, job.StatusSucceeded, "done", 0, 10, 0); err != nil {
		t.Fatalf("SetJobCompletionInformation: %v", err)
	}
	createRunningJob(t, st, "still-running", 3600)

	if n := sweeper.sweepRetention(ctx, time.Now()); n != 0 {
		t.Fatalf("recent finished job must be retained, deleted %d", n)
	}
	if n := sweeper.sweepRetention(ctx, time.Now().Add(31*24*time.Hour)); n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
	if _, err := st.GetJob(ctx, "done"); err == nil {
		t.Error("deleted job should be gone")
	}
	if _, err := st.GetJob(ctx, "still-running"); err != nil {
		t.Errorf("active job must never be deleted: %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TimeoutSchedule = "not a schedule"
	sweeper := NewSweeper(store.NewMemoryStore(), &storeLifecycle{store: store.NewMemoryStore()}, cfg)
	if err := sweeper.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
