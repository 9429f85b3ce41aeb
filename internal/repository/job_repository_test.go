package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *JobRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:repo_test?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := InitDB(db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM jobs")
	})
	return NewJobRepository(db)
}

func seedJob(t *testing.T, r *JobRepository, id, state string) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:          id,
		URL:         "https://www.tiktok.com/@u/video/" + id,
		State:       state,
		Priority:    5,
		MaxAttempts: 3,
	}
	if err := r.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestFindByIDNotFound(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.FindByID("missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("FindByID = %v, want ErrNotFound", err)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	r := newTestRepo(t)
	seedJob(t, r, "j1", model.JobStateActive)

	for _, p := range []int{10, 30, 20, 50} {
		if err := r.UpdateProgress("j1", p); err != nil {
			t.Fatalf("UpdateProgress(%d): %v", p, err)
		}
	}

	job, err := r.FindByID("j1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Progress != 50 {
		t.Errorf("Progress = %d, want 50 (lower writes ignored)", job.Progress)
	}
}

func TestMarkCompletedSetsResultFields(t *testing.T) {
	r := newTestRepo(t)
	seedJob(t, r, "j2", model.JobStateActive)

	if err := r.MarkCompleted("j2", "tiktok", "My Clip", "clip.mp4", 1024); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	job, _ := r.FindByID("j2")
	if job.State != model.JobStateCompleted {
		t.Errorf("State = %q", job.State)
	}
	if job.Progress != 100 {
		t.Errorf("Progress = %d, want 100", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if !job.IsTerminal() {
		t.Error("completed job should be terminal")
	}
}

func TestMarkCancelledOnlyNonTerminal(t *testing.T) {
	r := newTestRepo(t)
	seedJob(t, r, "q1", model.JobStateQueued)
	seedJob(t, r, "d1", model.JobStateCompleted)

	changed, err := r.MarkCancelled("q1")
	if err != nil || !changed {
		t.Errorf("MarkCancelled(queued) = (%v, %v), want (true, nil)", changed, err)
	}
	changed, err = r.MarkCancelled("d1")
	if err != nil || changed {
		t.Errorf("MarkCancelled(completed) = (%v, %v), want (false, nil)", changed, err)
	}

	cancelled, err := r.IsCancelled("q1")
	if err != nil || !cancelled {
		t.Errorf("IsCancelled(q1) = (%v, %v)", cancelled, err)
	}
}

func TestMarkFailedTruncatesReason(t *testing.T) {
	r := newTestRepo(t)
	seedJob(t, r, "f1", model.JobStateActive)

	long := ""
	for i := 0; i < 200; i++ {
		long += "0123456789"
	}
	if err := r.MarkFailed("f1", fmt.Errorf("%s", long)); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	job, _ := r.FindByID("f1")
	if len(job.FailedReason) > 1024 {
		t.Errorf("FailedReason length = %d, want <= 1024", len(job.FailedReason))
	}
	if job.State != model.JobStateFailed {
		t.Errorf("State = %q", job.State)
	}
}

func TestStats(t *testing.T) {
	r := newTestRepo(t)
	seedJob(t, r, "s1", model.JobStateQueued)
	seedJob(t, r, "s2", model.JobStateQueued)
	seedJob(t, r, "s3", model.JobStateActive)
	seedJob(t, r, "s4", model.JobStateCompleted)
	seedJob(t, r, "s5", model.JobStateFailed)
	seedJob(t, r, "s6", model.JobStateDelayed)

	stats, err := r.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Waiting != 2 || stats.Active != 1 || stats.Completed != 1 || stats.Failed != 1 || stats.Delayed != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestFindStalled(t *testing.T) {
	r := newTestRepo(t)
	stale := seedJob(t, r, "st1", model.JobStateActive)
	seedJob(t, r, "st2", model.JobStateActive)
	seedJob(t, r, "st3", model.JobStateQueued)

	// 把 st1 的更新时间推回租约之外
	old := time.Now().Add(-20 * time.Minute)
	if err := r.db.Model(stale).Update("updated_at", old).Error; err != nil {
		t.Fatal(err)
	}

	jobs, err := r.FindStalled(10 * time.Minute)
	if err != nil {
		t.Fatalf("FindStalled: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "st1" {
		t.Errorf("FindStalled = %v, want only st1", jobs)
	}
}

func TestDeleteOldJobs(t *testing.T) {
	r := newTestRepo(t)
	old := seedJob(t, r, "o1", model.JobStateCompleted)
	seedJob(t, r, "o2", model.JobStateActive)

	past := time.Now().AddDate(0, 0, -10)
	if err := r.db.Model(old).Update("updated_at", past).Error; err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteOldJobs(7); err != nil {
		t.Fatalf("DeleteOldJobs: %v", err)
	}
	if _, err := r.FindByID("o1"); !errors.Is(err, errs.ErrNotFound) {
		t.Error("old terminal job should be deleted")
	}
	if _, err := r.FindByID("o2"); err != nil {
		t.Error("active job must survive retention cleanup")
	}
}
