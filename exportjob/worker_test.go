package exportjob

import (
	"context"
	"os"
	"testing"
	"time"

	"merchantcard/domain"
	"merchantcard/store"
	"merchantcard/streamq"
)

// recordingTaskStore captures the task state after every Update so tests can
// assert on the sequence of persisted states, not just the final one.
type recordingTaskStore struct {
	store.ExportTaskStore
	states []domain.ExportTask
}

func (s *recordingTaskStore) Update(id string, fn func(t *domain.ExportTask)) (*domain.ExportTask, bool, error) {
	task, ok, err := s.ExportTaskStore.Update(id, fn)
	if ok && task != nil {
		s.states = append(s.states, *task)
	}
	return task, ok, err
}

func newWorkerFixture(t *testing.T, enrolls store.EnrollmentStore) (*Worker, *recordingTaskStore, string) {
	t.Helper()
	tasks := &recordingTaskStore{ExportTaskStore: store.NewInMemoryExportTaskStore()}
	taskID := "task_test"
	err := tasks.Create(&domain.ExportTask{
		ID:        taskID,
		Status:    domain.ExportTaskStatusQueued,
		CreatedAt: time.Now(),
		Filename:  "liste_marchands.xlsx",
	})
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	return NewWorker(tasks, enrolls, t.TempDir(), nil, nil), tasks, taskID
}

func assertNoPrematureCompletion(t *testing.T, states []domain.ExportTask) {
	t.Helper()
	for _, st := range states {
		if st.Status == domain.ExportTaskStatusProcessing && st.Progress >= 100 {
			t.Fatalf("persisted processing state with progress=%d; a poll in that window reads as a silent failure", st.Progress)
		}
	}
}

func TestProcessNeverReportsFullProgressWhileProcessing(t *testing.T) {
	enrolls := store.NewInMemoryEnrollmentStore()
	for _, rec := range []*domain.EnrollmentRecord{
		{ID: "enr_1", Status: domain.EnrollmentStatusApproved, CreatedAt: time.Now(),
			Merchant: domain.Merchant{FirstName: "Awa", LastName: "Diallo", MembershipType: "standard"}},
		{ID: "enr_2", Status: domain.EnrollmentStatusPending, CreatedAt: time.Now(),
			Merchant: domain.Merchant{FirstName: "Moussa", LastName: "Traoré", MembershipType: "premium"}},
	} {
		if err := enrolls.Create(rec); err != nil {
			t.Fatalf("seed enrollment failed: %v", err)
		}
	}
	w, tasks, taskID := newWorkerFixture(t, enrolls)

	err := w.Process(context.Background(), taskID)
	if !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}

	assertNoPrematureCompletion(t, tasks.states)

	task, ok, _ := tasks.Get(taskID)
	if !ok || task.Status != domain.ExportTaskStatusComplete || task.Progress != 100 {
		t.Fatalf("final task = %+v", task)
	}
	if task.ArtifactPath == "" {
		t.Fatal("artifact path missing on completion")
	}
	if _, err := os.Stat(task.ArtifactPath); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}

func TestProcessEmptyRosterCompletesWithoutFalseFailureWindow(t *testing.T) {
	w, tasks, taskID := newWorkerFixture(t, store.NewInMemoryEnrollmentStore())

	err := w.Process(context.Background(), taskID)
	if !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}

	assertNoPrematureCompletion(t, tasks.states)

	task, ok, _ := tasks.Get(taskID)
	if !ok || task.Status != domain.ExportTaskStatusComplete || task.Progress != 100 {
		t.Fatalf("final task = %+v", task)
	}
	if task.Total != 0 {
		t.Fatalf("total = %d, want 0", task.Total)
	}
}
