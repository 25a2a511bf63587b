package exportjob

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"merchantcard/domain"
	"merchantcard/exportxlsx"
	"merchantcard/ossstore"
	"merchantcard/redislock"
	"merchantcard/store"
	"merchantcard/streamq"
)

type Worker struct {
	tasks    store.ExportTaskStore
	enrolls  store.EnrollmentStore
	tmpRoot  string
	oss      *ossstore.Store
	lock     *redislock.Client
	lockTTL  time.Duration
	lockKick time.Duration
	inflight chan struct{}
}

func NewWorker(tasks store.ExportTaskStore, enrolls store.EnrollmentStore, tmpRoot string, oss *ossstore.Store, lock *redislock.Client) *Worker {
	maxInflight := readEnvIntDefault("EXPORT_MAX_INFLIGHT", 4)
	if maxInflight <= 0 {
		maxInflight = 1
	}
	lockTTL := readEnvDurationSecondsDefault("EXPORT_TASK_LOCK_TTL_SECONDS", 30*time.Minute)
	lockKick := readEnvDurationSecondsDefault("EXPORT_TASK_LOCK_REFRESH_SECONDS", 30*time.Second)
	if lockKick <= 0 {
		lockKick = 30 * time.Second
	}
	return &Worker{
		tasks:    tasks,
		enrolls:  enrolls,
		tmpRoot:  tmpRoot,
		oss:      oss,
		lock:     lock,
		lockTTL:  lockTTL,
		lockKick: lockKick,
		inflight: make(chan struct{}, maxInflight),
	}
}

func (w *Worker) acquireInflight() {
	if w == nil || w.inflight == nil {
		return
	}
	w.inflight <- struct{}{}
}

func (w *Worker) releaseInflight() {
	if w == nil || w.inflight == nil {
		return
	}
	select {
	case <-w.inflight:
	default:
	}
}

func (w *Worker) Process(ctx context.Context, taskID string) error {
	w.acquireInflight()
	defer w.releaseInflight()

	if w == nil || w.tasks == nil || w.enrolls == nil {
		return errors.New("worker stores not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Distributed lock: prevent duplicate processing across worker replicas.
	if w.lock != nil {
		token, err := redislock.Token()
		if err != nil {
			return err
		}
		lockKey := w.lock.Key(taskID)
		ok, err := w.lock.Acquire(ctx, lockKey, token, w.lockTTL)
		if err != nil {
			// transient: keep pending
			return err
		}
		if !ok {
			// Likely a duplicate enqueue; ACK and move on.
			return streamq.Terminal(fmt.Errorf("task locked: %s", lockKey))
		}
		defer func() {
			_, _ = w.lock.Release(context.Background(), lockKey, token)
		}()

		stopKick := make(chan struct{})
		defer close(stopKick)
		go func() {
			t := time.NewTicker(w.lockKick)
			defer t.Stop()
			for {
				select {
				case <-stopKick:
					return
				case <-ctx.Done():
					return
				case <-t.C:
					_, err := w.lock.Refresh(context.Background(), lockKey, token, w.lockTTL)
					if err != nil {
						log.Printf("lock refresh failed task=%s: %v", taskID, err)
					}
				}
			}
		}()
	}

	task, ok, err := w.tasks.Get(taskID)
	if err != nil || !ok {
		return err
	}
	if task.Status.Terminal() {
		return streamq.Terminal(nil)
	}

	_, _, _ = w.tasks.Update(taskID, func(t *domain.ExportTask) {
		t.Status = domain.ExportTaskStatusProcessing
		t.Error = ""
	})

	recs, err := w.enrolls.List()
	if err != nil {
		// transient store error: keep pending for retry
		return err
	}

	taskDir := filepath.Join(w.tmpRoot, "export_tasks", taskID)
	outPath := filepath.Join(taskDir, task.Filename)
	progressEvery := readEnvIntDefault("EXPORT_PROGRESS_EVERY", 50)
	genErr := exportxlsx.GenerateRosterXLSX(recs, task.Filters, outPath, progressEvery, func(processed, total int) {
		// Progress 100 is reserved for the completion update: a task that
		// reports 100 while still processing and without an artifact reference
		// reads as a failed export to the polling client.
		progress := 0
		if total > 0 {
			progress = processed * 100 / total
		}
		if progress > 99 {
			progress = 99
		}
		_, _, _ = w.tasks.Update(taskID, func(t *domain.ExportTask) {
			t.Processed = processed
			t.Total = total
			t.Progress = progress
		})
	})
	if genErr != nil {
		return streamq.Terminal(w.fail(taskID, genErr))
	}

	artifactOSSKey := ""
	artifactPath := outPath
	if w.oss != nil && w.oss.Enabled() {
		artifactOSSKey = w.oss.ObjectKeyForExport(taskID)
		if err := w.oss.PutExportFile(artifactOSSKey, outPath); err != nil {
			return streamq.Terminal(w.fail(taskID, fmt.Errorf("OSS upload failed: %w", err)))
		}
		_ = os.Remove(outPath)
		_ = os.RemoveAll(taskDir)
		artifactPath = ""
	}

	_, _, _ = w.tasks.Update(taskID, func(t *domain.ExportTask) {
		t.Status = domain.ExportTaskStatusComplete
		t.Progress = 100
		t.ArtifactOSSKey = artifactOSSKey
		t.ArtifactPath = artifactPath
	})
	return streamq.Terminal(nil)
}

func (w *Worker) fail(taskID string, err error) error {
	if strings.TrimSpace(taskID) == "" {
		return err
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_, _, _ = w.tasks.Update(taskID, func(t *domain.ExportTask) {
		t.Status = domain.ExportTaskStatusError
		t.Error = msg
	})
	return err
}

func readEnvDurationSecondsDefault(key string, defaultVal time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return time.Duration(n) * time.Second
}
