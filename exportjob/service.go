package exportjob

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"merchantcard/domain"
	"merchantcard/ossstore"
	"merchantcard/store"
	"merchantcard/streamq"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Service struct {
	store store.ExportTaskStore
	queue streamq.TaskQueue
	oss   *ossstore.Store
}

func NewService(st store.ExportTaskStore, q streamq.TaskQueue, oss *ossstore.Store) *Service {
	return &Service{store: st, queue: q, oss: oss}
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/export/start", s.handleStart)
	mux.HandleFunc("/export/status/", s.handleStatus)
	mux.HandleFunc("/export/download/", s.handleDownload)
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var filters domain.ExportFilters
	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &filters); err != nil {
				http.Error(w, "invalid filters payload", http.StatusBadRequest)
				return
			}
		}
	}
	stripEmptyFilters(&filters)

	taskID := newTaskID()
	task := &domain.ExportTask{
		ID:        taskID,
		Status:    domain.ExportTaskStatusQueued,
		CreatedAt: time.Now(),
		Filters:   filters,
		Filename:  ossstore.DefaultExportFilename,
	}
	if err := s.store.Create(task); err != nil {
		http.Error(w, "failed to create export task", http.StatusInternalServerError)
		return
	}

	if s.queue != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.queue.Enqueue(ctx, taskID); err != nil {
			_, _, _ = s.store.Update(taskID, func(t *domain.ExportTask) {
				t.Status = domain.ExportTaskStatusError
				t.Error = "failed to enqueue export task: " + err.Error()
			})
			http.Error(w, "failed to enqueue export task", http.StatusBadGateway)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": taskID,
		"status":  string(task.Status),
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	taskID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/export/status/"), "/")
	if taskID == "" {
		http.Error(w, "task_id required", http.StatusBadRequest)
		return
	}
	task, ok, err := s.store.Get(taskID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	resp := map[string]interface{}{
		"task_id":   task.ID,
		"status":    string(task.Status),
		"progress":  task.Progress,
		"processed": task.Processed,
		"total":     task.Total,
	}
	if task.Status == domain.ExportTaskStatusComplete {
		resp["filename"] = task.Filename
		if task.ArtifactOSSKey != "" && s.oss != nil && s.oss.Enabled() {
			signed, err := s.oss.SignDownloadURL(task.ArtifactOSSKey, task.Filename)
			if err == nil {
				resp["download_url"] = signed
			}
		}
		if task.ArtifactPath != "" {
			resp["file_path"] = task.ArtifactPath
		}
	}
	if task.Status == domain.ExportTaskStatusError && task.Error != "" {
		resp["error"] = task.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	taskID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/export/download/"), "/")
	if taskID == "" {
		http.Error(w, "task_id required", http.StatusBadRequest)
		return
	}
	task, ok, err := s.store.Get(taskID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if task.Status != domain.ExportTaskStatusComplete {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "export not complete",
		})
		return
	}

	data, err := s.readArtifact(task)
	if err != nil {
		writeJSON(w, http.StatusGone, map[string]interface{}{
			"error": "export file missing or expired",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_content": base64.StdEncoding.EncodeToString(data),
		"content_type": xlsxContentType,
		"filename":     task.Filename,
	})
}

func (s *Service) readArtifact(task *domain.ExportTask) ([]byte, error) {
	if task.ArtifactOSSKey != "" && s.oss != nil && s.oss.Enabled() {
		rc, err := s.oss.GetObject(task.ArtifactOSSKey)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	if task.ArtifactPath != "" {
		return os.ReadFile(task.ArtifactPath)
	}
	return nil, fmt.Errorf("task %s has no artifact", task.ID)
}

// stripEmptyFilters drops blank filter fields so they never constrain the roster.
func stripEmptyFilters(f *domain.ExportFilters) {
	f.DateFrom = strings.TrimSpace(f.DateFrom)
	f.DateTo = strings.TrimSpace(f.DateTo)
	f.Active = strings.TrimSpace(f.Active)
	f.MembershipType = strings.TrimSpace(f.MembershipType)
	f.CardNumber = strings.TrimSpace(f.CardNumber)
	f.Address = strings.TrimSpace(f.Address)
	f.NationalityID = strings.TrimSpace(f.NationalityID)
}

func newTaskID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err == nil {
		return "task_" + hex.EncodeToString(buf)
	}
	return fmt.Sprintf("task_%d", time.Now().UnixNano())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readEnvIntDefault(key string, defaultVal int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

