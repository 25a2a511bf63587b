package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"merchantcard/domain"
)

// ExportTaskStore is the shared state store for export tasks.
//
// NOTE: The artifact itself lives on OSS (or the local FS fallback). This store only
// addresses status/progress consistency across api pods, workers and restarts.
type ExportTaskStore interface {
	Create(task *domain.ExportTask) error
	Get(id string) (*domain.ExportTask, bool, error)
	Update(id string, fn func(t *domain.ExportTask)) (*domain.ExportTask, bool, error)
}

type InMemoryExportTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.ExportTask
}

func NewInMemoryExportTaskStore() *InMemoryExportTaskStore {
	return &InMemoryExportTaskStore{tasks: make(map[string]*domain.ExportTask)}
}

func (s *InMemoryExportTaskStore) Create(task *domain.ExportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *InMemoryExportTaskStore) Get(id string) (*domain.ExportTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t == nil {
		return nil, false, nil
	}
	// Return a copy to avoid accidental mutation/data races outside the lock.
	cp := *t
	return &cp, true, nil
}

func (s *InMemoryExportTaskStore) Update(id string, fn func(t *domain.ExportTask)) (*domain.ExportTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false, nil
	}
	fn(t)
	cp := *t
	return &cp, true, nil
}

type exportTaskRecord struct {
	ID        string                  `json:"id"`
	Status    domain.ExportTaskStatus `json:"status"`
	CreatedAt time.Time               `json:"createdAt"`

	Filters domain.ExportFilters `json:"filters"`

	Progress  int `json:"progress"`
	Processed int `json:"processed"`
	Total     int `json:"total"`

	ArtifactOSSKey string `json:"artifactOssKey"`
	ArtifactPath   string `json:"artifactPath"`
	Filename       string `json:"filename"`

	Error string `json:"error,omitempty"`
}

func recordFromTask(t *domain.ExportTask) exportTaskRecord {
	if t == nil {
		return exportTaskRecord{}
	}
	return exportTaskRecord{
		ID:             t.ID,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
		Filters:        t.Filters,
		Progress:       t.Progress,
		Processed:      t.Processed,
		Total:          t.Total,
		ArtifactOSSKey: t.ArtifactOSSKey,
		ArtifactPath:   t.ArtifactPath,
		Filename:       t.Filename,
		Error:          t.Error,
	}
}

func taskFromRecord(r exportTaskRecord) *domain.ExportTask {
	return &domain.ExportTask{
		ID:             r.ID,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		Filters:        r.Filters,
		Progress:       r.Progress,
		Processed:      r.Processed,
		Total:          r.Total,
		ArtifactOSSKey: r.ArtifactOSSKey,
		ArtifactPath:   r.ArtifactPath,
		Filename:       r.Filename,
		Error:          r.Error,
	}
}

type RedisExportTaskStore struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func readRedisDB() int {
	raw := strings.TrimSpace(os.Getenv("REDIS_DB"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func readExportTaskTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("EXPORT_TASK_TTL_SECONDS"))
	if raw == "" {
		return 7 * 24 * time.Hour
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(n) * time.Second
}

func NewRedisExportTaskStore(addr, password string) (*RedisExportTaskStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("REDIS_ADDR empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(password),
		DB:       readRedisDB(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Printf("export task store: redis enabled addr=%s db=%d ttl=%s", addr, readRedisDB(), readExportTaskTTL())

	return &RedisExportTaskStore{
		rdb:       rdb,
		keyPrefix: "mc:exporttask:",
		ttl:       readExportTaskTTL(),
	}, nil
}

func (s *RedisExportTaskStore) key(id string) string {
	return s.keyPrefix + strings.TrimSpace(id)
}

func (s *RedisExportTaskStore) Create(task *domain.ExportTask) error {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return errors.New("task/id empty")
	}
	b, err := json.Marshal(recordFromTask(task))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.rdb.SetNX(ctx, s.key(task.ID), b, s.ttl).Err()
}

func (s *RedisExportTaskStore) Get(id string) (*domain.ExportTask, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := s.rdb.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec exportTaskRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, false, err
	}
	return taskFromRecord(rec), true, nil
}

func (s *RedisExportTaskStore) Update(id string, fn func(t *domain.ExportTask)) (*domain.ExportTask, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}
	if fn == nil {
		return nil, false, errors.New("update fn nil")
	}

	key := s.key(id)

	var out *domain.ExportTask
	var ok bool

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	for i := 0; i < 8; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, key).Result()
			if err == redis.Nil {
				ok = false
				out = nil
				return nil
			}
			if err != nil {
				return err
			}
			var rec exportTaskRecord
			if err := json.Unmarshal([]byte(val), &rec); err != nil {
				return err
			}
			t := taskFromRecord(rec)
			fn(t)
			out = t
			ok = true

			nb, err := json.Marshal(recordFromTask(t))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, nb, s.ttl)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return out, ok, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, false, err
	}

	return nil, false, errors.New("redis update retry exceeded")
}
