package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"merchantcard/domain"
)

// EnrollmentStore persists approved and pending enrollment records. Same contract
// as ExportTaskStore plus List, which the export worker and the stats endpoint use.
type EnrollmentStore interface {
	Create(rec *domain.EnrollmentRecord) error
	Get(id string) (*domain.EnrollmentRecord, bool, error)
	Update(id string, fn func(r *domain.EnrollmentRecord)) (*domain.EnrollmentRecord, bool, error)
	List() ([]*domain.EnrollmentRecord, error)
}

type InMemoryEnrollmentStore struct {
	mu   sync.Mutex
	recs map[string]*domain.EnrollmentRecord
}

func NewInMemoryEnrollmentStore() *InMemoryEnrollmentStore {
	return &InMemoryEnrollmentStore{recs: make(map[string]*domain.EnrollmentRecord)}
}

func (s *InMemoryEnrollmentStore) Create(rec *domain.EnrollmentRecord) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return errors.New("record/id empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRecord(rec)
	s.recs[rec.ID] = cp
	return nil
}

func (s *InMemoryEnrollmentStore) Get(id string) (*domain.EnrollmentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r == nil {
		return nil, false, nil
	}
	return cloneRecord(r), true, nil
}

func (s *InMemoryEnrollmentStore) Update(id string, fn func(r *domain.EnrollmentRecord)) (*domain.EnrollmentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, false, nil
	}
	fn(r)
	return cloneRecord(r), true, nil
}

func (s *InMemoryEnrollmentStore) List() ([]*domain.EnrollmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.EnrollmentRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// cloneRecord deep-copies the slices so callers can't mutate shared state.
func cloneRecord(r *domain.EnrollmentRecord) *domain.EnrollmentRecord {
	cp := *r
	cp.Documents = append([]domain.Document(nil), r.Documents...)
	cp.Merchant.ActivityIDs = append([]string(nil), r.Merchant.ActivityIDs...)
	cp.Merchant.SubActivityIDs = append([]string(nil), r.Merchant.SubActivityIDs...)
	if r.Company != nil {
		c := *r.Company
		cp.Company = &c
	}
	return &cp
}

type RedisEnrollmentStore struct {
	rdb       *redis.Client
	keyPrefix string
	indexKey  string
}

func NewRedisEnrollmentStore(rdb *redis.Client) *RedisEnrollmentStore {
	return &RedisEnrollmentStore{
		rdb:       rdb,
		keyPrefix: "mc:enrollment:",
		indexKey:  "mc:enrollments",
	}
}

func (s *RedisEnrollmentStore) key(id string) string {
	return s.keyPrefix + strings.TrimSpace(id)
}

func (s *RedisEnrollmentStore) Create(rec *domain.EnrollmentRecord) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return errors.New("record/id empty")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.SetNX(ctx, s.key(rec.ID), b, 0).Err(); err != nil {
		return err
	}
	// Index for List; score orders by creation time.
	return s.rdb.ZAdd(ctx, s.indexKey, redis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ID,
	}).Err()
}

func (s *RedisEnrollmentStore) Get(id string) (*domain.EnrollmentRecord, bool, error) {
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
	var rec domain.EnrollmentRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *RedisEnrollmentStore) Update(id string, fn func(r *domain.EnrollmentRecord)) (*domain.EnrollmentRecord, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}
	if fn == nil {
		return nil, false, errors.New("update fn nil")
	}

	key := s.key(id)

	var out *domain.EnrollmentRecord
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
			var rec domain.EnrollmentRecord
			if err := json.Unmarshal([]byte(val), &rec); err != nil {
				return err
			}
			fn(&rec)
			out = &rec
			ok = true

			nb, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, nb, redis.KeepTTL)
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

func (s *RedisEnrollmentStore) List() ([]*domain.EnrollmentRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ids, err := s.rdb.ZRange(ctx, s.indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.EnrollmentRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
