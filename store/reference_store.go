package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"merchantcard/domain"
)

// ReferenceStore serves the dropdown data the wizard consumes: activities,
// sub-activities and addresses. Read-mostly; writes happen only at seed time.
type ReferenceStore interface {
	Activities() ([]domain.Activity, error)
	SubActivities(activityID string) ([]domain.SubActivity, error)
	Addresses() ([]domain.Address, error)
	Seed(acts []domain.Activity, subs []domain.SubActivity, addrs []domain.Address) error
}

type InMemoryReferenceStore struct {
	mu    sync.Mutex
	acts  []domain.Activity
	subs  []domain.SubActivity
	addrs []domain.Address
}

func NewInMemoryReferenceStore() *InMemoryReferenceStore {
	return &InMemoryReferenceStore{}
}

func (s *InMemoryReferenceStore) Seed(acts []domain.Activity, subs []domain.SubActivity, addrs []domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acts = append([]domain.Activity(nil), acts...)
	s.subs = append([]domain.SubActivity(nil), subs...)
	s.addrs = append([]domain.Address(nil), addrs...)
	return nil
}

func (s *InMemoryReferenceStore) Activities() ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Activity(nil), s.acts...), nil
}

func (s *InMemoryReferenceStore) SubActivities(activityID string) ([]domain.SubActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activityID = strings.TrimSpace(activityID)
	out := make([]domain.SubActivity, 0, len(s.subs))
	for _, sub := range s.subs {
		if activityID == "" || sub.ActivityID == activityID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *InMemoryReferenceStore) Addresses() ([]domain.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Address(nil), s.addrs...), nil
}

type RedisReferenceStore struct {
	rdb     *redis.Client
	actKey  string
	subKey  string
	addrKey string
}

func NewRedisReferenceStore(rdb *redis.Client) *RedisReferenceStore {
	return &RedisReferenceStore{
		rdb:     rdb,
		actKey:  "mc:ref:activities",
		subKey:  "mc:ref:subactivities",
		addrKey: "mc:ref:addresses",
	}
}

func (s *RedisReferenceStore) Seed(acts []domain.Activity, subs []domain.SubActivity, addrs []domain.Address) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, a := range acts {
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := s.rdb.HSet(ctx, s.actKey, a.ID, b).Err(); err != nil {
			return err
		}
	}
	for _, sub := range subs {
		b, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		if err := s.rdb.HSet(ctx, s.subKey, sub.ID, b).Err(); err != nil {
			return err
		}
	}
	for _, ad := range addrs {
		b, err := json.Marshal(ad)
		if err != nil {
			return err
		}
		if err := s.rdb.HSet(ctx, s.addrKey, ad.ID, b).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisReferenceStore) Activities() ([]domain.Activity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vals, err := s.rdb.HGetAll(ctx, s.actKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Activity, 0, len(vals))
	for _, v := range vals {
		var a domain.Activity
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisReferenceStore) SubActivities(activityID string) ([]domain.SubActivity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vals, err := s.rdb.HGetAll(ctx, s.subKey).Result()
	if err != nil {
		return nil, err
	}
	activityID = strings.TrimSpace(activityID)
	out := make([]domain.SubActivity, 0, len(vals))
	for _, v := range vals {
		var sub domain.SubActivity
		if err := json.Unmarshal([]byte(v), &sub); err != nil {
			continue
		}
		if activityID == "" || sub.ActivityID == activityID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisReferenceStore) Addresses() ([]domain.Address, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vals, err := s.rdb.HGetAll(ctx, s.addrKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(vals))
	for _, v := range vals {
		var ad domain.Address
		if err := json.Unmarshal([]byte(v), &ad); err != nil {
			continue
		}
		out = append(out, ad)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
