package paygate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"merchantcard/domain"
	"merchantcard/momo"
	"merchantcard/redislock"
	"merchantcard/store"
	"merchantcard/streamq"
)

// Worker drives the membership-fee gate for submitted enrollments: free
// enrollments are marked paid immediately, fee-bearing ones get a mobile-money
// collection order whose notify callback flips Paid.
type Worker struct {
	store    store.EnrollmentStore
	lock     *redislock.Client
	lockTTL  time.Duration
	lockKick time.Duration

	// provider calls, swappable in tests
	createOrder func(reference string, amountCFA int64) (string, error)
	closeOrder  func(reference string) error
	queryOrder  func(reference string) (state string, amountCFA int64, err error)
}

func NewWorker(st store.EnrollmentStore, lock *redislock.Client) *Worker {
	lockTTL := readEnvDurationSecondsDefault("PAYGATE_LOCK_TTL_SECONDS", 15*time.Minute)
	lockKick := readEnvDurationSecondsDefault("PAYGATE_LOCK_REFRESH_SECONDS", 10*time.Second)
	if lockKick <= 0 {
		lockKick = 10 * time.Second
	}
	return &Worker{
		store:       st,
		lock:        lock,
		lockTTL:     lockTTL,
		lockKick:    lockKick,
		createOrder: momo.CreateOrder,
		closeOrder:  momo.CloseOrder,
		queryOrder:  momo.QueryOrder,
	}
}

func (w *Worker) Process(ctx context.Context, enrollmentID string) error {
	if w == nil || w.store == nil {
		return errors.New("paygate worker/store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	enrollmentID = strings.TrimSpace(enrollmentID)
	if enrollmentID == "" {
		return streamq.Terminal(errors.New("enrollmentID empty"))
	}

	// Distributed lock: prevent duplicate payment-gate processing across replicas.
	if w.lock != nil {
		token, err := redislock.Token()
		if err != nil {
			return err
		}
		lockKey := w.lock.Key("paygate:" + enrollmentID)
		ok, err := w.lock.Acquire(ctx, lockKey, token, w.lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return streamq.Terminal(fmt.Errorf("paygate locked: %s", lockKey))
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
					_, _ = w.lock.Refresh(context.Background(), lockKey, token, w.lockTTL)
				}
			}
		}()
	}

	rec, ok, err := w.store.Get(enrollmentID)
	if err != nil {
		return err
	}
	if !ok || rec == nil {
		return streamq.Terminal(nil)
	}
	if rec.Status == domain.EnrollmentStatusRejected {
		// Close any pending order so the provider stops holding the reference.
		if rec.PaymentRef != "" && !rec.Paid {
			_ = w.closeOrder(rec.PaymentRef)
		}
		return streamq.Terminal(nil)
	}
	if rec.Paid {
		_, _, _ = w.store.Update(enrollmentID, func(r *domain.EnrollmentRecord) {
			r.PayURL = ""
		})
		return streamq.Terminal(nil)
	}

	fee := FeeCFA()
	if fee <= 0 {
		now := time.Now()
		_, _, _ = w.store.Update(enrollmentID, func(r *domain.EnrollmentRecord) {
			if !r.Paid {
				r.Paid = true
				r.PaidAt = &now
			}
			r.AmountCFA = 0
			r.PayURL = ""
		})
		return streamq.Terminal(nil)
	}

	// An order already exists; re-query the provider instead of creating a
	// second one, in case the notify callback was lost.
	if strings.TrimSpace(rec.PayURL) != "" {
		state, amount, err := w.queryOrder(rec.PaymentRef)
		if err != nil {
			// provider unreachable; the notify callback or the next enqueue
			// settles it
			return streamq.Terminal(nil)
		}
		if state == "SUCCESSFUL" {
			now := time.Now()
			_, _, _ = w.store.Update(enrollmentID, func(r *domain.EnrollmentRecord) {
				if r.Paid {
					return
				}
				r.Paid = true
				r.PaidAt = &now
				if amount > 0 {
					r.AmountCFA = amount
				}
				r.PayURL = ""
			})
		}
		return streamq.Terminal(nil)
	}

	ref := momo.PaymentReference(enrollmentID)
	payURL, err := w.createOrder(ref, fee)
	if err != nil {
		// Business failure: record and ACK (no auto retry).
		return streamq.Terminal(w.fail(enrollmentID, fmt.Errorf("momo order creation failed: %w", err)))
	}
	_, _, _ = w.store.Update(enrollmentID, func(r *domain.EnrollmentRecord) {
		if r.Paid {
			return
		}
		r.AmountCFA = fee
		r.PaymentRef = ref
		r.PayURL = payURL
		r.Error = ""
	})
	return streamq.Terminal(nil)
}

func (w *Worker) fail(enrollmentID string, err error) error {
	if strings.TrimSpace(enrollmentID) == "" {
		return err
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_, _, _ = w.store.Update(enrollmentID, func(r *domain.EnrollmentRecord) {
		r.Error = msg
	})
	return err
}
