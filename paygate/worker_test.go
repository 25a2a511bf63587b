package paygate

import (
	"context"
	"errors"
	"testing"
	"time"

	"merchantcard/domain"
	"merchantcard/momo"
	"merchantcard/store"
	"merchantcard/streamq"
)

func newTestWorker(st store.EnrollmentStore) *Worker {
	w := NewWorker(st, nil)
	w.createOrder = func(reference string, amountCFA int64) (string, error) {
		return "https://pay.test.local/collect?ref=" + reference, nil
	}
	w.closeOrder = func(reference string) error { return nil }
	w.queryOrder = func(reference string) (string, int64, error) { return "PENDING", 0, nil }
	return w
}

func seedRecord(t *testing.T, st store.EnrollmentStore, rec *domain.EnrollmentRecord) {
	t.Helper()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := st.Create(rec); err != nil {
		t.Fatalf("seed record failed: %v", err)
	}
}

func TestProcessCreatesOrderForFeeBearingEnrollment(t *testing.T) {
	t.Setenv("ENROLLMENT_FEE_CFA", "5000")
	st := store.NewInMemoryEnrollmentStore()
	seedRecord(t, st, &domain.EnrollmentRecord{ID: "enr_1", Status: domain.EnrollmentStatusPending})
	w := newTestWorker(st)

	if err := w.Process(context.Background(), "enr_1"); !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}

	rec, _, _ := st.Get("enr_1")
	if rec.PaymentRef != momo.PaymentReference("enr_1") {
		t.Fatalf("payment ref = %q", rec.PaymentRef)
	}
	if rec.AmountCFA != 5000 || rec.PayURL == "" || rec.Paid {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProcessRequeriesExistingOrderAndMarksPaid(t *testing.T) {
	t.Setenv("ENROLLMENT_FEE_CFA", "5000")
	st := store.NewInMemoryEnrollmentStore()
	seedRecord(t, st, &domain.EnrollmentRecord{
		ID:         "enr_1",
		Status:     domain.EnrollmentStatusPending,
		AmountCFA:  5000,
		PaymentRef: momo.PaymentReference("enr_1"),
		PayURL:     "https://pay.test.local/collect?ref=mc-enr_1",
	})
	w := newTestWorker(st)

	var queried string
	w.queryOrder = func(reference string) (string, int64, error) {
		queried = reference
		return "SUCCESSFUL", 5000, nil
	}
	created := false
	w.createOrder = func(reference string, amountCFA int64) (string, error) {
		created = true
		return "", errors.New("must not create a second order")
	}

	if err := w.Process(context.Background(), "enr_1"); !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}
	if queried != momo.PaymentReference("enr_1") {
		t.Fatalf("queried reference = %q", queried)
	}
	if created {
		t.Fatal("duplicate order created for an enrollment with a pending order")
	}

	rec, _, _ := st.Get("enr_1")
	if !rec.Paid || rec.PaidAt == nil || rec.PayURL != "" {
		t.Fatalf("record after successful query = %+v", rec)
	}
}

func TestProcessLeavesPendingOrderUntouched(t *testing.T) {
	t.Setenv("ENROLLMENT_FEE_CFA", "5000")
	st := store.NewInMemoryEnrollmentStore()
	seedRecord(t, st, &domain.EnrollmentRecord{
		ID:         "enr_1",
		Status:     domain.EnrollmentStatusPending,
		AmountCFA:  5000,
		PaymentRef: momo.PaymentReference("enr_1"),
		PayURL:     "https://pay.test.local/collect?ref=mc-enr_1",
	})
	w := newTestWorker(st)

	if err := w.Process(context.Background(), "enr_1"); !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}

	rec, _, _ := st.Get("enr_1")
	if rec.Paid || rec.PayURL == "" {
		t.Fatalf("pending order mutated: %+v", rec)
	}
}

func TestProcessClosesOrderOnRejectedEnrollment(t *testing.T) {
	t.Setenv("ENROLLMENT_FEE_CFA", "5000")
	st := store.NewInMemoryEnrollmentStore()
	seedRecord(t, st, &domain.EnrollmentRecord{
		ID:         "enr_1",
		Status:     domain.EnrollmentStatusRejected,
		PaymentRef: momo.PaymentReference("enr_1"),
		PayURL:     "https://pay.test.local/collect?ref=mc-enr_1",
	})
	w := newTestWorker(st)

	var closed string
	w.closeOrder = func(reference string) error {
		closed = reference
		return nil
	}

	if err := w.Process(context.Background(), "enr_1"); !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}
	if closed != momo.PaymentReference("enr_1") {
		t.Fatalf("closed reference = %q", closed)
	}
}

func TestProcessMarksFreeEnrollmentPaid(t *testing.T) {
	t.Setenv("ENROLLMENT_FEE_CFA", "0")
	st := store.NewInMemoryEnrollmentStore()
	seedRecord(t, st, &domain.EnrollmentRecord{ID: "enr_1", Status: domain.EnrollmentStatusPending})
	w := newTestWorker(st)

	if err := w.Process(context.Background(), "enr_1"); !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}

	rec, _, _ := st.Get("enr_1")
	if !rec.Paid || rec.AmountCFA != 0 || rec.PayURL != "" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProcessRecordsOrderCreationFailure(t *testing.T) {
	t.Setenv("ENROLLMENT_FEE_CFA", "5000")
	st := store.NewInMemoryEnrollmentStore()
	seedRecord(t, st, &domain.EnrollmentRecord{ID: "enr_1", Status: domain.EnrollmentStatusPending})
	w := newTestWorker(st)
	w.createOrder = func(reference string, amountCFA int64) (string, error) {
		return "", errors.New("provider down")
	}

	err := w.Process(context.Background(), "enr_1")
	if !streamq.IsTerminal(err) {
		t.Fatalf("process returned %v, want terminal", err)
	}

	rec, _, _ := st.Get("enr_1")
	if rec.Error == "" || rec.Paid {
		t.Fatalf("record = %+v", rec)
	}
}
