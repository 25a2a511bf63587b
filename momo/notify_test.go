package momo

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"merchantcard/domain"
	"merchantcard/store"
)

func notifyRequest(t *testing.T, secret string, payload notifyPayload) *http.Request {
	return notifyRequestAt(t, "/momo/notify", secret, payload)
}

func notifyRequestAt(t *testing.T, path, secret string, payload notifyPayload) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	ts := "1700000000"
	nonce := "abcdef0123456789"
	req.Header.Set("X-Momo-Timestamp", ts)
	req.Header.Set("X-Momo-Nonce", nonce)
	req.Header.Set("X-Momo-Signature", signRequest([]byte(secret), http.MethodPost, path, ts, nonce, body))
	return req
}

func seedPending(t *testing.T, st store.EnrollmentStore, id string, amount int64) {
	t.Helper()
	err := st.Create(&domain.EnrollmentRecord{
		ID:         id,
		Status:     domain.EnrollmentStatusPending,
		CreatedAt:  time.Now(),
		AmountCFA:  amount,
		PaymentRef: PaymentReference(id),
	})
	if err != nil {
		t.Fatalf("seed record failed: %v", err)
	}
}

func TestNotifyMarksPaidIdempotently(t *testing.T) {
	t.Setenv("MOMO_API_SECRET", "test-secret")
	st := store.NewInMemoryEnrollmentStore()
	seedPending(t, st, "enr_1", 5000)
	mux := http.NewServeMux()
	RegisterNotifyRoutes(mux, st)

	payload := notifyPayload{Reference: PaymentReference("enr_1"), State: "SUCCESSFUL", Amount: 5000}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, notifyRequest(t, "test-secret", payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rec, _, _ := st.Get("enr_1")
	if !rec.Paid || rec.PaidAt == nil {
		t.Fatalf("record not marked paid: %+v", rec)
	}
	firstPaidAt := *rec.PaidAt

	// replayed notify must not move PaidAt
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, notifyRequest(t, "test-secret", payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rr.Code)
	}
	rec, _, _ = st.Get("enr_1")
	if !rec.PaidAt.Equal(firstPaidAt) {
		t.Fatalf("PaidAt changed on replay: %v -> %v", firstPaidAt, rec.PaidAt)
	}
}

func TestNotifyVerifiesTrailingSlashPath(t *testing.T) {
	t.Setenv("MOMO_API_SECRET", "test-secret")
	st := store.NewInMemoryEnrollmentStore()
	seedPending(t, st, "enr_1", 5000)
	mux := http.NewServeMux()
	RegisterNotifyRoutes(mux, st)

	// a provider configured with a trailing slash signs the path it posts to
	payload := notifyPayload{Reference: PaymentReference("enr_1"), State: "SUCCESSFUL", Amount: 5000}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, notifyRequestAt(t, "/momo/notify/", "test-secret", payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rec, _, _ := st.Get("enr_1")
	if !rec.Paid {
		t.Fatalf("record not marked paid: %+v", rec)
	}
}

func TestNotifyRejectsBadSignature(t *testing.T) {
	t.Setenv("MOMO_API_SECRET", "test-secret")
	st := store.NewInMemoryEnrollmentStore()
	seedPending(t, st, "enr_1", 5000)
	mux := http.NewServeMux()
	RegisterNotifyRoutes(mux, st)

	payload := notifyPayload{Reference: PaymentReference("enr_1"), State: "SUCCESSFUL", Amount: 5000}
	req := notifyRequest(t, "wrong-secret", payload)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	rec, _, _ := st.Get("enr_1")
	if rec.Paid {
		t.Fatal("record marked paid despite bad signature")
	}
}

func TestNotifyRejectsAmountMismatch(t *testing.T) {
	t.Setenv("MOMO_API_SECRET", "test-secret")
	st := store.NewInMemoryEnrollmentStore()
	seedPending(t, st, "enr_1", 5000)
	mux := http.NewServeMux()
	RegisterNotifyRoutes(mux, st)

	payload := notifyPayload{Reference: PaymentReference("enr_1"), State: "SUCCESSFUL", Amount: 100}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, notifyRequest(t, "test-secret", payload))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	rec, _, _ := st.Get("enr_1")
	if rec.Paid {
		t.Fatal("record marked paid despite amount mismatch")
	}
}

func TestNotifyAcknowledgesNonSuccessStates(t *testing.T) {
	t.Setenv("MOMO_API_SECRET", "test-secret")
	st := store.NewInMemoryEnrollmentStore()
	seedPending(t, st, "enr_1", 5000)
	mux := http.NewServeMux()
	RegisterNotifyRoutes(mux, st)

	payload := notifyPayload{Reference: PaymentReference("enr_1"), State: "FAILED", Amount: 5000}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, notifyRequest(t, "test-secret", payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack", rr.Code)
	}
	rec, _, _ := st.Get("enr_1")
	if rec.Paid {
		t.Fatal("failed payment marked record paid")
	}
}
