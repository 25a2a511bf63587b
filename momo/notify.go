package momo

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"merchantcard/domain"
	"merchantcard/store"
)

type notifyPayload struct {
	Reference string `json:"reference"`
	State     string `json:"state"`
	Amount    int64  `json:"amount"`
	PaidAt    string `json:"paid_at"`
}

func RegisterNotifyRoutes(mux *http.ServeMux, st store.EnrollmentStore) {
	h := &notifyHandler{store: st}
	mux.HandleFunc("/momo/notify", h.handle)
	// notify_url configured with a trailing "/" still needs to match
	mux.HandleFunc("/momo/notify/", h.handle)
}

type notifyHandler struct {
	store store.EnrollmentStore
}

func (h *notifyHandler) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Printf("momo notify: hit path=%s", r.URL.Path)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "FAIL", "message": "read body failed"})
		return
	}

	if err := verifyNotify(r.URL.Path, r.Header, body); err != nil {
		log.Printf("momo notify: signature verify failed: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "FAIL", "message": "invalid signature"})
		return
	}

	var p notifyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "FAIL", "message": "invalid json"})
		return
	}

	ref := strings.TrimSpace(p.Reference)
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "FAIL", "message": "missing reference"})
		return
	}

	if strings.ToUpper(strings.TrimSpace(p.State)) != "SUCCESSFUL" {
		// Non-success states are acknowledged to stop provider retries;
		// the payment worker re-queries pending orders on its own.
		writeJSON(w, http.StatusOK, map[string]string{"code": "SUCCESS", "message": "OK"})
		return
	}

	enrollmentID := enrollmentIDFromReference(ref)
	if rec, ok, _ := h.store.Get(enrollmentID); ok {
		if rec.AmountCFA > 0 && p.Amount != rec.AmountCFA {
			log.Printf("momo notify: amount mismatch reference=%s expected=%d got=%d", ref, rec.AmountCFA, p.Amount)
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "FAIL", "message": "amount mismatch"})
			return
		}
	}

	now := time.Now()
	_, ok, _ := h.store.Update(enrollmentID, func(rec *domain.EnrollmentRecord) {
		// idempotent: already paid means nothing to do
		if rec.Paid {
			return
		}
		rec.Paid = true
		rec.PaidAt = &now
		rec.PaymentRef = ref
	})
	if !ok {
		log.Printf("momo notify: enrollment not found reference=%s", ref)
	}

	writeJSON(w, http.StatusOK, map[string]string{"code": "SUCCESS", "message": "OK"})
}

// verifyNotify checks the X-Momo-Signature header against the raw body.
// Signature payload mirrors outbound requests, signed over the path the
// provider actually posted to (with or without the trailing slash).
func verifyNotify(path string, header http.Header, body []byte) error {
	secret := strings.TrimSpace(os.Getenv("MOMO_API_SECRET"))
	if secret == "" {
		return errMissingSecret
	}
	ts := strings.TrimSpace(header.Get("X-Momo-Timestamp"))
	nonce := strings.TrimSpace(header.Get("X-Momo-Nonce"))
	got := strings.TrimSpace(header.Get("X-Momo-Signature"))
	if ts == "" || nonce == "" || got == "" {
		return errMissingSignature
	}
	want := signRequest([]byte(secret), http.MethodPost, path, ts, nonce, body)
	if !hmac.Equal([]byte(want), []byte(got)) {
		return errBadSignature
	}
	return nil
}

// PaymentReference builds the provider reference for an enrollment.
func PaymentReference(enrollmentID string) string {
	return "mc-" + enrollmentID
}

func enrollmentIDFromReference(ref string) string {
	return strings.TrimPrefix(ref, "mc-")
}

var (
	errMissingSecret    = errors.New("missing MOMO_API_SECRET")
	errMissingSignature = errors.New("missing signature headers")
	errBadSignature     = errors.New("signature mismatch")
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
