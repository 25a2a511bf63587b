package enroll

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"merchantcard/domain"
	"merchantcard/store"
	"merchantcard/streamq"
)

type Service struct {
	store store.EnrollmentStore
	refs  store.ReferenceStore
	payq  streamq.TaskQueue
}

func NewService(st store.EnrollmentStore, refs store.ReferenceStore, payq streamq.TaskQueue) *Service {
	return &Service{store: st, refs: refs, payq: payq}
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/enrollment", s.handleEnrollmentCollection)
	mux.HandleFunc("/enrollment/", s.handleEnrollmentRoutes)
	mux.HandleFunc("/activities", s.handleActivities)
	mux.HandleFunc("/sub-activities", s.handleSubActivities)
	mux.HandleFunc("/addresses", s.handleAddresses)
	mux.HandleFunc("/stats/summary", s.handleStatsSummary)
}

type submitPayload struct {
	Merchant  domain.Merchant   `json:"merchant"`
	Documents []domain.Document `json:"documents"`
	Company   *domain.Company   `json:"company,omitempty"`
}

func (s *Service) handleEnrollmentCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		writeFieldError(w, http.StatusRequestEntityTooLarge, fieldErr("", "request body too large"))
		return
	}
	var p submitPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeFieldError(w, http.StatusBadRequest, fieldErr("", "invalid json payload"))
		return
	}

	// Validate everything up front: a failed submission must not leave a
	// partial record behind.
	if ferr := ValidateSubmission(&p.Merchant, p.Documents, p.Company); ferr != nil {
		writeFieldError(w, http.StatusBadRequest, ferr)
		return
	}

	rec := &domain.EnrollmentRecord{
		ID:        newEnrollmentID(),
		Status:    domain.EnrollmentStatusPending,
		CreatedAt: time.Now(),
		Merchant:  p.Merchant,
		Documents: p.Documents,
		Company:   p.Company,
	}
	if err := s.store.Create(rec); err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "failed to store enrollment"))
		return
	}

	// Hand off to the payment gate. Best-effort: the record exists either way
	// and the gate re-processes on the next enqueue.
	if s.payq != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		_ = s.payq.Enqueue(ctx, rec.ID)
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List()
	if err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "server error"))
		return
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filtered := recs[:0]
		for _, rec := range recs {
			if strings.EqualFold(string(rec.Status), status) {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })

	items := make([]interface{}, len(recs))
	for i, rec := range recs {
		items[i] = rec
	}
	writePage(w, r, items)
}

func (s *Service) handleEnrollmentRoutes(w http.ResponseWriter, r *http.Request) {
	// /enrollment/{id}
	// /enrollment/{id}/approve
	// /enrollment/{id}/reject
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/enrollment/"), "/")
	if path == "" {
		http.Error(w, "enrollment id required", http.StatusBadRequest)
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	if len(parts) == 1 {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleGet(w, r, id)
		return
	}

	if len(parts) == 2 && (parts[1] == "approve" || parts[1] == "reject") {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleReview(w, r, id, parts[1])
		return
	}

	http.NotFound(w, r)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok, err := s.store.Get(id)
	if err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "server error"))
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type reviewPayload struct {
	ReviewedBy string `json:"reviewed_by"`
	Reason     string `json:"reason"`
}

func (s *Service) handleReview(w http.ResponseWriter, r *http.Request, id, action string) {
	var p reviewPayload
	if r.Body != nil {
		body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &p); err != nil {
				writeFieldError(w, http.StatusBadRequest, fieldErr("", "invalid json payload"))
				return
			}
		}
	}
	if action == "reject" && strings.TrimSpace(p.Reason) == "" {
		writeFieldError(w, http.StatusBadRequest, fieldErr("reason", "rejection reason is required"))
		return
	}

	target := domain.EnrollmentStatusApproved
	if action == "reject" {
		target = domain.EnrollmentStatusRejected
	}

	now := time.Now()
	rec, ok, err := s.store.Update(id, func(rec *domain.EnrollmentRecord) {
		// idempotent: re-reviewing with the same outcome is a no-op
		if rec.Status == target {
			return
		}
		rec.Status = target
		rec.ReviewedAt = &now
		rec.ReviewedBy = strings.TrimSpace(p.ReviewedBy)
		if target == domain.EnrollmentStatusRejected {
			rec.RejectReason = strings.TrimSpace(p.Reason)
		} else {
			rec.RejectReason = ""
			if rec.Merchant.CardNumber == "" {
				rec.Merchant.CardNumber = newCardNumber()
			}
		}
	})
	if err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "server error"))
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleActivities(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	acts, err := s.refs.Activities()
	if err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "server error"))
		return
	}
	items := make([]interface{}, len(acts))
	for i, a := range acts {
		items[i] = a
	}
	writePage(w, r, items)
}

func (s *Service) handleSubActivities(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	activityID := strings.TrimSpace(r.URL.Query().Get("activity"))
	subs, err := s.refs.SubActivities(activityID)
	if err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "server error"))
		return
	}
	items := make([]interface{}, len(subs))
	for i, sa := range subs {
		items[i] = sa
	}
	writePage(w, r, items)
}

func (s *Service) handleAddresses(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	addrs, err := s.refs.Addresses()
	if err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "server error"))
		return
	}
	items := make([]interface{}, len(addrs))
	for i, a := range addrs {
		items[i] = a
	}
	writePage(w, r, items)
}

func (s *Service) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	recs, err := s.store.List()
	if err != nil {
		writeFieldError(w, http.StatusInternalServerError, fieldErr("", "server error"))
		return
	}
	var pending, approved, rejected, paid int
	byMembership := map[string]int{}
	for _, rec := range recs {
		switch rec.Status {
		case domain.EnrollmentStatusPending:
			pending++
		case domain.EnrollmentStatusApproved:
			approved++
		case domain.EnrollmentStatusRejected:
			rejected++
		}
		if rec.Paid {
			paid++
		}
		if mt := strings.TrimSpace(rec.Merchant.MembershipType); mt != "" {
			byMembership[mt]++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":              len(recs),
		"pending":            pending,
		"approved":           approved,
		"rejected":           rejected,
		"paid":               paid,
		"by_membership_type": byMembership,
	})
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// writePage renders the list envelope {results, count, next, previous}
// driven by ?page= and ?page_size= query parameters.
func writePage(w http.ResponseWriter, r *http.Request, items []interface{}) {
	page := queryIntDefault(r, "page", 1)
	pageSize := queryIntDefault(r, "page_size", 20)
	if pageSize > 100 {
		pageSize = 100
	}

	count := len(items)
	startIdx := (page - 1) * pageSize
	endIdx := startIdx + pageSize
	if startIdx > count {
		startIdx = count
	}
	if endIdx > count {
		endIdx = count
	}
	results := items[startIdx:endIdx]
	if results == nil {
		results = []interface{}{}
	}

	var next, previous interface{}
	if endIdx < count {
		next = pageURL(r, page+1, pageSize)
	}
	if page > 1 {
		previous = pageURL(r, page-1, pageSize)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"count":    count,
		"next":     next,
		"previous": previous,
	})
}

func pageURL(r *http.Request, page, pageSize int) string {
	u := *r.URL
	q := url.Values{}
	for k, vs := range u.Query() {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

func queryIntDefault(r *http.Request, key string, defaultVal int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func newEnrollmentID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err == nil {
		return "enr_" + hex.EncodeToString(buf)
	}
	return fmt.Sprintf("enr_%d", time.Now().UnixNano())
}

// newCardNumber issues a merchant card number on approval.
func newCardNumber() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err == nil {
		return "MC-" + strings.ToUpper(hex.EncodeToString(buf))
	}
	return fmt.Sprintf("MC-%d", time.Now().Unix())
}

func writeFieldError(w http.ResponseWriter, status int, ferr *FieldError) {
	writeJSON(w, status, ferr)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
