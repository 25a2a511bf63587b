// Package client is the Go client for the merchantcard REST API. The export
// poller and enrollment wizard build on it; it stays dumb on purpose: no
// retries, no normalization, raw payloads out.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"merchantcard/domain"
	"merchantcard/obs"
)

type Client struct {
	baseURL string
	hc      *http.Client
}

func New(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL empty")
	}
	return &Client{
		baseURL: baseURL,
		hc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: obs.ClientTransport(http.DefaultTransport),
		},
	}, nil
}

// APIError carries the server's {message, field} error payload plus the
// HTTP status it arrived with.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Field      string `json:"field"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api error %d: %s (field %s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// StartExport kicks off a roster export and returns the task id.
func (c *Client) StartExport(ctx context.Context, filters domain.ExportFilters) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/export/start", filters, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return "", errors.New("export start response missing task_id")
	}
	return out.TaskID, nil
}

// ExportStatus returns the raw status payload. The poller normalizes it at
// its own ingress point, so nothing is coerced here.
func (c *Client) ExportStatus(ctx context.Context, taskID string) (map[string]interface{}, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errors.New("taskID empty")
	}
	var out map[string]interface{}
	if err := c.doJSON(ctx, http.MethodGet, "/export/status/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportDownload is the inline artifact response.
type ExportDownload struct {
	FileContent string `json:"file_content"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	ErrMessage  string `json:"error"`
}

func (c *Client) DownloadExport(ctx context.Context, taskID string) (*ExportDownload, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errors.New("taskID empty")
	}
	var out ExportDownload
	if err := c.doJSON(ctx, http.MethodGet, "/export/download/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	if out.ErrMessage != "" {
		return nil, errors.New(out.ErrMessage)
	}
	if out.FileContent == "" {
		return nil, errors.New("download response missing file_content")
	}
	return &out, nil
}

// EnrollmentSubmission bundles the whole wizard draft into one request.
type EnrollmentSubmission struct {
	Merchant  domain.Merchant   `json:"merchant"`
	Documents []domain.Document `json:"documents"`
	Company   *domain.Company   `json:"company,omitempty"`
}

func (c *Client) SubmitEnrollment(ctx context.Context, sub EnrollmentSubmission) (*domain.EnrollmentRecord, error) {
	var rec domain.EnrollmentRecord
	if err := c.doJSON(ctx, http.MethodPost, "/enrollment", sub, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Activities(ctx context.Context) ([]domain.Activity, error) {
	var acts []domain.Activity
	err := c.fetchAllPages(ctx, "/activities", func(raw json.RawMessage) error {
		var a domain.Activity
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		acts = append(acts, a)
		return nil
	})
	return acts, err
}

func (c *Client) SubActivities(ctx context.Context, activityID string) ([]domain.SubActivity, error) {
	path := "/sub-activities"
	if strings.TrimSpace(activityID) != "" {
		path += "?activity=" + url.QueryEscape(activityID)
	}
	var subs []domain.SubActivity
	err := c.fetchAllPages(ctx, path, func(raw json.RawMessage) error {
		var sa domain.SubActivity
		if err := json.Unmarshal(raw, &sa); err != nil {
			return err
		}
		subs = append(subs, sa)
		return nil
	})
	return subs, err
}

func (c *Client) Addresses(ctx context.Context) ([]domain.Address, error) {
	var addrs []domain.Address
	err := c.fetchAllPages(ctx, "/addresses", func(raw json.RawMessage) error {
		var a domain.Address
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		addrs = append(addrs, a)
		return nil
	})
	return addrs, err
}

type page struct {
	Results  []json.RawMessage `json:"results"`
	Count    int               `json:"count"`
	Next     *string           `json:"next"`
	Previous *string           `json:"previous"`
}

// fetchAllPages follows the {results, count, next, previous} envelope until
// next is null.
func (c *Client) fetchAllPages(ctx context.Context, path string, each func(json.RawMessage) error) error {
	next := path
	for next != "" {
		var pg page
		if err := c.doJSON(ctx, http.MethodGet, next, nil, &pg); err != nil {
			return err
		}
		for _, raw := range pg.Results {
			if err := each(raw); err != nil {
				return err
			}
		}
		next = ""
		if pg.Next != nil && strings.TrimSpace(*pg.Next) != "" {
			next = relativize(*pg.Next)
		}
	}
	return nil
}

// relativize strips any scheme+host from a next link so it can be replayed
// against this client's base URL.
func relativize(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	out := u.Path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s %s response failed: %w", method, path, err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err == nil && apiErr.Message != "" {
		return apiErr
	}
	var alt struct {
		Err string `json:"error"`
	}
	if err := json.Unmarshal(body, &alt); err == nil && alt.Err != "" {
		apiErr.Message = alt.Err
		return apiErr
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr.Message = msg
	return apiErr
}
