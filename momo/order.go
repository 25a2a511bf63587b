package momo

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// CreateOrder creates a mobile-money collection order for an enrollment fee
// and returns the payment URL the merchant is redirected to.
// If MOMO_MOCK=1, returns a placeholder URL for UI testing.
func CreateOrder(reference string, amountCFA int64) (string, error) {
	if strings.TrimSpace(reference) == "" {
		return "", errors.New("payment reference empty")
	}
	if amountCFA <= 0 {
		return "", errors.New("amount must be positive (CFA)")
	}

	if strings.TrimSpace(os.Getenv("MOMO_MOCK")) == "1" {
		return fmt.Sprintf("https://pay.mock.local/collect?ref=%s", url.QueryEscape(reference)), nil
	}

	cfg, err := readConfig()
	if err != nil {
		return "", err
	}

	reqBody := map[string]interface{}{
		"reference":   reference,
		"amount":      amountCFA,
		"currency":    "XOF",
		"description": "Carte de marchand - frais d'adhesion",
		"notify_url":  cfg.NotifyURL,
	}
	bodyBytes, _ := json.Marshal(reqBody)

	var out struct {
		PaymentURL string `json:"payment_url"`
	}
	if err := signedPost(cfg, "/v1/collections", bodyBytes, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.PaymentURL) == "" {
		return "", errors.New("collection order response missing payment_url")
	}
	return out.PaymentURL, nil
}

// CloseOrder cancels a pending collection order. Used when an enrollment is
// rejected or cancelled before payment.
func CloseOrder(reference string) error {
	if strings.TrimSpace(reference) == "" {
		return errors.New("payment reference empty")
	}
	if strings.TrimSpace(os.Getenv("MOMO_MOCK")) == "1" {
		return nil
	}
	cfg, err := readConfig()
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"reference": reference})
	return signedPost(cfg, "/v1/collections/"+url.PathEscape(reference)+"/cancel", body, nil)
}

// QueryOrder returns the provider-side state of a collection order.
func QueryOrder(reference string) (state string, amountCFA int64, err error) {
	if strings.TrimSpace(reference) == "" {
		return "", 0, errors.New("payment reference empty")
	}
	if strings.TrimSpace(os.Getenv("MOMO_MOCK")) == "1" {
		return "PENDING", 0, nil
	}
	cfg, err := readConfig()
	if err != nil {
		return "", 0, err
	}
	var out struct {
		State  string `json:"state"`
		Amount int64  `json:"amount"`
	}
	if err := signedGet(cfg, "/v1/collections/"+url.PathEscape(reference), &out); err != nil {
		return "", 0, err
	}
	return strings.ToUpper(strings.TrimSpace(out.State)), out.Amount, nil
}

type config struct {
	BaseURL   string
	APIKey    string
	APISecret []byte
	NotifyURL string
}

func readConfig() (config, error) {
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("MOMO_BASE_URL")), "/")
	key := strings.TrimSpace(os.Getenv("MOMO_API_KEY"))
	secret := strings.TrimSpace(os.Getenv("MOMO_API_SECRET"))
	notify := strings.TrimSpace(os.Getenv("MOMO_NOTIFY_URL"))
	if base == "" {
		return config{}, errors.New("missing MOMO_BASE_URL")
	}
	if key == "" {
		return config{}, errors.New("missing MOMO_API_KEY")
	}
	if secret == "" {
		return config{}, errors.New("missing MOMO_API_SECRET")
	}
	if notify == "" {
		return config{}, errors.New("missing MOMO_NOTIFY_URL")
	}
	return config{BaseURL: base, APIKey: key, APISecret: []byte(secret), NotifyURL: notify}, nil
}

func signedPost(cfg config, path string, body []byte, out interface{}) error {
	return signedDo(cfg, http.MethodPost, path, body, out)
}

func signedGet(cfg config, path string, out interface{}) error {
	return signedDo(cfg, http.MethodGet, path, nil, out)
}

func signedDo(cfg config, method, path string, body []byte, out interface{}) error {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	nonce := mustNonce()
	sig := signRequest(cfg.APISecret, method, path, ts, nonce, body)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Momo-Key", cfg.APIKey)
	req.Header.Set("X-Momo-Timestamp", ts)
	req.Header.Set("X-Momo-Nonce", nonce)
	req.Header.Set("X-Momo-Signature", sig)

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("momo request failed: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("momo %s %s failed: %s", method, path, msg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

// signRequest builds the request signature:
// HMAC-SHA256(secret, method + "\n" + path + "\n" + timestamp + "\n" + nonce + "\n" + body + "\n")
func signRequest(secret []byte, method, path, timestamp, nonce string, body []byte) string {
	msg := method + "\n" + path + "\n" + timestamp + "\n" + nonce + "\n" + string(body) + "\n"
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func mustNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
