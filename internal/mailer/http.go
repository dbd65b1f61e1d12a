package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPSender sends email through a JSON mail API that accepts {from, to, subject, text}
// with the API key in the Authorization header.
type HTTPSender struct {
	APIKey     string
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// NewHTTPSender returns a sender for the given API key, endpoint and sender address.
func NewHTTPSender(apiKey, baseURL, from string) *HTTPSender {
	return &HTTPSender{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendConfirmation posts the confirmation email. Does not log the link.
func (s *HTTPSender) SendConfirmation(ctx context.Context, c Confirmation) error {
	if s.APIKey == "" || s.BaseURL == "" {
		return fmt.Errorf("mailer: API key and base URL must be configured")
	}
	raw, err := json.Marshal(map[string]interface{}{
		"from":    s.From,
		"to":      []string{c.To},
		"subject": c.Subject(),
		"text":    c.Text(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mailer: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
