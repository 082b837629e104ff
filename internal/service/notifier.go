package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers transactional email. Fire-and-forget from the caller's
// perspective: failures are logged, never retried inline.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// DevNotifier logs instead of sending, for local development and tests.
type DevNotifier struct {
	logger *slog.Logger
}

func NewDevNotifier(logger *slog.Logger) *DevNotifier {
	return &DevNotifier{logger: logger}
}

func (n *DevNotifier) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	n.logger.InfoContext(ctx, "dev notifier: email",
		"to", to, "subject", subject, "text", textBody)
	return nil
}

// HTTPNotifier posts to a SendGrid-compatible mail API.
type HTTPNotifier struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

func NewHTTPNotifier(baseURL, apiKey, from string) *HTTPNotifier {
	return &HTTPNotifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type mailRequest struct {
	Personalizations []struct {
		To []mailAddress `json:"to"`
	} `json:"personalizations"`
	From    mailAddress   `json:"from"`
	Subject string        `json:"subject"`
	Content []mailContent `json:"content"`
}

type mailAddress struct {
	Email string `json:"email"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (n *HTTPNotifier) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	req := mailRequest{
		From:    mailAddress{Email: n.from},
		Subject: subject,
		Content: []mailContent{
			{Type: "text/plain", Value: textBody},
			{Type: "text/html", Value: htmlBody},
		},
	}
	req.Personalizations = append(req.Personalizations, struct {
		To []mailAddress `json:"to"`
	}{To: []mailAddress{{Email: to}}})

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+n.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mail send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("mail send: status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
