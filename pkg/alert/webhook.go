package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/symptomradar/pkg/pipeline"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Signature-256"
	// EventHeader repeats the envelope's event type for routing without parsing.
	EventHeader = "X-Symptomradar-Event"
	// DeliveryHeader carries the envelope ID so receivers can drop redeliveries.
	DeliveryHeader = "X-Symptomradar-Delivery"

	// RunEvent is the event type of a finished collection run.
	RunEvent = "symptomradar.run"
)

// RunEnvelope is the webhook body: one event wrapping a run report.
type RunEnvelope struct {
	ID      string        `json:"id"`
	Event   string        `json:"event"`
	SentAt  time.Time     `json:"sent_at"`
	Partial bool          `json:"partial"`
	Summary string        `json:"summary"`
	Run     *Notification `json:"run"`
}

// Webhook posts signed run events to a generic HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	now    func() time.Time
}

// NewWebhook creates a webhook notifier. An empty secret disables signing.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		now:    time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) envelope(n *Notification) RunEnvelope {
	return RunEnvelope{
		ID:      uuid.NewString(),
		Event:   RunEvent,
		SentAt:  w.now().UTC(),
		Partial: n.Status == string(pipeline.StatusPartial),
		Summary: n.Text(),
		Run:     n,
	}
}

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	env := w.envelope(n)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "symptomradar/1.0")
	req.Header.Set(EventHeader, env.Event)
	req.Header.Set(DeliveryHeader, env.ID)
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s for run %s: %w", env.Event, n.RunID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook rejected run %s: status %d: %s",
			n.RunID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
