package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/symptomradar/pkg/trend"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

// embedColor follows the top row's trend.
func embedColor(rows []trend.Row) int {
	if len(rows) == 0 {
		return 0x95A5A6
	}
	switch rows[0].Trend {
	case trend.Rising:
		return 0xE74C3C
	case trend.Flat:
		return 0xF1C40F
	default:
		return 0x2ECC71
	}
}

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	embed := map[string]any{
		"title":       "🤧 " + n.Title(),
		"description": fmt.Sprintf("%s\n\n**Valid posts:** %d", strings.Join(n.Lines(), "\n"), n.TotalValid),
		"color":       embedColor(n.Rows),
		"timestamp":   n.StartedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}
	return nil
}
