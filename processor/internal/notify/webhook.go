package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/greendelivery/coldchain/processor/internal/alerts"
)

// discordMaxContent is the Discord message length limit.
const discordMaxContent = 2000

// Webhook posts alerts to a chat or HTTP webhook.
type Webhook struct {
	kind   string // discord | slack | teams | http
	url    string
	client *http.Client
}

// NewWebhook creates a webhook target. client may be shared between targets.
func NewWebhook(kind, url string, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{kind: kind, url: url, client: client}
}

func (w *Webhook) Name() string { return w.kind }

func (w *Webhook) Send(ctx context.Context, a alerts.Alert) error {
	var payload any
	switch w.kind {
	case "discord":
		payload = map[string]string{"content": truncate(discordContent(a), discordMaxContent)}
	case "slack":
		payload = map[string]string{"text": fmt.Sprintf("%s *%s*\n%s", stateIcon(a.State), a.Title, bodyOf(a))}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": stateColor(a.State),
			"summary":    a.Title,
			"title":      fmt.Sprintf("Cold chain: %s (%s)", a.Title, a.PackageID),
			"text":       bodyOf(a),
		}
	default:
		payload = map[string]any{"alert": a}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func discordContent(a alerts.Alert) string {
	return fmt.Sprintf("%s **%s**\n%s", stateIcon(a.State), a.Title, bodyOf(a))
}

// bodyOf strips the title line that Alert.Message starts with.
func bodyOf(a alerts.Alert) string {
	if body, ok := strings.CutPrefix(a.Message, a.Title+"\n"); ok {
		return body
	}
	return a.Message
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func stateIcon(state string) string {
	if state == alerts.StateResolved {
		return "✅"
	}
	return "🚨"
}

func stateColor(state string) string {
	if state == alerts.StateResolved {
		return "2EB67D"
	}
	return "FF4F6A"
}
