package notify

import (
	"context"
	"fmt"
	"time"
)

const agentName = "stacktag"

// --- Slack ---
type Slack struct {
	WebhookURL string
}

func (s *Slack) Name() string { return "Slack" }
func (s *Slack) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"text": fmt.Sprintf("*%s*\n%s", title, message)}
	return postJSON(ctx, s.WebhookURL, payload)
}

// --- Discord ---
type Discord struct {
	WebhookURL string
}

func (d *Discord) Name() string { return "Discord" }
func (d *Discord) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"username": agentName,
		"embeds":   []map[string]any{{"title": title, "description": message, "color": 3447003, "timestamp": time.Now().Format(time.RFC3339)}},
	}
	return postJSON(ctx, d.WebhookURL, payload)
}

// --- Teams ---
type Teams struct{ WebhookURL string }

func (t *Teams) Name() string { return "Teams" }
func (t *Teams) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{"@type": "MessageCard", "@context": "http://schema.org/extensions", "themeColor": "0076D7", "summary": title, "sections": []map[string]string{{"activityTitle": title, "activityText": message}}}
	return postJSON(ctx, t.WebhookURL, payload)
}

// --- Generic Webhook ---
type Generic struct{ WebhookURL string }

func (g *Generic) Name() string { return "GenericWebhook" }
func (g *Generic) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"title": title, "message": message, "agent": agentName}
	return postJSON(ctx, g.WebhookURL, payload)
}
