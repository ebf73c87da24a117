package notify

import (
	"fmt"
	"strings"
	"time"
)

const (
	LevelAll     = "all"
	LevelFailure = "failure"
	LevelNone    = "none"
)

// ShouldNotify applies a notification level to a run outcome. Unknown levels
// behave like "failure".
func ShouldNotify(level string, failed bool) bool {
	switch level {
	case LevelAll:
		return true
	case LevelNone:
		return false
	default:
		return failed
	}
}

// Report summarises one tagging or smoke run.
type Report struct {
	Action   string // "tag" or "smoke"
	Image    string
	Items    []string
	Err      error
	Duration time.Duration
}

func (r Report) Failed() bool { return r.Err != nil }

func (r Report) Title() string {
	status := "succeeded"
	if r.Failed() {
		status = "failed"
	}
	return fmt.Sprintf("%s %s %s", r.Action, r.Image, status)
}

func (r Report) Message() string {
	var b strings.Builder
	if r.Failed() {
		fmt.Fprintf(&b, "error: %v\n", r.Err)
	}
	for _, it := range r.Items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	fmt.Fprintf(&b, "took %s", r.Duration.Round(time.Millisecond))
	return b.String()
}

// Endpoints lists the webhook URLs to build services from. Empty ones are skipped.
type Endpoints struct {
	Slack, Discord, Teams, Generic string
}

// FromEndpoints builds a notifier with one service per configured webhook.
func FromEndpoints(e Endpoints) *MultiNotifier {
	m := NewMultiNotifier()
	if e.Slack != "" {
		m.Add(&Slack{WebhookURL: e.Slack})
	}
	if e.Discord != "" {
		m.Add(&Discord{WebhookURL: e.Discord})
	}
	if e.Teams != "" {
		m.Add(&Teams{WebhookURL: e.Teams})
	}
	if e.Generic != "" {
		m.Add(&Generic{WebhookURL: e.Generic})
	}
	return m
}
