// Package alert sends operator-facing notifications on conditions that
// need a human, not a retry: stuck credentials, a channel terminating
// with an auth disposition. Grounded on listmonk's
// `Manager.sendNotif`/`tenantInstanceManager.sendTenantNotif`
// (`internal/manager/manager.go`, `internal/manager/tenant_instance.go`)
// which format a subject/reason pair and hand it to an injected
// `fnNotify` callback; generalized here from "e-mail the admin list" to
// "post to an operator Slack channel" since this module has no mail
// transport of its own to reuse for operator alerts.
package alert

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Notifier delivers one operator alert. Delivery is synchronous:
// SlackNotifier blocks the caller for the duration of the webhook POST.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Alert describes one condition worth a human's attention.
type Alert struct {
	CompanyID int64
	Channel   string
	Reason    string
}

func (a Alert) subject() string {
	return fmt.Sprintf("[company %d] %s channel needs attention", a.CompanyID, a.Channel)
}

// SlackNotifier posts alerts to an incoming webhook URL, the lightest
// integration `slack-go/slack` offers and the one that needs no bot
// token or channel-membership management.
type SlackNotifier struct {
	webhookURL string
	post       func(url string, msg *slack.WebhookMessage) error
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, post: slack.PostWebhook}
}

func (n *SlackNotifier) Notify(ctx context.Context, a Alert) error {
	if n.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", a.subject(), a.Reason),
	}
	return n.post(n.webhookURL, msg)
}

// Nop discards every alert; used where no webhook is configured.
type Nop struct{}

func (Nop) Notify(ctx context.Context, a Alert) error { return nil }
