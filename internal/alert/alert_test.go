package alert

import (
	"context"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackNotifierPostsFormattedMessage(t *testing.T) {
	n := NewSlackNotifier("https://hooks.slack.test/services/x")
	var gotURL string
	var gotMsg *slack.WebhookMessage
	n.post = func(url string, msg *slack.WebhookMessage) error {
		gotURL = url
		gotMsg = msg
		return nil
	}

	err := n.Notify(context.Background(), Alert{CompanyID: 9, Channel: "email", Reason: "invalid API key"})
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.test/services/x", gotURL)
	assert.Contains(t, gotMsg.Text, "company 9")
	assert.Contains(t, gotMsg.Text, "invalid API key")
}

func TestSlackNotifierSkipsWhenNoWebhookConfigured(t *testing.T) {
	n := NewSlackNotifier("")
	called := false
	n.post = func(url string, msg *slack.WebhookMessage) error {
		called = true
		return nil
	}

	require.NoError(t, n.Notify(context.Background(), Alert{CompanyID: 1}))
	assert.False(t, called)
}

func TestNopNotifierDiscards(t *testing.T) {
	require.NoError(t, (Nop{}).Notify(context.Background(), Alert{}))
}
