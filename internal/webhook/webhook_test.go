package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachforge/engine/internal/models"
	"github.com/outreachforge/engine/internal/obs"
)

type fakeStore struct {
	seen            map[string]bool
	repliedLogs     []int64
	openedLogs      []int64
	bouncedLeads    []int64
	callCompletions []int64
}

func newFakeStore() *fakeStore { return &fakeStore{seen: map[string]bool{}} }

func (f *fakeStore) SeenWebhookEvent(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}
func (f *fakeStore) GetLog(ctx context.Context, companyID, logID int64) (*models.Log, error) {
	return &models.Log{ID: logID, CompanyID: companyID}, nil
}
func (f *fakeStore) ReconcileReply(ctx context.Context, logID int64) error {
	f.repliedLogs = append(f.repliedLogs, logID)
	return nil
}
func (f *fakeStore) ReconcileOpen(ctx context.Context, logID int64) error {
	f.openedLogs = append(f.openedLogs, logID)
	return nil
}
func (f *fakeStore) ReconcileBounce(ctx context.Context, leadID int64) error {
	f.bouncedLeads = append(f.bouncedLeads, leadID)
	return nil
}
func (f *fakeStore) ReconcileCallCompletion(ctx context.Context, logID int64, durationSeconds int, sentiment, summary, transcript, recordingURL string) error {
	f.callCompletions = append(f.callCompletions, logID)
	return nil
}

func TestIngestReplyReconciles(t *testing.T) {
	fs := newFakeStore()
	ing := New(fs, obs.NewNop(), nil)

	err := ing.Ingest(context.Background(), Event{Provider: "sendgrid", EventID: "e1", Type: "reply", LogID: 42}, []byte("{}"), "")
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, fs.repliedLogs)
}

func TestIngestDuplicateIsNoop(t *testing.T) {
	fs := newFakeStore()
	ing := New(fs, obs.NewNop(), nil)
	ev := Event{Provider: "sendgrid", EventID: "e1", Type: "reply", LogID: 42}

	require.NoError(t, ing.Ingest(context.Background(), ev, []byte("{}"), ""))
	require.NoError(t, ing.Ingest(context.Background(), ev, []byte("{}"), ""))
	assert.Len(t, fs.repliedLogs, 1)
}

func TestIngestBadSignatureRejected(t *testing.T) {
	fs := newFakeStore()
	ing := New(fs, obs.NewNop(), []byte("secret"))

	err := ing.Ingest(context.Background(), Event{Provider: "twilio", EventID: "e2", Type: "bounce"}, []byte("payload"), "deadbeef")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestIngestValidSignatureAccepted(t *testing.T) {
	fs := newFakeStore()
	secret := []byte("secret")
	payload := []byte(`{"event":"bounce"}`)
	sig := computeHMAC(t, secret, payload)

	ing := New(fs, obs.NewNop(), secret)
	err := ing.Ingest(context.Background(), Event{Provider: "twilio", EventID: "e3", Type: "bounce", LeadID: 7}, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, fs.bouncedLeads)
}

func TestIngestCallCompletedReconciles(t *testing.T) {
	fs := newFakeStore()
	ing := New(fs, obs.NewNop(), nil)

	err := ing.Ingest(context.Background(), Event{
		Provider: "vapi", EventID: "e4", Type: "call_completed", LogID: 9,
		CallDurationSeconds: 120, CallSentiment: "positive",
	}, []byte("{}"), "")
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, fs.callCompletions)
}

func computeHMAC(t *testing.T, secret, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
