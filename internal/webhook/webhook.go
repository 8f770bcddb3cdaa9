// Package webhook reconciles provider callbacks (reply detection,
// bounces, opens, call completion, LinkedIn events) against persisted
// logs/leads, independent of any HTTP framework — the REST surface
// itself is an external collaborator (spec.md §1). Generalizes
// listmonk's internal/middleware/tenant.go TenantResolver pattern
// (dispatch on a discriminator to resolve identity) from "resolve a
// tenant from a request" to "resolve a handler from a provider+event
// pair", and its EmailHeaderCampaignUUID/EmailHeaderSubscriberUUID
// correlation-id idea into a persisted (provider, event_id) idempotency
// key (spec.md §4.8).
package webhook

import (
	"context"
	"fmt"

	"github.com/outreachforge/engine/internal/models"
	"github.com/outreachforge/engine/internal/obs"
)

// Store is the subset of internal/store.Store the ingestor needs.
type Store interface {
	SeenWebhookEvent(ctx context.Context, provider, eventID string) (bool, error)
	GetLog(ctx context.Context, companyID, logID int64) (*models.Log, error)
	ReconcileReply(ctx context.Context, logID int64) error
	ReconcileOpen(ctx context.Context, logID int64) error
	ReconcileBounce(ctx context.Context, leadID int64) error
	ReconcileCallCompletion(ctx context.Context, logID int64, durationSeconds int, sentiment, summary, transcript, recordingURL string) error
}

// Event is a normalized inbound webhook payload, already parsed by the
// caller from whatever wire format the provider sends.
type Event struct {
	Provider  string // "sendgrid", "twilio", "linkedin", ...
	EventID   string // provider-assigned id, the idempotency key
	Type      string // "reply", "bounce", "open", "call_completed", ...
	CompanyID int64
	LogID     int64
	LeadID    int64

	// Call-completion fields, populated when Type == "call_completed".
	CallDurationSeconds int
	CallSentiment       string
	CallSummary         string
	CallTranscript      string
	CallRecordingURL    string
}

// Ingestor reconciles events against the Store.
type Ingestor struct {
	store  Store
	log    *obs.Logger
	secret []byte
}

func New(store Store, log *obs.Logger, hmacSecret []byte) *Ingestor {
	return &Ingestor{store: store, log: log, secret: hmacSecret}
}

// ErrBadSignature is returned when the provided signature fails HMAC
// verification.
var ErrBadSignature = fmt.Errorf("webhook: signature verification failed")

// Ingest verifies rawPayload's signature when the Ingestor has a
// secret (with none configured, no check is made), checks (Provider, EventID) has
// not already been processed, and reconciles the event. Re-delivery of
// the same EventID is a no-op success, not an error — providers retry
// on any non-2xx response, so idempotency must be silent.
func (i *Ingestor) Ingest(ctx context.Context, ev Event, rawPayload []byte, signature string) error {
	if len(i.secret) > 0 && !VerifySignature(i.secret, rawPayload, signature) {
		return ErrBadSignature
	}

	first, err := i.store.SeenWebhookEvent(ctx, ev.Provider, ev.EventID)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if !first {
		i.log.Infow("webhook: duplicate delivery ignored", "provider", ev.Provider, "event_id", ev.EventID)
		return nil
	}

	switch ev.Type {
	case "reply":
		return i.store.ReconcileReply(ctx, ev.LogID)
	case "open":
		return i.store.ReconcileOpen(ctx, ev.LogID)
	case "bounce":
		return i.store.ReconcileBounce(ctx, ev.LeadID)
	case "call_completed":
		return i.store.ReconcileCallCompletion(ctx, ev.LogID, ev.CallDurationSeconds,
			ev.CallSentiment, ev.CallSummary, ev.CallTranscript, ev.CallRecordingURL)
	case "linkedin_reply":
		return i.store.ReconcileReply(ctx, ev.LogID)
	default:
		i.log.Warnw("webhook: unhandled event type", "provider", ev.Provider, "type", ev.Type)
		return nil
	}
}
