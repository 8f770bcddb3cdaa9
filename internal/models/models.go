// Package models defines the persistent entities of the outreach engine:
// companies (tenants), products, leads, campaigns, campaign runs, queue
// items and dispatch logs. Generalizes listmonk's models/tenant.go
// Tenant/TenantFeatures shape to the full data model in SPEC_FULL.md §3.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	null "gopkg.in/volatiletech/null.v6"
)

// Company status values. Mirrors listmonk's TenantStatus enum.
const (
	CompanyStatusActive    = "active"
	CompanyStatusSuspended = "suspended"
	CompanyStatusDeleted   = "deleted"
)

// Channel identifies an outreach medium.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelCall     Channel = "call"
	ChannelLinkedIn Channel = "linkedin"
)

// QueueItem status values (spec.md §4, state machine).
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusSent       = "sent"
	QueueStatusFailed     = "failed"
	QueueStatusCancelled  = "cancelled"
)

// CampaignRun status values.
const (
	RunStatusIdle      = "idle"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
)

// Stage labels. Reminder stages beyond r1 are generated as "r2", "r3", ...
const StageInitial = "initial"

func ReminderStage(n int) string {
	return fmt.Sprintf("r%d", n)
}

// JSONMap is a generic JSON-backed column, generalizing listmonk's
// types.JSONText usage in models/tenant.go to a typed map.
type JSONMap map[string]any

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("invalid type %T for JSONMap", src)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Company is the tenant boundary. Generalizes listmonk's Tenant.
type Company struct {
	ID        int64      `db:"id" json:"id"`
	UUID      string     `db:"uuid" json:"uuid"`
	Name      string     `db:"name" json:"name"`
	Status    string     `db:"status" json:"status"`
	Metadata  JSONMap    `db:"metadata" json:"metadata"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive mirrors listmonk's Tenant.IsActive().
func (c *Company) IsActive() bool {
	return c.Status == CompanyStatusActive
}

// ThrottleSettings is per-company, per-channel admission configuration.
type ThrottleSettings struct {
	CompanyID     int64       `db:"company_id" json:"company_id" validate:"required"`
	Channel       Channel     `db:"channel" json:"channel" validate:"required,oneof=email call linkedin"`
	Enabled       bool        `db:"enabled" json:"enabled"`
	MaxPerHour    int         `db:"max_per_hour" json:"max_per_hour" validate:"gte=0"`
	MaxPerDay     int         `db:"max_per_day" json:"max_per_day" validate:"gte=0"`
	WorkStart     null.String `db:"work_start" json:"work_start,omitempty"` // "HH:MM" local wall-clock
	WorkEnd       null.String `db:"work_end" json:"work_end,omitempty"`
	EnforceWindow bool        `db:"enforce_window" json:"enforce_window"` // calls: true; email: configurable
}

// Product is tenant-scoped and soft-deleted, never hard-deleted, so
// historical logs can always resolve it (spec.md §3, §9).
type Product struct {
	ID        int64        `db:"id" json:"id"`
	CompanyID int64        `db:"company_id" json:"company_id"`
	Name      string       `db:"name" json:"name"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	DeletedAt null.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
}

func (p *Product) IsDeleted() bool { return p.DeletedAt.Valid }

// Lead is a tenant-scoped contact. Generalizes listmonk's Subscriber.
type Lead struct {
	ID          int64       `db:"id" json:"id"`
	CompanyID   int64       `db:"company_id" json:"company_id"`
	Email       null.String `db:"email" json:"email,omitempty"`
	Phone       null.String `db:"phone" json:"phone,omitempty"`
	LinkedInID  null.String `db:"linkedin_id" json:"linkedin_id,omitempty"`
	// NetworkDistance: 1/2/3 for LinkedIn first/second/third-degree connections.
	NetworkDistance int       `db:"network_distance" json:"network_distance,omitempty"`
	Enrichment      JSONMap   `db:"enrichment" json:"enrichment"`
	EmailBounced    bool      `db:"email_bounced" json:"email_bounced"`
	Unsubscribed    bool      `db:"unsubscribed" json:"unsubscribed"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// HasContact reports whether the lead carries the contact field required
// by the given channel (spec.md §4.6 eligibility requirement).
func (l *Lead) HasContact(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return l.Email.Valid && l.Email.String != "" && !l.EmailBounced
	case ChannelCall:
		return l.Phone.Valid && l.Phone.String != ""
	case ChannelLinkedIn:
		return l.LinkedInID.Valid && l.LinkedInID.String != ""
	}
	return false
}

// Campaign is tenant-scoped and carries per-channel templates and
// reminder cadence parameters.
type Campaign struct {
	ID         int64     `db:"id" json:"id"`
	CompanyID  int64     `db:"company_id" json:"company_id"`
	ProductID  int64     `db:"product_id" json:"product_id"`
	Name       string    `db:"name" json:"name"`
	Channels   []Channel `db:"-" json:"channels"`
	// ChannelsRaw is the DB-backed comma-joined encoding of Channels.
	ChannelsRaw string `db:"channels" json:"-"`

	NReminders  int             `db:"n_reminders" json:"n_reminders"`
	DaysBetween int             `db:"days_between" json:"days_between"` // uniform fallback cadence
	// ReminderCadence overrides DaysBetween per-stage when non-empty
	// (index 0 == r1, ...). Resolves spec.md §9's open question.
	ReminderCadence []time.Duration `db:"-" json:"-"`

	Templates map[Channel]string `db:"-" json:"templates"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
}

// CadenceFor returns the wait duration before reminder stage n (1-indexed).
func (c *Campaign) CadenceFor(n int) time.Duration {
	if n-1 < len(c.ReminderCadence) {
		return c.ReminderCadence[n-1]
	}
	days := c.DaysBetween
	if days <= 0 {
		days = 3 // UI default per spec.md §9; live path still prefers per-stage/uniform config
	}
	return time.Duration(days) * 24 * time.Hour
}

// HasChannel reports whether the campaign enables the given channel.
func (c *Campaign) HasChannel(ch Channel) bool {
	for _, x := range c.Channels {
		if x == ch {
			return true
		}
	}
	return false
}

// CampaignRun is one execution of a campaign.
type CampaignRun struct {
	ID             int64      `db:"id" json:"id"`
	CompanyID      int64      `db:"company_id" json:"company_id"`
	CampaignID     int64      `db:"campaign_id" json:"campaign_id"`
	Status         string     `db:"status" json:"status"`
	LeadsTotal     int        `db:"leads_total" json:"leads_total"`
	LeadsProcessed int        `db:"leads_processed" json:"leads_processed"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    null.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt    null.Time  `db:"cancelled_at" json:"cancelled_at,omitempty"`

	// CountsByStatus breaks the run's queue items down by status
	// (spec.md §6's GetRun contract); populated by Store.GetRun from a
	// separate aggregate query, not a queue_items column itself.
	CountsByStatus map[string]int `db:"-" json:"counts_by_status,omitempty"`
}

// QueueItem is a unit of work for one lead on one channel (spec.md §3).
type QueueItem struct {
	ID            int64       `db:"id" json:"id"`
	CompanyID     int64       `db:"company_id" json:"company_id"`
	CampaignID    int64       `db:"campaign_id" json:"campaign_id"`
	// RunID is null for reminder items, which dedup on (lead_id, stage)
	// rather than being tied to a campaign run's drain accounting.
	RunID         null.Int    `db:"run_id" json:"run_id,omitempty"`
	LeadID        int64       `db:"lead_id" json:"lead_id"`
	Channel       Channel     `db:"channel" json:"channel"`
	Stage         string      `db:"stage" json:"stage"`
	// Strategy tags a reminder item with the tone the content generator
	// should use (gentle, value-add, social-proof, ...); empty for
	// initial-stage items.
	Strategy      null.String `db:"strategy" json:"strategy,omitempty"`
	Status        string      `db:"status" json:"status"`
	Priority      int         `db:"priority" json:"priority"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	ScheduledFor  time.Time   `db:"scheduled_for" json:"scheduled_for"`
	ProcessedAt   null.Time   `db:"processed_at" json:"processed_at,omitempty"`
	RetryCount    int         `db:"retry_count" json:"retry_count"`
	MaxRetries    int         `db:"max_retries" json:"max_retries"`
	Error         null.String `db:"error" json:"error,omitempty"`
	WorkWindowStart null.String `db:"work_window_start" json:"work_window_start,omitempty"`
	WorkWindowEnd   null.String `db:"work_window_end" json:"work_window_end,omitempty"`
	// ParentLogID links a reminder stage item to the original dispatch log.
	ParentLogID null.Int `db:"parent_log_id" json:"parent_log_id,omitempty"`
	// LeaseOwner identifies the worker holding the processing lease.
	LeaseOwner    null.String `db:"lease_owner" json:"lease_owner,omitempty"`
	LeaseExpiresAt null.Time  `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
}

// IsTerminal reports whether the item is in a terminal status.
func (q *QueueItem) IsTerminal() bool {
	switch q.Status {
	case QueueStatusSent, QueueStatusFailed, QueueStatusCancelled:
		return true
	}
	return false
}

// Log records a successful-or-attempted dispatch (spec.md §3).
type Log struct {
	ID                int64       `db:"id" json:"id"`
	CompanyID         int64       `db:"company_id" json:"company_id"`
	CampaignID        int64       `db:"campaign_id" json:"campaign_id"`
	LeadID            int64       `db:"lead_id" json:"lead_id"`
	Channel           Channel     `db:"channel" json:"channel"`
	SentAt            time.Time   `db:"sent_at" json:"sent_at"`
	ProviderMessageID null.String `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Content           string      `db:"content" json:"content"`
	HasReplied        bool        `db:"has_replied" json:"has_replied"`
	HasOpened         bool        `db:"has_opened" json:"has_opened"`
	HasMeetingBooked  bool        `db:"has_meeting_booked" json:"has_meeting_booked"`
	LastReminderSent     null.String `db:"last_reminder_sent" json:"last_reminder_sent,omitempty"`
	LastReminderSentAt   null.Time   `db:"last_reminder_sent_at" json:"last_reminder_sent_at,omitempty"`

	// Call-specific fields, populated by C8 on completion webhook.
	CallDurationSeconds null.Int    `db:"call_duration_seconds" json:"call_duration_seconds,omitempty"`
	CallSentiment       null.String `db:"call_sentiment" json:"call_sentiment,omitempty"`
	CallSummary         null.String `db:"call_summary" json:"call_summary,omitempty"`
	CallTranscript       null.String `db:"call_transcript" json:"call_transcript,omitempty"`
	CallRecordingURL     null.String `db:"call_recording_url" json:"call_recording_url,omitempty"`
}

// LogDetail records one rendered message body against a Log, e.g. the
// email_log_details row required by spec.md §8 invariant 5.
type LogDetail struct {
	ID           int64     `db:"id" json:"id"`
	LogID        int64     `db:"log_id" json:"log_id"`
	SenderType   string    `db:"sender_type" json:"sender_type"` // "assistant"
	ReminderType null.String `db:"reminder_type" json:"reminder_type,omitempty"`
	Body         string    `db:"body" json:"body"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

const LogDetailSenderAssistant = "assistant"
