// Package store is the sole persistence layer: companies, products,
// leads, campaigns, campaign runs, per-channel queue items and dispatch
// logs. Generalizes listmonk's internal/core/tenant_core.go (tenant-
// scoped sqlx queries over a shared Postgres RLS policy) from CRUD
// wrappers around listmonk's subscriber/list/campaign tables into the
// queue-item lease/terminate/requeue state machine spec.md §4.1 needs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/outreachforge/engine/internal/errs"
	"github.com/outreachforge/engine/internal/models"
)

// Store wraps a *sqlx.DB. GetCampaign sets the Postgres session's
// app.current_company variable before querying, the same RLS pattern as
// listmonk's TenantCore.ensureTenantContext; the other methods scope
// their queries with explicit company_id or row-id predicates.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and configures the pool per cfg, mirroring
// listmonk's raw *sqlx.DB construction (listmonk never pools
// explicitly; the limits here come from jordigilh-kubernaut's pgx
// pool-sizing convention, adapted to lib/pq knobs).
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)
	return &Store{db: db}, nil
}

// New wraps an already-open *sqlx.DB, used by tests with sqlmock.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) setCompanyCtx(ctx context.Context, companyID int64) error {
	_, err := s.db.ExecContext(ctx, `SELECT set_config('app.current_company', $1, false)`, fmt.Sprintf("%d", companyID))
	return err
}

// GetCompany fetches a company by id.
func (s *Store) GetCompany(ctx context.Context, id int64) (*models.Company, error) {
	var c models.Company
	err := s.db.GetContext(ctx, &c, `SELECT * FROM companies WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListActiveCompanies returns every company whose status is active, the
// basis for C7's "active company" sweep (spec.md §9).
func (s *Store) ListActiveCompanies(ctx context.Context) ([]models.Company, error) {
	var out []models.Company
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM companies WHERE status = $1`, models.CompanyStatusActive)
	return out, err
}

// GetThrottleSettings returns the per-channel throttle row for a company.
func (s *Store) GetThrottleSettings(ctx context.Context, companyID int64, channel models.Channel) (*models.ThrottleSettings, error) {
	var t models.ThrottleSettings
	err := s.db.GetContext(ctx, &t, `
		SELECT * FROM throttle_settings WHERE company_id = $1 AND channel = $2`,
		companyID, channel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// UpsertThrottleSettings creates or updates a company's per-channel
// throttle configuration (spec.md §6 command surface).
func (s *Store) UpsertThrottleSettings(ctx context.Context, t *models.ThrottleSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO throttle_settings (company_id, channel, enabled, max_per_hour, max_per_day, work_start, work_end, enforce_window)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (company_id, channel) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			max_per_hour = EXCLUDED.max_per_hour,
			max_per_day = EXCLUDED.max_per_day,
			work_start = EXCLUDED.work_start,
			work_end = EXCLUDED.work_end,
			enforce_window = EXCLUDED.enforce_window`,
		t.CompanyID, t.Channel, t.Enabled, t.MaxPerHour, t.MaxPerDay, t.WorkStart, t.WorkEnd, t.EnforceWindow)
	return err
}

// GetCampaign fetches a campaign, scoped to its owning company.
func (s *Store) GetCampaign(ctx context.Context, companyID, campaignID int64) (*models.Campaign, error) {
	if err := s.setCompanyCtx(ctx, companyID); err != nil {
		return nil, err
	}
	var c models.Campaign
	err := s.db.GetContext(ctx, &c, `
		SELECT * FROM campaigns WHERE company_id = $1 AND id = $2`, companyID, campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if c.ChannelsRaw != "" {
		for _, ch := range strings.Split(c.ChannelsRaw, ",") {
			c.Channels = append(c.Channels, models.Channel(strings.TrimSpace(ch)))
		}
	}
	return &c, nil
}

// GetLead fetches a lead, scoped to its owning company.
func (s *Store) GetLead(ctx context.Context, companyID, leadID int64) (*models.Lead, error) {
	var l models.Lead
	err := s.db.GetContext(ctx, &l, `
		SELECT * FROM leads WHERE company_id = $1 AND id = $2`, companyID, leadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListCampaignLeads returns every lead targeted by a campaign's run, for
// campaignrun.Start's initial enqueue (spec.md §4.6).
func (s *Store) ListCampaignLeads(ctx context.Context, companyID, campaignID int64) ([]models.Lead, error) {
	var out []models.Lead
	err := s.db.SelectContext(ctx, &out, `
		SELECT l.* FROM leads l
		JOIN campaign_leads cl ON cl.lead_id = l.id
		WHERE l.company_id = $1 AND cl.campaign_id = $2
		  AND l.unsubscribed = false`, companyID, campaignID)
	return out, err
}

// CreateRun inserts a new campaign run in the running state.
func (s *Store) CreateRun(ctx context.Context, companyID, campaignID int64, leadsTotal int) (*models.CampaignRun, error) {
	var r models.CampaignRun
	err := s.db.GetContext(ctx, &r, `
		INSERT INTO campaign_runs (company_id, campaign_id, status, leads_total, leads_processed, started_at)
		VALUES ($1, $2, $3, $4, 0, now())
		RETURNING *`, companyID, campaignID, models.RunStatusRunning, leadsTotal)
	return &r, err
}

// GetRun fetches a campaign run by id along with its queue items broken
// down by status (spec.md §6's GetRun contract: status, leads_total,
// leads_processed, counts_by_status).
func (s *Store) GetRun(ctx context.Context, companyID, runID int64) (*models.CampaignRun, error) {
	var r models.CampaignRun
	err := s.db.GetContext(ctx, &r, `
		SELECT * FROM campaign_runs WHERE company_id = $1 AND id = $2`, companyID, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	var counts []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &counts, `
		SELECT status, COUNT(*) AS n FROM queue_items
		WHERE company_id = $1 AND run_id = $2 GROUP BY status`, companyID, runID); err != nil {
		return nil, err
	}
	r.CountsByStatus = make(map[string]int, len(counts))
	for _, c := range counts {
		r.CountsByStatus[c.Status] = c.N
	}
	return &r, nil
}

// IncrementLeadsProcessed bumps a run's leads_processed counter by one,
// called once per successfully terminated queue item that belongs to a
// run (spec.md §4.4(e)).
func (s *Store) IncrementLeadsProcessed(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaign_runs SET leads_processed = leads_processed + 1 WHERE id = $1`, runID)
	return err
}

// CancelRun marks a run cancelled and cancels its pending and processing items.
func (s *Store) CancelRun(ctx context.Context, companyID, runID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaign_runs SET status = $1, cancelled_at = now()
		WHERE company_id = $2 AND id = $3 AND status = $4`,
		models.RunStatusCancelled, companyID, runID, models.RunStatusRunning)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrAlreadyTerminal
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_items SET status = $1
		WHERE company_id = $2 AND run_id = $3 AND status IN ($4, $5)`,
		models.QueueStatusCancelled, companyID, runID, models.QueueStatusPending, models.QueueStatusProcessing); err != nil {
		return err
	}

	return tx.Commit()
}

// DrainCheck reports whether a run has no pending or processing items
// left and, if so, idempotently marks it completed. Generalizes
// listmonk's waitgroup-based pipe drain (other_examples pipe.go) into a
// DB-driven predicate that survives process restarts (spec.md §4.6).
func (s *Store) DrainCheck(ctx context.Context, companyID, runID int64) (bool, error) {
	var pending int
	err := s.db.GetContext(ctx, &pending, `
		SELECT COUNT(*) FROM queue_items
		WHERE company_id = $1 AND run_id = $2 AND status IN ($3, $4)`,
		companyID, runID, models.QueueStatusPending, models.QueueStatusProcessing)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_runs SET status = $1, completed_at = now()
		WHERE company_id = $2 AND id = $3 AND status = $4`,
		models.RunStatusCompleted, companyID, runID, models.RunStatusRunning)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	// n == 0 means another poller already completed this run — still drained.
	_ = n
	return true, nil
}

// Enqueue inserts a new pending queue item, or — if a non-terminal item
// already exists for the same (run, lead, stage) — returns that item's id
// instead of inserting a duplicate (spec.md §8 invariant 2, §4.1 dedup).
// idx_queue_items_dedup is the arbiter index this relies on.
func (s *Store) Enqueue(ctx context.Context, q *models.QueueItem) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		WITH ins AS (
			INSERT INTO queue_items
				(company_id, campaign_id, run_id, lead_id, channel, stage, strategy, status, priority,
				 scheduled_for, max_retries, parent_log_id, work_window_start, work_window_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (COALESCE(run_id, 0), lead_id, stage) WHERE status IN ('pending', 'processing')
			DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM queue_items
		WHERE COALESCE(run_id, 0) = COALESCE($3, 0) AND lead_id = $4 AND stage = $6
		  AND status IN ('pending', 'processing')
		LIMIT 1`,
		q.CompanyID, q.CampaignID, q.RunID, q.LeadID, q.Channel, q.Stage, q.Strategy, models.QueueStatusPending,
		q.Priority, q.ScheduledFor, q.MaxRetries, q.ParentLogID, q.WorkWindowStart, q.WorkWindowEnd)
	return id, err
}

// Lease atomically claims up to limit pending, due queue items for a
// (company, channel) pair and marks them processing, using
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent pollers never race on
// the same row (spec.md §4.1, §4.3).
func (s *Store) Lease(ctx context.Context, companyID int64, channel models.Channel, owner string, limit int, leaseTTL time.Duration) ([]models.QueueItem, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var items []models.QueueItem
	err = tx.SelectContext(ctx, &items, `
		SELECT * FROM queue_items
		WHERE company_id = $1 AND channel = $2 AND status = $3 AND scheduled_for <= now()
		ORDER BY priority DESC, scheduled_for ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $4`,
		companyID, channel, models.QueueStatusPending, limit)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	expiresAt := time.Now().Add(leaseTTL)
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_items SET status = $1, lease_owner = $2, lease_expires_at = $3
		WHERE id = ANY($4)`,
		models.QueueStatusProcessing, owner, expiresAt, pq.Array(ids)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Status = models.QueueStatusProcessing
	}
	return items, nil
}

// Terminate moves a leased item to a terminal status (sent/failed) and
// clears its lease.
func (s *Store) Terminate(ctx context.Context, itemID int64, status string, sendErr error) error {
	var errText sql.NullString
	if sendErr != nil {
		errText = sql.NullString{String: sendErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $1, error = $2, processed_at = now(), lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $3`, status, errText, itemID)
	return err
}

// Requeue returns a processing item to pending with the given retry
// count and a new scheduled_for; callers pass internal/retry's decision,
// or the unchanged count when the invitation cap defers an item.
func (s *Store) Requeue(ctx context.Context, itemID int64, retryCount int, nextAt time.Time, lastErr error) error {
	var errText sql.NullString
	if lastErr != nil {
		errText = sql.NullString{String: lastErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $1, retry_count = $2, scheduled_for = $3, error = $4,
		    lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $5`,
		models.QueueStatusPending, retryCount, nextAt, errText, itemID)
	return err
}

// ReleaseStaleLeases returns any item still "processing" past its lease
// expiry back to pending, for the reclaim-stale-leases CLI op.
func (s *Store) ReleaseStaleLeases(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $1, lease_owner = NULL, lease_expires_at = NULL
		WHERE status = $2 AND lease_expires_at IS NOT NULL AND lease_expires_at < now()`,
		models.QueueStatusPending, models.QueueStatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountSent returns the number of items of a channel sent for a company
// since since. Backs the rate-limit oracle's Store-of-record path
// (spec.md §4.2, §9 — "sent" only, not attempts).
func (s *Store) CountSent(ctx context.Context, companyID int64, channel models.Channel, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM queue_items
		WHERE company_id = $1 AND channel = $2 AND status = $3 AND processed_at >= $4`,
		companyID, channel, models.QueueStatusSent, since)
	return n, err
}

// CountPending returns the number of pending-or-processing items for a
// (company, channel) pair.
func (s *Store) CountPending(ctx context.Context, companyID int64, channel models.Channel) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM queue_items
		WHERE company_id = $1 AND channel = $2 AND status IN ($3, $4)`,
		companyID, channel, models.QueueStatusPending, models.QueueStatusProcessing)
	return n, err
}

// CreateLog inserts the log row for a dispatch. Dispatch calls it before
// the transport call, so the row exists even if the send then fails;
// sent_at is the database's now(), not l.SentAt.
func (s *Store) CreateLog(ctx context.Context, l *models.Log) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO logs (company_id, campaign_id, lead_id, channel, sent_at, provider_message_id, content)
		VALUES ($1,$2,$3,$4,now(),$5,$6)
		RETURNING id`,
		l.CompanyID, l.CampaignID, l.LeadID, l.Channel, l.ProviderMessageID, l.Content)
	return id, err
}

// UpdateLogProviderMessageID fills in a log's provider_message_id once
// the transport send has completed and a correlation id is known — the
// log row itself must exist before the send (its id drives the
// tracking-pixel/reply-to artifact), so this field unavoidably lands
// after CreateLog rather than inside it.
func (s *Store) UpdateLogProviderMessageID(ctx context.Context, logID int64, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE logs SET provider_message_id = $1 WHERE id = $2`, providerMessageID, logID)
	return err
}

// CreateLogDetail persists one rendered message body against a log row
// (spec.md §8 invariant 5's per-reminder content record).
func (s *Store) CreateLogDetail(ctx context.Context, d *models.LogDetail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_details (log_id, sender_type, reminder_type, body, created_at)
		VALUES ($1,$2,$3,$4,now())`, d.LogID, d.SenderType, d.ReminderType, d.Body)
	return err
}

// GetLog fetches a log row by id.
func (s *Store) GetLog(ctx context.Context, companyID, logID int64) (*models.Log, error) {
	var l models.Log
	err := s.db.GetContext(ctx, &l, `SELECT * FROM logs WHERE company_id = $1 AND id = $2`, companyID, logID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// UpdateLogReminder records the stage/time of the most recent reminder
// sent against a log, read back by internal/reminder to compute the
// next eligible stage.
func (s *Store) UpdateLogReminder(ctx context.Context, logID int64, stage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE logs SET last_reminder_sent = $1, last_reminder_sent_at = now() WHERE id = $2`,
		stage, logID)
	return err
}

// ListReminderCandidates returns logs for a company's channel that have
// neither replied nor booked a meeting and whose last reminder sent
// matches priorStage exactly (empty string for r1's "no reminder sent
// yet"), the query backing internal/reminder's hourly sweep (spec.md
// §4.7: "last_reminder_sent matches the prior stage, or is null for
// r1"). Due-time filtering against each log's own cadence happens in
// internal/reminder, since that requires a per-log campaign lookup this
// query has no way to join against generically.
func (s *Store) ListReminderCandidates(ctx context.Context, companyID int64, channel models.Channel, priorStage string) ([]models.Log, error) {
	var out []models.Log
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM logs
		WHERE company_id = $1 AND channel = $2 AND has_replied = false AND has_meeting_booked = false
		  AND COALESCE(last_reminder_sent, '') = $3`,
		companyID, channel, priorStage)
	return out, err
}

// ReconcileReply marks a log as replied, idempotently (IngestWebhook).
func (s *Store) ReconcileReply(ctx context.Context, logID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE logs SET has_replied = true WHERE id = $1`, logID)
	return err
}

// ReconcileOpen marks a log as opened, idempotently.
func (s *Store) ReconcileOpen(ctx context.Context, logID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE logs SET has_opened = true WHERE id = $1`, logID)
	return err
}

// ReconcileBounce marks the owning lead's email as bounced and terminates
// every pending/processing email item addressed to that lead as failed
// with error 'bounced', so
// a permanently undeliverable address doesn't keep absorbing retries
// (spec.md §4.8, §7 "permanent delivery failure cancels other pending
// items to the same contact").
func (s *Store) ReconcileBounce(ctx context.Context, leadID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE leads SET email_bounced = true WHERE id = $1`, leadID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $1, error = 'bounced', processed_at = now(), lease_owner = NULL, lease_expires_at = NULL
		WHERE lead_id = $2 AND channel = $3 AND status IN ($4, $5)`,
		models.QueueStatusFailed, leadID, models.ChannelEmail, models.QueueStatusPending, models.QueueStatusProcessing); err != nil {
		return err
	}
	return tx.Commit()
}

// ReconcileCallCompletion records telephony provider callback data
// against a log row.
func (s *Store) ReconcileCallCompletion(ctx context.Context, logID int64, durationSeconds int, sentiment, summary, transcript, recordingURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE logs SET call_duration_seconds = $1, call_sentiment = $2, call_summary = $3,
			call_transcript = $4, call_recording_url = $5
		WHERE id = $6`, durationSeconds, sentiment, summary, transcript, recordingURL, logID)
	return err
}

// SeenWebhookEvent records (provider, eventID) once; returns false if it
// was already recorded, the Store-backed idempotency key generalizing
// listmonk's UUID-correlation-header pattern (spec.md §4.8).
func (s *Store) SeenWebhookEvent(ctx context.Context, provider, eventID string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, received_at) VALUES ($1, $2, now())`,
		provider, eventID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (sqlErrorCode(err) == "23505")
}

// sqlErrorCode extracts a Postgres error code without importing
// lib/pq's pq.Error type into every caller's error-handling path.
func sqlErrorCode(err error) string {
	type pqErrorer interface{ SQLState() string }
	var pe pqErrorer
	if errors.As(err, &pe) {
		return pe.SQLState()
	}
	return ""
}
