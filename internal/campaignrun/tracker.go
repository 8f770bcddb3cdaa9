// Package campaignrun owns the lifecycle of a single campaign
// execution: starting it (enumerating leads, enqueuing the initial
// dispatch items), an idempotent drain check that completes the run
// once no work remains, and cancellation. Generalizes listmonk's
// in-process waitgroup-based pipe drain
// (other_examples/.../pipe.go's newPipe/wg.Add/wg.Wait/cleanup) into a
// DB-driven predicate, since a run must survive process restarts —
// something a waitgroup cannot do.
package campaignrun

import (
	"context"
	"fmt"
	"time"

	null "gopkg.in/volatiletech/null.v6"

	"github.com/outreachforge/engine/internal/models"
)

// Store is the subset of internal/store.Store the tracker needs.
type Store interface {
	GetCampaign(ctx context.Context, companyID, campaignID int64) (*models.Campaign, error)
	ListCampaignLeads(ctx context.Context, companyID, campaignID int64) ([]models.Lead, error)
	CreateRun(ctx context.Context, companyID, campaignID int64, leadsTotal int) (*models.CampaignRun, error)
	GetRun(ctx context.Context, companyID, runID int64) (*models.CampaignRun, error)
	CancelRun(ctx context.Context, companyID, runID int64) error
	DrainCheck(ctx context.Context, companyID, runID int64) (bool, error)
	Enqueue(ctx context.Context, q *models.QueueItem) (int64, error)
}

// Tracker orchestrates campaign runs against a Store.
type Tracker struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Start enumerates a campaign's leads, creates the run row, and enqueues
// one initial-stage item per lead per enabled channel the lead has a
// usable contact for (spec.md §4.6, §3 eligibility).
func (t *Tracker) Start(ctx context.Context, companyID, campaignID int64) (*models.CampaignRun, error) {
	campaign, err := t.store.GetCampaign(ctx, companyID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	leads, err := t.store.ListCampaignLeads(ctx, companyID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign leads: %w", err)
	}

	run, err := t.store.CreateRun(ctx, companyID, campaignID, len(leads))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	now := t.now()
	for _, lead := range leads {
		for _, ch := range campaign.Channels {
			if !lead.HasContact(ch) {
				continue
			}
			item := &models.QueueItem{
				CompanyID:    companyID,
				CampaignID:   campaignID,
				RunID:        null.IntFrom(run.ID),
				LeadID:       lead.ID,
				Channel:      ch,
				Stage:        models.StageInitial,
				ScheduledFor: now,
				MaxRetries:   3,
			}
			if _, err := t.store.Enqueue(ctx, item); err != nil {
				return nil, fmt.Errorf("enqueue lead %d channel %s: %w", lead.ID, ch, err)
			}
		}
	}

	return run, nil
}

// DrainCheck reports whether run has no pending or processing items
// left, idempotently marking it completed the first time this becomes
// true. Safe to call repeatedly and concurrently from multiple pollers.
func (t *Tracker) DrainCheck(ctx context.Context, companyID, runID int64) (bool, error) {
	return t.store.DrainCheck(ctx, companyID, runID)
}

// Cancel marks a running campaign cancelled and cancels its still-open
// items. Calling Cancel on an already-terminal run is a no-op error
// (errs.ErrAlreadyTerminal), keeping the operation idempotent for retry
// from the command surface.
func (t *Tracker) Cancel(ctx context.Context, companyID, runID int64) error {
	return t.store.CancelRun(ctx, companyID, runID)
}

// Get fetches a run by id.
func (t *Tracker) Get(ctx context.Context, companyID, runID int64) (*models.CampaignRun, error) {
	return t.store.GetRun(ctx, companyID, runID)
}
