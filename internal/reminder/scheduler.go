// Package reminder runs the hourly follow-up sweep: for every active
// company, for every channel, find logs due for their next reminder
// stage and enqueue a follow-up queue item carrying a strategy tag.
// Generalizes listmonk's tenantInstanceManager.scanCampaigns ticker
// (internal/manager/tenant_instance.go) from "find campaigns with more
// subscribers to pull" to "find logs due for a reminder stage".
package reminder

import (
	"context"
	"time"

	null "gopkg.in/volatiletech/null.v6"

	"github.com/outreachforge/engine/internal/models"
	"github.com/outreachforge/engine/internal/obs"
)

// Store is the subset of internal/store.Store the scheduler needs.
type Store interface {
	ListActiveCompanies(ctx context.Context) ([]models.Company, error)
	GetCampaign(ctx context.Context, companyID, campaignID int64) (*models.Campaign, error)
	ListReminderCandidates(ctx context.Context, companyID int64, channel models.Channel, priorStage string) ([]models.Log, error)
	Enqueue(ctx context.Context, q *models.QueueItem) (int64, error)
}

// strategies are picked by stage number (stages past the last entry
// reuse "breakup"), mirroring listmonk's
// TemplateFuncs pass-through of opaque data to the render layer — the
// tag travels with the item untouched, for content.Generator to use.
var strategies = []string{"gentle", "value-add", "social-proof", "breakup"}

func strategyFor(stage int) string {
	if stage-1 < len(strategies) {
		return strategies[stage-1]
	}
	return strategies[len(strategies)-1]
}

// priorStageFor returns the last_reminder_sent value a log must carry to
// be a candidate for stageN: empty for r1 (no reminder sent yet), else
// the previous stage's name.
func priorStageFor(stageN int) string {
	if stageN <= 1 {
		return ""
	}
	return models.ReminderStage(stageN - 1)
}

// Scheduler runs the periodic reminder sweep.
type Scheduler struct {
	store    Store
	log      *obs.Logger
	channels []models.Channel
}

func New(store Store, log *obs.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		log:      log,
		channels: []models.Channel{models.ChannelEmail, models.ChannelCall, models.ChannelLinkedIn},
	}
}

// Run blocks, firing Sweep every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx, time.Now()); err != nil {
				s.log.Errorw("reminder sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass across every active company and channel.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) error {
	companies, err := s.store.ListActiveCompanies(ctx)
	if err != nil {
		return err
	}
	for _, c := range companies {
		for _, ch := range s.channels {
			if err := s.sweepCompanyChannel(ctx, c.ID, ch, now); err != nil {
				s.log.WithCompany(c.ID).Errorw("reminder sweep failed for channel", "channel", ch, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) sweepCompanyChannel(ctx context.Context, companyID int64, channel models.Channel, now time.Time) error {
	// Walk reminder stages starting at r1; a campaign's n_reminders caps
	// how many stages are eligible, checked per-log below via its own
	// campaign lookup since logs can belong to different campaigns.
	for stageN := 1; stageN <= maxReminderStages; stageN++ {
		stage := models.ReminderStage(stageN)
		candidates, err := s.store.ListReminderCandidates(ctx, companyID, channel, priorStageFor(stageN))
		if err != nil {
			return err
		}
		for _, log := range candidates {
			campaign, err := s.store.GetCampaign(ctx, companyID, log.CampaignID)
			if err != nil {
				s.log.Errorw("reminder: campaign lookup failed", "campaign_id", log.CampaignID, "error", err)
				continue
			}
			if stageN > campaign.NReminders {
				continue
			}
			base := log.SentAt
			if stageN > 1 && log.LastReminderSentAt.Valid {
				base = log.LastReminderSentAt.Time
			}
			due := base.Add(campaign.CadenceFor(stageN))
			if now.Before(due) {
				continue
			}
			item := &models.QueueItem{
				CompanyID:    companyID,
				CampaignID:   log.CampaignID,
				RunID:        null.Int{}, // reminders are not tied to the originating run's drain accounting
				LeadID:       log.LeadID,
				Channel:      channel,
				Stage:        stage,
				Strategy:     null.StringFrom(strategyFor(stageN)),
				ScheduledFor: now,
				MaxRetries:   3,
				ParentLogID:  null.IntFrom(log.ID),
			}
			if _, err := s.store.Enqueue(ctx, item); err != nil {
				s.log.Errorw("reminder: enqueue failed", "lead_id", log.LeadID, "error", err)
			}
		}
	}
	return nil
}

// maxReminderStages bounds the sweep's stage walk; campaigns rarely
// configure more than a handful of reminders (spec.md §3 n_reminders).
const maxReminderStages = 10
