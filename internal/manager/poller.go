// Package manager runs the queue poller (one ticker whose sweep visits
// every active (company, channel) pair) and the shared dispatch skeleton that
// turns a leased queue item into a sent message. Replaces listmonk's
// manager.Manager/tenantInstanceManager — a single process-wide pipe
// set keyed on listmonk campaign IDs and driven by an in-memory
// waitgroup (internal/manager/tenant_pipe.go) — with a poller that leases
// per (company, channel) through a DB-backed lease and an idempotent
// campaignrun.Tracker.DrainCheck, since the waitgroup approach cannot
// survive a process restart mid-campaign the way a lease-based design
// can.
package manager

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/outreachforge/engine/internal/campaignrun"
	"github.com/outreachforge/engine/internal/models"
	"github.com/outreachforge/engine/internal/obs"
	"github.com/outreachforge/engine/internal/ratelimit"
)

// Store is the persistence surface the poller needs, satisfied by
// internal/store.Store.
type Store interface {
	ListActiveCompanies(ctx context.Context) ([]models.Company, error)
	Lease(ctx context.Context, companyID int64, channel models.Channel, owner string, limit int, leaseTTL time.Duration) ([]models.QueueItem, error)
	Terminate(ctx context.Context, itemID int64, status string, sendErr error) error
	Requeue(ctx context.Context, itemID int64, retryCount int, nextAt time.Time, lastErr error) error
	GetLead(ctx context.Context, companyID, leadID int64) (*models.Lead, error)
	GetCampaign(ctx context.Context, companyID, campaignID int64) (*models.Campaign, error)
	GetCompany(ctx context.Context, companyID int64) (*models.Company, error)
	CreateLog(ctx context.Context, l *models.Log) (int64, error)
	CreateLogDetail(ctx context.Context, d *models.LogDetail) error
	UpdateLogReminder(ctx context.Context, logID int64, stage string) error
	UpdateLogProviderMessageID(ctx context.Context, logID int64, providerMessageID string) error
	IncrementLeadsProcessed(ctx context.Context, runID int64) error
}

// Config mirrors the shape of listmonk's manager.Config
// (BatchSize/Concurrency/tick interval) generalized to per-channel
// polling.
type Config struct {
	ScanInterval time.Duration
	BatchSize    int
	Concurrency  int // bounds in-flight sends per (company, channel)
	LeaseTTL     time.Duration
	Owner        string // identifies this process in lease ownership
}

// Poller drains each active company's per-channel queues on a ticker,
// respecting the rate-limit Oracle's budget before leasing work.
type Poller struct {
	cfg     Config
	store   Store
	oracle  *ratelimit.Oracle
	tracker *campaignrun.Tracker
	disp    *Dispatch
	log     *obs.Logger
	metrics *obs.Metrics

	channels []models.Channel
}

func NewPoller(cfg Config, store Store, oracle *ratelimit.Oracle, tracker *campaignrun.Tracker, disp *Dispatch, log *obs.Logger, metrics *obs.Metrics) *Poller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.Owner == "" {
		cfg.Owner = "poller"
	}
	return &Poller{
		cfg:      cfg,
		store:    store,
		oracle:   oracle,
		tracker:  tracker,
		disp:     disp,
		log:      log,
		metrics:  metrics,
		channels: []models.Channel{models.ChannelEmail, models.ChannelCall, models.ChannelLinkedIn},
	}
}

// Run ticks every ScanInterval, sweeping every active company's
// channels, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.log.Errorw("poller sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass over every active company and channel.
func (p *Poller) Sweep(ctx context.Context) error {
	companies, err := p.store.ListActiveCompanies(ctx)
	if err != nil {
		return fmt.Errorf("list active companies: %w", err)
	}

	for _, c := range companies {
		for _, ch := range p.channels {
			if err := p.sweepCompanyChannel(ctx, c.ID, ch); err != nil {
				p.log.WithCompany(c.ID).Errorw("channel sweep failed", "channel", ch, "error", err)
			}
		}
	}
	return nil
}

func (p *Poller) sweepCompanyChannel(ctx context.Context, companyID int64, channel models.Channel) error {
	budget, err := p.oracle.Budget(ctx, companyID, channel, time.Now())
	if err != nil {
		return fmt.Errorf("compute budget: %w", err)
	}
	if budget <= 0 {
		return nil
	}

	inWindow, err := p.oracle.InWorkWindow(ctx, companyID, channel, time.Now())
	if err != nil {
		return fmt.Errorf("check work window: %w", err)
	}
	if !inWindow {
		return nil
	}

	limit := budget
	if limit > p.cfg.BatchSize {
		limit = p.cfg.BatchSize
	}

	items, err := p.store.Lease(ctx, companyID, channel, p.cfg.Owner, limit, p.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	if p.metrics != nil {
		p.metrics.QueueDepth.WithLabelValues(fmt.Sprintf("%d", companyID), string(channel)).Set(float64(len(items)))
	}

	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	for i := range items {
		item := items[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func() {
			defer sem.Release(1)
			p.disp.Process(ctx, &item)
		}()
	}
	// Wait for all in-flight sends in this batch before draining, so the
	// drain check below sees an up-to-date pending count.
	_ = sem.Acquire(ctx, int64(p.cfg.Concurrency))
	sem.Release(int64(p.cfg.Concurrency))

	// Best-effort drain check per distinct run touched by this batch.
	seenRuns := map[int64]bool{}
	for _, item := range items {
		if !item.RunID.Valid || seenRuns[item.RunID.Int64] {
			continue
		}
		seenRuns[item.RunID.Int64] = true
		if _, err := p.tracker.DrainCheck(ctx, companyID, item.RunID.Int64); err != nil {
			p.log.WithCompany(companyID).WithRun(item.RunID.Int64).Errorw("drain check failed", "error", err)
		}
	}

	return nil
}
