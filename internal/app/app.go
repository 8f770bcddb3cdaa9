// Package app is the facade that wires every component into the
// command surface spec.md §6 describes (RunCampaign, CancelRun,
// GetRun, UpsertThrottleSettings, IngestWebhook), generalizing
// listmonk's cmd package's package-level wiring of a single global
// Manager/Core into an explicit, constructible App value with no
// package-level state.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/outreachforge/engine/internal/alert"
	"github.com/outreachforge/engine/internal/campaignrun"
	"github.com/outreachforge/engine/internal/config"
	"github.com/outreachforge/engine/internal/content"
	"github.com/outreachforge/engine/internal/manager"
	"github.com/outreachforge/engine/internal/messenger/call"
	"github.com/outreachforge/engine/internal/messenger/email"
	"github.com/outreachforge/engine/internal/messenger/linkedin"
	"github.com/outreachforge/engine/internal/models"
	"github.com/outreachforge/engine/internal/obs"
	"github.com/outreachforge/engine/internal/ratelimit"
	"github.com/outreachforge/engine/internal/reminder"
	"github.com/outreachforge/engine/internal/retry"
	"github.com/outreachforge/engine/internal/store"
	"github.com/outreachforge/engine/internal/webhook"
)

// App bundles every wired component a command needs.
type App struct {
	Store     *store.Store
	Oracle    *ratelimit.Oracle
	Tracker   *campaignrun.Tracker
	Scheduler *reminder.Scheduler
	Ingestor  *webhook.Ingestor
	Poller    *manager.Poller
	Dispatch  *manager.Dispatch
	Log       *obs.Logger
	Metrics   *obs.Metrics

	redis *redis.Client
}

// validate checks inbound settings structs before they reach the Store
// (spec.md §6 expansion: request validation via go-playground/validator).
var validate = validator.New()

// CredentialSource resolves every channel's per-company credentials;
// a deployment's concrete implementation lives outside this module
// (spec.md's credential storage is explicitly out of scope, §1
// Non-goals) and is supplied by the caller of New.
type CredentialSource interface {
	email.CredentialSource
	call.CredentialSource
	linkedin.CredentialSource
	linkedin.InviteBudget
}

// New constructs a fully wired App from cfg, a webhook HMAC secret,
// and the deployment-supplied credential source.
func New(ctx context.Context, cfg *config.Config, creds CredentialSource, hmacSecret []byte) (*App, error) {
	db, err := store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	log, err := obs.NewLogger(cfg.LogDev)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

	oracle := ratelimit.New(db, redisClient, 500)
	tracker := campaignrun.New(db)
	scheduler := reminder.New(db, log)
	ingestor := webhook.New(db, log, hmacSecret)

	generator := content.Generator(content.NewAnthropicGenerator(cfg.Content.AnthropicAPIKey, cfg.Content.Model))

	emailDispatcher := email.NewDispatcher(creds, time.Hour)
	callDispatcher := call.NewDispatcher(creds, cfg.Call.ProviderBaseURL, cfg.Call.Timeout)
	linkedinDispatcher := linkedin.NewDispatcher(creds, creds, cfg.LinkedIn.APIBaseURL, cfg.LinkedIn.IntraSendDelay, cfg.LinkedIn.MaxInvitesPerDay)

	policies := retry.DefaultPolicies()
	if cfg.Retry.BaseDelay > 0 {
		for ch, p := range policies {
			p.BaseDelay = cfg.Retry.BaseDelay
			if ch == models.ChannelEmail && cfg.Email.BaseDelay > 0 {
				p.BaseDelay = cfg.Email.BaseDelay
			}
			p.Multiplier = cfg.Retry.Multiplier
			p.MaxRetries = cfg.Retry.MaxRetries
			policies[ch] = p
		}
	}

	notifier := alert.Notifier(alert.Nop{})
	if cfg.Alert.SlackWebhookURL != "" {
		notifier = alert.NewSlackNotifier(cfg.Alert.SlackWebhookURL)
	}
	trackingBaseURL := cfg.Email.TrackingBaseURL
	if !cfg.Email.TrackingEnabled {
		trackingBaseURL = ""
	}
	dispatch := manager.NewDispatch(db, generator, emailDispatcher, callDispatcher, linkedinDispatcher, cfg.Email.FromAddress, trackingBaseURL, cfg.Email.ReplyToDomain, policies, oracle, log, metrics).WithNotifier(notifier)

	poller := manager.NewPoller(manager.Config{
		ScanInterval: cfg.Poller.ScanInterval,
		BatchSize:    cfg.Poller.BatchSize,
		Concurrency:  cfg.Poller.Concurrency,
		LeaseTTL:     cfg.Poller.LeaseTTL,
	}, db, oracle, tracker, dispatch, log, metrics)

	return &App{
		Store:     db,
		Oracle:    oracle,
		Tracker:   tracker,
		Scheduler: scheduler,
		Ingestor:  ingestor,
		Poller:    poller,
		Dispatch:  dispatch,
		Log:       log,
		Metrics:   metrics,
		redis:     redisClient,
	}, nil
}

// Close releases the App's backing connections.
func (a *App) Close() error {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.Log.Sync()
	return a.Store.Close()
}

// RunCampaign starts a new run of campaignID for companyID.
func (a *App) RunCampaign(ctx context.Context, companyID, campaignID int64) (*models.CampaignRun, error) {
	return a.Tracker.Start(ctx, companyID, campaignID)
}

// CancelRun cancels an in-progress run.
func (a *App) CancelRun(ctx context.Context, companyID, runID int64) error {
	return a.Tracker.Cancel(ctx, companyID, runID)
}

// GetRun fetches a run's current state.
func (a *App) GetRun(ctx context.Context, companyID, runID int64) (*models.CampaignRun, error) {
	return a.Tracker.Get(ctx, companyID, runID)
}

// UpsertThrottleSettings updates a company's per-channel admission rules.
func (a *App) UpsertThrottleSettings(ctx context.Context, t *models.ThrottleSettings) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid throttle settings: %w", err)
	}
	return a.Store.UpsertThrottleSettings(ctx, t)
}

// IngestWebhook reconciles one provider callback.
func (a *App) IngestWebhook(ctx context.Context, ev webhook.Event, rawPayload []byte, signature string) error {
	return a.Ingestor.Ingest(ctx, ev, rawPayload, signature)
}

// ProcessQueues runs one poller sweep across every active company and
// channel — the body of the `process-queues` CLI operation.
func (a *App) ProcessQueues(ctx context.Context) error {
	return a.Poller.Sweep(ctx)
}

// SendReminders runs one reminder-scheduler sweep.
func (a *App) SendReminders(ctx context.Context) error {
	return a.Scheduler.Sweep(ctx, time.Now())
}

// ReclaimStaleLeases returns any processing item past its lease expiry
// back to pending, for the `reclaim-stale-leases` CLI operation.
func (a *App) ReclaimStaleLeases(ctx context.Context) (int64, error) {
	return a.Store.ReleaseStaleLeases(ctx)
}
