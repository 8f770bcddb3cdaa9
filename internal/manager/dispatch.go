package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	null "gopkg.in/volatiletech/null.v6"

	"github.com/outreachforge/engine/internal/alert"
	"github.com/outreachforge/engine/internal/content"
	"github.com/outreachforge/engine/internal/errs"
	"github.com/outreachforge/engine/internal/messenger/call"
	"github.com/outreachforge/engine/internal/messenger/email"
	"github.com/outreachforge/engine/internal/messenger/linkedin"
	"github.com/outreachforge/engine/internal/models"
	"github.com/outreachforge/engine/internal/obs"
	"github.com/outreachforge/engine/internal/ratelimit"
	"github.com/outreachforge/engine/internal/retry"
)

// EmailSender, CallPlacer and LinkedInSender are the channel transports
// Dispatch fans out to; internal/messenger/{email,call,linkedin}'s
// Dispatcher types each satisfy one.
type EmailSender interface {
	Send(ctx context.Context, companyID int64, msg email.Message) (string, error)
}

type CallPlacer interface {
	Place(ctx context.Context, companyID int64, req call.Request) (call.Result, error)
}

type LinkedInSender interface {
	Send(ctx context.Context, companyID int64, req linkedin.Request) (linkedin.Result, error)
}

// Dispatch is the shared resolve -> generate content -> transport ->
// record skeleton every channel runs through, generalizing
// listmonk's per-messenger Push() call in manager.worker()
// (internal/manager/manager.go) into a channel-agnostic pipeline with
// typed-disposition retry handling instead of a single retryable bool.
type Dispatch struct {
	store          Store
	generator      content.Generator
	email          EmailSender
	call           CallPlacer
	linkedin       LinkedInSender
	fromAddress    string
	trackingBaseURL string
	replyToDomain  string
	policies       map[models.Channel]retry.Policy
	log            *obs.Logger
	metrics        *obs.Metrics
	oracle         *ratelimit.Oracle
	notifier       alert.Notifier
	now            func() time.Time
}

func NewDispatch(store Store, generator content.Generator, email EmailSender, call CallPlacer, linkedin LinkedInSender, fromAddress, trackingBaseURL, replyToDomain string, policies map[models.Channel]retry.Policy, oracle *ratelimit.Oracle, log *obs.Logger, metrics *obs.Metrics) *Dispatch {
	if policies == nil {
		policies = retry.DefaultPolicies()
	}
	return &Dispatch{
		store:           store,
		generator:       generator,
		email:           email,
		call:            call,
		linkedin:        linkedin,
		fromAddress:     fromAddress,
		trackingBaseURL: trackingBaseURL,
		replyToDomain:   replyToDomain,
		policies:        policies,
		log:             log,
		metrics:         metrics,
		oracle:          oracle,
		notifier:        alert.Nop{},
		now:             time.Now,
	}
}

// WithNotifier swaps the operator-alert sink; a Dispatch built by
// NewDispatch discards alerts via alert.Nop until one is set.
func (d *Dispatch) WithNotifier(n alert.Notifier) *Dispatch {
	d.notifier = n
	return d
}

// Process carries one leased queue item through resolution, content
// generation, transport and outcome recording. Errors are handled
// internally (classified, retried or terminated) and never returned to
// the caller, mirroring listmonk's worker() goroutine which logs and
// continues rather than propagating send failures up the pipe.
func (d *Dispatch) Process(ctx context.Context, item *models.QueueItem) {
	now := d.now()
	logger := d.log.WithCompany(item.CompanyID).WithItem(item.ID, string(item.Channel))
	companyLabel := fmt.Sprintf("%d", item.CompanyID)

	lead, campaign, sendErr := d.resolve(ctx, item)
	if sendErr == nil {
		sendErr = d.send(ctx, item, lead, campaign)
	}

	if sendErr == nil {
		if d.metrics != nil {
			d.metrics.Sent.WithLabelValues(companyLabel, string(item.Channel)).Inc()
		}
		if err := d.store.Terminate(ctx, item.ID, models.QueueStatusSent, nil); err != nil {
			logger.Errorw("terminate sent item failed", "error", err)
		}
		if item.RunID.Valid {
			if err := d.store.IncrementLeadsProcessed(ctx, item.RunID.Int64); err != nil {
				logger.Errorw("increment leads processed failed", "error", err)
			}
		}
		if d.oracle != nil {
			d.oracle.RecordSent(ctx, item.CompanyID, item.Channel, now)
		}
		return
	}

	if errors.Is(sendErr, linkedin.ErrInviteCapReached) {
		next := nextDayStart(now)
		if err := d.store.Requeue(ctx, item.ID, item.RetryCount, next, sendErr); err != nil {
			logger.Errorw("requeue invite-cap item failed", "error", err)
		}
		return
	}

	policy := d.policies[item.Channel]
	decision := retry.Decide(policy, item, sendErr, now)

	if decision.Terminate {
		if d.metrics != nil {
			d.metrics.Failed.WithLabelValues(companyLabel, string(item.Channel)).Inc()
		}
		if err := d.store.Terminate(ctx, item.ID, decision.NextStatus, sendErr); err != nil {
			logger.Errorw("terminate failed item failed", "error", err)
		}
		logger.Warnw("item terminated", "disposition", errs.DispositionOf(sendErr).String(), "error", sendErr)
		if errs.DispositionOf(sendErr) == errs.Auth {
			if err := d.notifier.Notify(ctx, alert.Alert{CompanyID: item.CompanyID, Channel: string(item.Channel), Reason: sendErr.Error()}); err != nil {
				logger.Errorw("operator alert delivery failed", "error", err)
			}
		}
		return
	}

	if d.metrics != nil {
		d.metrics.Retried.WithLabelValues(companyLabel, string(item.Channel)).Inc()
		if errs.DispositionOf(sendErr) == errs.RateLimited {
			d.metrics.RateLimitWaits.WithLabelValues(companyLabel, string(item.Channel)).Inc()
		}
	}
	if err := d.store.Requeue(ctx, item.ID, decision.RetryCount, decision.NextAt, sendErr); err != nil {
		logger.Errorw("requeue failed item failed", "error", err)
	}
}

// nextDayStart returns midnight (in t's location) on the day after t,
// the requeue target once a company's daily LinkedIn invitation cap is
// hit — a fresh day resets the provider-side quota, retrying sooner
// would just hit the same cap again.
func nextDayStart(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd+1, 0, 0, 0, 0, t.Location())
}

func (d *Dispatch) resolve(ctx context.Context, item *models.QueueItem) (*models.Lead, *models.Campaign, error) {
	campaign, err := d.store.GetCampaign(ctx, item.CompanyID, item.CampaignID)
	if err != nil {
		return nil, nil, errs.Classify(errs.DataIntegrity, fmt.Errorf("resolve campaign: %w", err))
	}

	lead, err := d.store.GetLead(ctx, item.CompanyID, item.LeadID)
	if err != nil {
		return nil, nil, errs.Classify(errs.DataIntegrity, fmt.Errorf("resolve lead: %w", err))
	}
	if !lead.HasContact(item.Channel) {
		return nil, nil, errs.Classify(errs.Permanent, fmt.Errorf("lead %d has no usable %s contact", lead.ID, item.Channel))
	}
	if item.Channel == models.ChannelEmail && (lead.EmailBounced || lead.Unsubscribed) {
		return nil, nil, errs.Classify(errs.Permanent, fmt.Errorf("lead %d is bounced or unsubscribed", lead.ID))
	}

	return lead, campaign, nil
}

// send resolves the company, generates the message body, writes the log
// row, then performs the transport call. The log row is created before
// the transport call (not after) so its id is available to embed in the
// outgoing artifact itself: the open-tracking pixel and the reply-to
// address both key off it, and an inbound reply or pixel hit has no
// other way to find its way back to a log. A reminder-stage item
// reuses its parent log instead of creating a new one, recording the
// reminder body as an additional log_details row against that log.
func (d *Dispatch) send(ctx context.Context, item *models.QueueItem, lead *models.Lead, campaign *models.Campaign) error {
	company, err := d.store.GetCompany(ctx, item.CompanyID)
	if err != nil {
		return errs.Classify(errs.DataIntegrity, fmt.Errorf("resolve company: %w", err))
	}

	req := content.Request{
		Channel:     string(item.Channel),
		Strategy:    item.Strategy.String,
		LeadName:    leadDisplayName(lead),
		ProductName: campaign.Templates[item.Channel],
		CompanyName: company.Name,
	}
	generated, err := d.generator.Generate(ctx, req)
	if err != nil {
		return errs.Classify(errs.Retryable, fmt.Errorf("generate content: %w", err))
	}

	isReminder := item.ParentLogID.Valid
	var logID int64
	if isReminder {
		logID = item.ParentLogID.Int64
	} else {
		logRow := &models.Log{
			CompanyID:  item.CompanyID,
			CampaignID: item.CampaignID,
			LeadID:     item.LeadID,
			Channel:    item.Channel,
			SentAt:     d.now(),
			Content:    generated.Body,
		}
		id, err := d.store.CreateLog(ctx, logRow)
		if err != nil {
			return errs.Classify(errs.Retryable, fmt.Errorf("create log: %w", err))
		}
		logID = id
	}

	var providerID string
	switch item.Channel {
	case models.ChannelEmail:
		id, err := d.email.Send(ctx, item.CompanyID, email.Message{
			From:    d.fromAddress,
			To:      lead.Email.String,
			Subject: generated.Subject,
			HTML:    d.renderEmailBody(generated.Body, logID),
			ReplyTo: d.replyToFor(logID),
		})
		if err != nil {
			return err
		}
		providerID = id
	case models.ChannelCall:
		res, err := d.call.Place(ctx, item.CompanyID, call.Request{ToNumber: lead.Phone.String, Script: generated.Body})
		if err != nil {
			return err
		}
		providerID = res.ProviderCallID
	case models.ChannelLinkedIn:
		res, err := d.linkedin.Send(ctx, item.CompanyID, linkedin.Request{
			LeadURN:               lead.LinkedInID.String,
			NetworkDistance:       lead.NetworkDistance,
			Body:                  generated.Body,
			Note:                  generated.Body,
			HasInvitationTemplate: campaign.Templates[models.ChannelLinkedIn] != "",
		})
		if err != nil {
			return err
		}
		providerID = res.ProviderActionID
	default:
		return errs.Classify(errs.Permanent, fmt.Errorf("unknown channel %q", item.Channel))
	}

	if err := d.store.UpdateLogProviderMessageID(ctx, logID, providerID); err != nil {
		d.log.WithCompany(item.CompanyID).Errorw("update log provider message id failed", "error", err)
	}

	detail := &models.LogDetail{
		LogID:      logID,
		SenderType: models.LogDetailSenderAssistant,
		Body:       generated.Body,
	}
	if isReminder {
		detail.ReminderType = null.StringFrom(item.Stage)
	}
	if err := d.store.CreateLogDetail(ctx, detail); err != nil {
		d.log.WithCompany(item.CompanyID).Errorw("create log detail failed", "error", err)
	}

	if isReminder {
		if err := d.store.UpdateLogReminder(ctx, logID, item.Stage); err != nil {
			d.log.WithCompany(item.CompanyID).Errorw("update log reminder failed", "error", err)
		}
	}

	return nil
}

// renderEmailBody appends a 1x1 open-tracking pixel referencing logID;
// a bare body when trackingBaseURL is unconfigured.
func (d *Dispatch) renderEmailBody(body string, logID int64) string {
	if d.trackingBaseURL == "" {
		return body
	}
	return fmt.Sprintf(`%s<img src="%s/px/%d.gif" width="1" height="1" alt="" style="display:none" />`, body, d.trackingBaseURL, logID)
}

// replyToFor builds a log-keyed reply-to address so an inbound reply
// webhook can attribute the reply back to this log row.
func (d *Dispatch) replyToFor(logID int64) string {
	if d.replyToDomain == "" {
		return ""
	}
	return fmt.Sprintf("log-%d@%s", logID, d.replyToDomain)
}

func leadDisplayName(l *models.Lead) string {
	if l.Email.Valid && l.Email.String != "" {
		return l.Email.String
	}
	return fmt.Sprintf("lead-%d", l.ID)
}
