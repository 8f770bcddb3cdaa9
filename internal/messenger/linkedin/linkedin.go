// Package linkedin is the LinkedIn channel dispatcher. First-degree
// connections get a direct message; second/third-degree leads get an
// invitation (with an optional note) when the campaign has an invitation
// template, and an InMail when it does not. New sibling to
// internal/messenger/email and internal/messenger/call, grounded on the
// same per-company credential-cache-plus-circuit-breaker shape, since
// listmonk never shipped a LinkedIn channel to generalize from
// directly.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/outreachforge/engine/internal/errs"
)

// Action is the sub-action this send resolves to, keyed off the
// lead's network distance.
type Action string

const (
	ActionMessage    Action = "message"    // 1st-degree direct message
	ActionInvitation Action = "invitation" // 2nd/3rd-degree connection request
	ActionInMail     Action = "inmail"     // 2nd/3rd-degree, no invitation template
)

// ActionFor resolves the sub-action for a lead's network distance.
// distance 1 is a direct message; 2/3 default to an invitation.
// Dispatcher.Send turns that invitation into an InMail when the request
// has no invitation template, and returns ErrInviteCapReached (with no
// InMail fallback) once the daily invitation cap is used up.
func ActionFor(networkDistance int) Action {
	if networkDistance <= 1 {
		return ActionMessage
	}
	return ActionInvitation
}

// Credentials is one company's LinkedIn account/session.
type Credentials struct {
	AccessToken string
	AccountURN  string
}

// CredentialSource resolves a company's LinkedIn credentials.
type CredentialSource interface {
	LinkedInCredentialsFor(ctx context.Context, companyID int64) (Credentials, error)
}

// InviteBudget tracks how many invitations a company has sent today,
// so the dispatcher can refuse further invitations once the daily cap
// is hit.
type InviteBudget interface {
	InvitesSentToday(ctx context.Context, companyID int64) (int, error)
}

// Request is one outbound LinkedIn send.
type Request struct {
	LeadURN         string
	NetworkDistance int
	Body            string
	Note            string // short invitation note, used only for ActionInvitation
	// HasInvitationTemplate reports whether the campaign has an
	// invitation-note template configured; without one an invitation
	// degrades straight to InMail regardless of remaining budget.
	HasInvitationTemplate bool
}

// ErrInviteCapReached signals that the company has exhausted its daily
// invitation quota. internal/manager's Dispatch requeues the item for
// midnight of the next calendar day rather than fall back to another
// action.
var ErrInviteCapReached = errors.New("linkedin: daily invitation cap reached")

type Result struct {
	Action           Action
	ProviderActionID string
}

// Dispatcher sends LinkedIn messages/invitations on behalf of many
// companies, pacing sends with an intra-send delay and respecting a
// daily invitation cap.
type Dispatcher struct {
	creds          CredentialSource
	budget         InviteBudget
	httpClient     *http.Client
	baseURL        string
	intraSendDelay time.Duration
	maxInvitesDay  int

	mu       sync.RWMutex
	cache    map[int64]cachedCreds
	cacheTTL time.Duration

	lastSendMu sync.Mutex
	lastSendAt map[int64]time.Time

	breakerMu sync.Mutex
	breakers  map[int64]*gobreaker.CircuitBreaker
}

type cachedCreds struct {
	creds     Credentials
	expiresAt time.Time
}

func NewDispatcher(creds CredentialSource, budget InviteBudget, baseURL string, intraSendDelay time.Duration, maxInvitesPerDay int) *Dispatcher {
	if intraSendDelay <= 0 {
		intraSendDelay = 20 * time.Second
	}
	return &Dispatcher{
		creds:          creds,
		budget:         budget,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseURL:        baseURL,
		intraSendDelay: intraSendDelay,
		maxInvitesDay:  maxInvitesPerDay,
		cache:          make(map[int64]cachedCreds),
		cacheTTL:       time.Hour,
		lastSendAt:     make(map[int64]time.Time),
		breakers:       make(map[int64]*gobreaker.CircuitBreaker),
	}
}

func (d *Dispatcher) credsFor(ctx context.Context, companyID int64) (Credentials, error) {
	d.mu.RLock()
	c, ok := d.cache[companyID]
	d.mu.RUnlock()
	if ok && time.Now().Before(c.expiresAt) {
		return c.creds, nil
	}

	cr, err := d.creds.LinkedInCredentialsFor(ctx, companyID)
	if err != nil {
		return Credentials{}, errs.Classify(errs.Auth, fmt.Errorf("resolve linkedin credentials: %w", err))
	}

	d.mu.Lock()
	d.cache[companyID] = cachedCreds{creds: cr, expiresAt: time.Now().Add(d.cacheTTL)}
	d.mu.Unlock()
	return cr, nil
}

func (d *Dispatcher) breakerFor(companyID int64) *gobreaker.CircuitBreaker {
	d.breakerMu.Lock()
	defer d.breakerMu.Unlock()
	if b, ok := d.breakers[companyID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("linkedin-company-%d", companyID),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 },
	})
	d.breakers[companyID] = b
	return b
}

// waitForPacing blocks until at least intraSendDelay has elapsed since
// this company's last LinkedIn send, since the platform penalizes
// bursty automated activity.
func (d *Dispatcher) waitForPacing(ctx context.Context, companyID int64) error {
	d.lastSendMu.Lock()
	last, ok := d.lastSendAt[companyID]
	d.lastSendMu.Unlock()
	if !ok {
		return nil
	}

	wait := d.intraSendDelay - time.Since(last)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Dispatcher) markSent(companyID int64) {
	d.lastSendMu.Lock()
	d.lastSendAt[companyID] = time.Now()
	d.lastSendMu.Unlock()
}

// resolveAction picks the sub-action for req. An invitation without a
// note template degrades to InMail; one with a template instead returns
// ErrInviteCapReached once the company has hit its daily invitation cap,
// leaving the decision to requeue for the next day to the caller.
func (d *Dispatcher) resolveAction(ctx context.Context, companyID int64, req Request) (Action, error) {
	action := ActionFor(req.NetworkDistance)
	if action != ActionInvitation {
		return action, nil
	}
	if !req.HasInvitationTemplate {
		return ActionInMail, nil
	}
	if d.maxInvitesDay <= 0 || d.budget == nil {
		return action, nil
	}

	sentToday, err := d.budget.InvitesSentToday(ctx, companyID)
	if err != nil {
		return "", errs.Classify(errs.Retryable, fmt.Errorf("check invite budget: %w", err))
	}
	if sentToday >= d.maxInvitesDay {
		return "", ErrInviteCapReached
	}
	return action, nil
}

// Send dispatches req on behalf of companyID, choosing the sub-action
// from the lead's network distance and the company's remaining
// invitation budget, then pacing the actual HTTP call behind the
// configured intra-send delay.
func (d *Dispatcher) Send(ctx context.Context, companyID int64, req Request) (Result, error) {
	cr, err := d.credsFor(ctx, companyID)
	if err != nil {
		return Result{}, err
	}

	action, err := d.resolveAction(ctx, companyID, req)
	if err != nil {
		return Result{}, err
	}

	if err := d.waitForPacing(ctx, companyID); err != nil {
		return Result{}, errs.Classify(errs.Retryable, err)
	}

	breaker := d.breakerFor(companyID)
	res, err := breaker.Execute(func() (any, error) {
		return d.send(ctx, cr, action, req)
	})
	d.markSent(companyID)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Result{}, errs.Classify(errs.RateLimited, err)
		}
		return Result{}, err
	}
	return res.(Result), nil
}

func (d *Dispatcher) send(ctx context.Context, cr Credentials, action Action, req Request) (Result, error) {
	var path string
	payload := map[string]string{
		"recipient": req.LeadURN,
		"sender":    cr.AccountURN,
	}
	switch action {
	case ActionMessage:
		path = "/messages"
		payload["body"] = req.Body
	case ActionInvitation:
		path = "/invitations"
		payload["note"] = req.Note
	case ActionInMail:
		path = "/inmail"
		payload["body"] = req.Body
	default:
		return Result{}, errs.Classify(errs.Permanent, fmt.Errorf("unknown linkedin action %q", action))
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, errs.Classify(errs.DataIntegrity, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cr.AccessToken)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, errs.Classify(errs.Retryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, errs.Classify(errs.RateLimited, fmt.Errorf("provider rate limited"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, errs.Classify(errs.Auth, fmt.Errorf("provider auth rejected"))
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return Result{}, errs.Classify(errs.Permanent, fmt.Errorf("invalid linkedin request"))
	case resp.StatusCode >= 500:
		return Result{}, errs.Classify(errs.Retryable, fmt.Errorf("provider server error %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return Result{}, errs.Classify(errs.Retryable, fmt.Errorf("unexpected provider status %d", resp.StatusCode))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, errs.Classify(errs.DataIntegrity, err)
	}
	return Result{Action: action, ProviderActionID: out.ID}, nil
}
