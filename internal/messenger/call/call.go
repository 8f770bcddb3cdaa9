// Package call is the telephony channel dispatcher: it places an
// outbound AI-voice call through a provider HTTP API. New sibling to
// internal/messenger/email, grounded on the same per-company
// credential-cache-plus-circuit-breaker shape
// (internal/messenger/email's Dispatcher, itself adapted from
// listmonk's TenantEmailer), since listmonk never shipped a telephony
// channel for this pattern to generalize from directly.
package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/outreachforge/engine/internal/errs"
)

// Credentials is one company's telephony provider account.
type Credentials struct {
	APIKey     string
	FromNumber string
}

// CredentialSource resolves a company's telephony credentials.
type CredentialSource interface {
	CallCredentialsFor(ctx context.Context, companyID int64) (Credentials, error)
}

// Request is one outbound call placement.
type Request struct {
	ToNumber string
	Script   string // generated call script / opening line
	Headers  map[string]string
}

// Result is the provider's immediate placement acknowledgement; final
// outcome (duration, transcript, sentiment) arrives later via
// internal/webhook's call_completed event.
type Result struct {
	ProviderCallID string
}

// Dispatcher places calls on behalf of many companies.
type Dispatcher struct {
	creds      CredentialSource
	httpClient *http.Client
	baseURL    string

	mu       sync.RWMutex
	cache    map[int64]cachedCreds
	cacheTTL time.Duration

	breakerMu sync.Mutex
	breakers  map[int64]*gobreaker.CircuitBreaker
}

type cachedCreds struct {
	creds     Credentials
	expiresAt time.Time
}

func NewDispatcher(creds CredentialSource, baseURL string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		cache:      make(map[int64]cachedCreds),
		cacheTTL:   time.Hour,
		breakers:   make(map[int64]*gobreaker.CircuitBreaker),
	}
}

func (d *Dispatcher) credsFor(ctx context.Context, companyID int64) (Credentials, error) {
	d.mu.RLock()
	c, ok := d.cache[companyID]
	d.mu.RUnlock()
	if ok && time.Now().Before(c.expiresAt) {
		return c.creds, nil
	}

	cr, err := d.creds.CallCredentialsFor(ctx, companyID)
	if err != nil {
		return Credentials{}, errs.Classify(errs.Auth, fmt.Errorf("resolve call credentials: %w", err))
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
		Name:        fmt.Sprintf("call-company-%d", companyID),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 },
	})
	d.breakers[companyID] = b
	return b
}

// Place starts an outbound call on behalf of companyID.
func (d *Dispatcher) Place(ctx context.Context, companyID int64, req Request) (Result, error) {
	cr, err := d.credsFor(ctx, companyID)
	if err != nil {
		return Result{}, err
	}

	breaker := d.breakerFor(companyID)
	res, err := breaker.Execute(func() (any, error) {
		return d.place(ctx, cr, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Result{}, errs.Classify(errs.RateLimited, err)
		}
		return Result{}, err
	}
	return res.(Result), nil
}

func (d *Dispatcher) place(ctx context.Context, cr Credentials, req Request) (Result, error) {
	payload, _ := json.Marshal(map[string]string{
		"to":     req.ToNumber,
		"from":   cr.FromNumber,
		"script": req.Script,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/calls", bytes.NewReader(payload))
	if err != nil {
		return Result{}, errs.Classify(errs.DataIntegrity, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cr.APIKey)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

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
		return Result{}, errs.Classify(errs.Permanent, fmt.Errorf("invalid call request"))
	case resp.StatusCode >= 500:
		return Result{}, errs.Classify(errs.Retryable, fmt.Errorf("provider server error %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return Result{}, errs.Classify(errs.Retryable, fmt.Errorf("unexpected provider status %d", resp.StatusCode))
	}

	var out struct {
		CallID string `json:"call_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, errs.Classify(errs.DataIntegrity, err)
	}
	return Result{ProviderCallID: out.CallID}, nil
}
