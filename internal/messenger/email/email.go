// Package email is the email channel dispatcher. Generalizes
// listmonk's per-tenant SMTP credential cache
// (internal/messenger/email/tenant_smtp.go's TenantEmailer) from a
// tenant-keyed cache-with-fallback wrapping listmonk's SMTP Emailer into
// a self-contained sender with its own Server/Message types and a circuit
// breaker per company. It sends the HTML it is given as is: the
// open-tracking pixel is added by internal/manager before the send, and
// no unsubscribe link is rendered.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/outreachforge/engine/internal/errs"
)

// Server is one SMTP endpoint, defaulted the same way listmonk's
// createEmailerFromConfig defaulted listmonk's SMTPConf entries.
type Server struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool

	MaxConns    int
	IdleTimeout time.Duration
	WaitTimeout time.Duration
}

func (s *Server) applyDefaults() {
	if s.Port == 0 {
		s.Port = 587
	}
	if s.MaxConns == 0 {
		s.MaxConns = 10
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 15 * time.Second
	}
	if s.WaitTimeout == 0 {
		s.WaitTimeout = 5 * time.Second
	}
}

func (s Server) addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	// ReplyTo routes replies back through a log-keyed address so an
	// inbound reply webhook can attribute the reply to its log row.
	ReplyTo string
	// Headers carries correlation identifiers, generalizing
	// listmonk's EmailHeaderCampaignUUID/EmailHeaderSubscriberUUID
	// headers (internal/manager/manager.go worker()) into arbitrary
	// caller-supplied headers. internal/manager's Dispatch sets none;
	// Send itself adds only a Message-ID.
	Headers map[string]string
}

// CredentialSource resolves a company's SMTP server, the generalization
// of listmonk's loadTenantSMTPConfig query against tenant_settings.
type CredentialSource interface {
	SMTPServerFor(ctx context.Context, companyID int64) (Server, error)
}

// Dispatcher sends email on behalf of many companies, caching each
// company's resolved Server and wrapping sends in a circuit breaker.
type Dispatcher struct {
	creds CredentialSource

	mu        sync.RWMutex
	cache     map[int64]cachedServer
	cacheTTL  time.Duration
	breakers  map[int64]*gobreaker.CircuitBreaker
	breakerMu sync.Mutex

	sendFunc func(Server, Message) error // overridden in tests
}

type cachedServer struct {
	server    Server
	expiresAt time.Time
}

func NewDispatcher(creds CredentialSource, cacheTTL time.Duration) *Dispatcher {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Dispatcher{
		creds:    creds,
		cache:    make(map[int64]cachedServer),
		cacheTTL: cacheTTL,
		breakers: make(map[int64]*gobreaker.CircuitBreaker),
		sendFunc: sendSMTP,
	}
}

func (d *Dispatcher) serverFor(ctx context.Context, companyID int64) (Server, error) {
	d.mu.RLock()
	c, ok := d.cache[companyID]
	d.mu.RUnlock()
	if ok && time.Now().Before(c.expiresAt) {
		return c.server, nil
	}

	srv, err := d.creds.SMTPServerFor(ctx, companyID)
	if err != nil {
		return Server{}, errs.Classify(errs.Auth, fmt.Errorf("resolve smtp credentials: %w", err))
	}
	srv.applyDefaults()

	d.mu.Lock()
	d.cache[companyID] = cachedServer{server: srv, expiresAt: time.Now().Add(d.cacheTTL)}
	d.mu.Unlock()
	return srv, nil
}

func (d *Dispatcher) breakerFor(companyID int64) *gobreaker.CircuitBreaker {
	d.breakerMu.Lock()
	defer d.breakerMu.Unlock()
	if b, ok := d.breakers[companyID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("email-company-%d", companyID),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	d.breakers[companyID] = b
	return b
}

// InvalidateCache forces a reload of a company's SMTP credentials on
// the next send, mirroring listmonk's InvalidateCache.
func (d *Dispatcher) InvalidateCache(companyID int64) {
	d.mu.Lock()
	delete(d.cache, companyID)
	d.mu.Unlock()
}

// Send dispatches msg on behalf of companyID, through that company's
// circuit breaker.
// Send dispatches msg through companyID's SMTP server and returns the
// Message-ID it stamped on the outgoing mail — generated here (SMTP has
// no provider-assigned id of its own to report back, unlike the call and
// LinkedIn transports) so every sent email still has a correlation id
// for Log.ProviderMessageID.
func (d *Dispatcher) Send(ctx context.Context, companyID int64, msg Message) (string, error) {
	srv, err := d.serverFor(ctx, companyID)
	if err != nil {
		return "", err
	}

	if msg.Headers == nil {
		msg.Headers = make(map[string]string, 1)
	}
	messageID := fmt.Sprintf("<%s@outreach>", uuid.NewString())
	msg.Headers["Message-ID"] = messageID

	breaker := d.breakerFor(companyID)
	_, err = breaker.Execute(func() (any, error) {
		return nil, d.sendFunc(srv, msg)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", errs.Classify(errs.RateLimited, err)
		}
		return "", errs.Classify(errs.Retryable, err)
	}
	return messageID, nil
}

func sendSMTP(srv Server, msg Message) error {
	var auth smtp.Auth
	if srv.Username != "" {
		auth = smtp.PlainAuth("", srv.Username, srv.Password, srv.Host)
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", msg.From, msg.To, msg.Subject)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&body, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		fmt.Fprintf(&body, "%s: %s\r\n", k, v)
	}
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n")
	body.WriteString(msg.HTML)

	if srv.TLS {
		return sendSMTPTLS(srv, auth, msg, body.Bytes())
	}
	return smtp.SendMail(srv.addr(), auth, msg.From, []string{msg.To}, body.Bytes())
}

func sendSMTPTLS(srv Server, auth smtp.Auth, msg Message, body []byte) error {
	conn, err := tls.Dial("tcp", srv.addr(), &tls.Config{ServerName: srv.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, srv.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(msg.From); err != nil {
		return err
	}
	if err := client.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
