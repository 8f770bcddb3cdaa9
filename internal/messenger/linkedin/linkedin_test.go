package linkedin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachforge/engine/internal/errs"
)

type fakeCreds struct {
	creds Credentials
}

func (f *fakeCreds) LinkedInCredentialsFor(ctx context.Context, companyID int64) (Credentials, error) {
	return f.creds, nil
}

type fakeBudget struct {
	sentToday int
}

func (f *fakeBudget) InvitesSentToday(ctx context.Context, companyID int64) (int, error) {
	return f.sentToday, nil
}

func TestActionForFirstDegreeIsMessage(t *testing.T) {
	assert.Equal(t, ActionMessage, ActionFor(1))
}

func TestActionForSecondAndThirdDegreeIsInvitation(t *testing.T) {
	assert.Equal(t, ActionInvitation, ActionFor(2))
	assert.Equal(t, ActionInvitation, ActionFor(3))
}

func TestSendFirstDegreeHitsMessagesEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"id": "msg-1"})
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeCreds{creds: Credentials{AccessToken: "t"}}, &fakeBudget{}, srv.URL, time.Millisecond, 20)
	res, err := d.Send(context.Background(), 1, Request{LeadURN: "urn:1", NetworkDistance: 1, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, ActionMessage, res.Action)
	assert.Equal(t, "/messages", gotPath)
}

func TestSendSecondDegreeHitsInvitationsEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"id": "inv-1"})
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeCreds{creds: Credentials{AccessToken: "t"}}, &fakeBudget{}, srv.URL, time.Millisecond, 20)
	res, err := d.Send(context.Background(), 1, Request{LeadURN: "urn:2", NetworkDistance: 2, Note: "let's connect", HasInvitationTemplate: true})
	require.NoError(t, err)
	assert.Equal(t, ActionInvitation, res.Action)
	assert.Equal(t, "/invitations", gotPath)
}

func TestSendFallsBackToInMailWhenNoInvitationTemplate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"id": "im-1"})
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeCreds{creds: Credentials{AccessToken: "t"}}, &fakeBudget{}, srv.URL, time.Millisecond, 20)
	res, err := d.Send(context.Background(), 1, Request{LeadURN: "urn:2", NetworkDistance: 3, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, ActionInMail, res.Action)
	assert.Equal(t, "/inmail", gotPath)
}

func TestSendReturnsErrInviteCapReachedWhenBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "inv-1"})
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeCreds{creds: Credentials{AccessToken: "t"}}, &fakeBudget{sentToday: 20}, srv.URL, time.Millisecond, 20)
	_, err := d.Send(context.Background(), 1, Request{LeadURN: "urn:2", NetworkDistance: 3, Note: "let's connect", HasInvitationTemplate: true})
	require.ErrorIs(t, err, ErrInviteCapReached)
}

func TestSendEnforcesIntraSendDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "x"})
	}))
	defer srv.Close()

	delay := 50 * time.Millisecond
	d := NewDispatcher(&fakeCreds{creds: Credentials{AccessToken: "t"}}, &fakeBudget{}, srv.URL, delay, 20)

	start := time.Now()
	_, err := d.Send(context.Background(), 1, Request{LeadURN: "urn:1", NetworkDistance: 1})
	require.NoError(t, err)
	_, err = d.Send(context.Background(), 1, Request{LeadURN: "urn:1", NetworkDistance: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), delay)
}

type erroringCreds struct{}

func (erroringCreds) LinkedInCredentialsFor(ctx context.Context, companyID int64) (Credentials, error) {
	return Credentials{}, errors.New("no linkedin session")
}

func TestSendCredentialErrorIsAuthDisposition(t *testing.T) {
	d := NewDispatcher(erroringCreds{}, &fakeBudget{}, "http://example.invalid", time.Millisecond, 20)

	_, err := d.Send(context.Background(), 1, Request{})
	require.Error(t, err)
	assert.Equal(t, errs.Auth, errs.DispositionOf(err))
}
