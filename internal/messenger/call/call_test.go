package call

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
	err   error
}

func (f *fakeCreds) CallCredentialsFor(ctx context.Context, companyID int64) (Credentials, error) {
	return f.creds, f.err
}

func TestPlaceSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calls", r.URL.Path)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"call_id": "call-1"})
	}))
	defer srv.Close()

	creds := &fakeCreds{creds: Credentials{APIKey: "key-123", FromNumber: "+15551234567"}}
	d := NewDispatcher(creds, srv.URL, time.Second)

	res, err := d.Place(context.Background(), 1, Request{ToNumber: "+15557654321", Script: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "call-1", res.ProviderCallID)
}

func TestPlaceCredentialErrorIsAuthDisposition(t *testing.T) {
	creds := &fakeCreds{err: errors.New("no telephony config")}
	d := NewDispatcher(creds, "http://example.invalid", time.Second)

	_, err := d.Place(context.Background(), 1, Request{})
	require.Error(t, err)
	assert.Equal(t, errs.Auth, errs.DispositionOf(err))
}

func TestPlaceRateLimitedResponseIsRateLimitedDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	creds := &fakeCreds{creds: Credentials{APIKey: "key"}}
	d := NewDispatcher(creds, srv.URL, time.Second)

	_, err := d.Place(context.Background(), 1, Request{})
	require.Error(t, err)
	assert.Equal(t, errs.RateLimited, errs.DispositionOf(err))
}

func TestPlaceBadRequestIsPermanentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	creds := &fakeCreds{creds: Credentials{APIKey: "key"}}
	d := NewDispatcher(creds, srv.URL, time.Second)

	_, err := d.Place(context.Background(), 1, Request{})
	require.Error(t, err)
	assert.Equal(t, errs.Permanent, errs.DispositionOf(err))
}

func TestPlaceServerErrorIsRetryableDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	creds := &fakeCreds{creds: Credentials{APIKey: "key"}}
	d := NewDispatcher(creds, srv.URL, time.Second)

	_, err := d.Place(context.Background(), 1, Request{})
	require.Error(t, err)
	assert.Equal(t, errs.Retryable, errs.DispositionOf(err))
}

func TestPlaceCachesCredentials(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]string{"call_id": "c"})
	}))
	defer srv.Close()

	creds := &fakeCreds{creds: Credentials{APIKey: "key"}}
	d := NewDispatcher(creds, srv.URL, time.Second)

	_, err := d.Place(context.Background(), 1, Request{})
	require.NoError(t, err)

	creds.err = errors.New("should not be called again")
	_, err = d.Place(context.Background(), 1, Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
