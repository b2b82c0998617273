package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/clock"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameSettings(url string) models.PaymentSettings {
	return models.PaymentSettings{
		Provider:       models.ProviderFrame,
		Currency:       "EUR",
		GatewayURL:     url,
		GatewayToken:   "tok",
		CallbackURL:    "https://shop.example/api/v1/callbacks/frame",
		GatewayTimeout: time.Second,
	}
}

func TestNewReference(t *testing.T) {
	orderID := "3f2b8c1e-9d4a-4e7b-8a6c-1234567890ab"

	ref, err := NewReference(orderID, 25)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ref), 25)
	assert.True(t, strings.HasPrefix(ref, "3f2b8c1e9d4a4e7b-"))

	other, err := NewReference(orderID, 25)
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)

	short, err := NewReference(orderID, 12)
	require.NoError(t, err)
	assert.Len(t, short, 12)
}

func TestFrameCreateSession(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"id":"sess-123"}`))
	}))
	defer srv.Close()

	c := NewFrameClient(srv.Client())
	sess, err := c.CreateSession(context.Background(),
		SessionRequest{OrderID: "o-1", Reference: "ref-1", Amount: 15000}, frameSettings(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, "sess-123", sess.Handle)
	assert.Equal(t, "150.00", got["amount"])
	assert.Equal(t, "ref-1", got["reference"])
	assert.Equal(t, "tok", got["token"])
	assert.Equal(t, "https://shop.example/api/v1/callbacks/frame", got["callbackUrl"])
}

func TestFrameCreateSessionErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			want:    apperr.ErrGatewayProtocol,
		},
		{
			name:    "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) },
			want:    apperr.ErrGatewayProtocol,
		},
		{
			name:    "missing id",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"id":""}`)) },
			want:    apperr.ErrGatewayProtocol,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: apperr.ErrGatewayUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			settings := frameSettings(srv.URL)
			settings.GatewayTimeout = 100 * time.Millisecond

			_, err := NewFrameClient(srv.Client()).CreateSession(context.Background(),
				SessionRequest{Reference: "r", Amount: 100}, settings)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFrameCreateSessionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewFrameClient(nil).CreateSession(context.Background(),
		SessionRequest{Reference: "r", Amount: 100}, frameSettings(url))
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	assert.True(t, apperr.Retryable(err))
}

func TestIssueReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "secret", req["key"])
		assert.Equal(t, "99.90", req["amount"])
		w.Write([]byte(`{"entity":"12345","reference":"123456789"}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewReferenceIssuer(srv.Client(), clock.NewFake(now))
	settings := models.PaymentSettings{
		ReferenceURL:      srv.URL,
		ReferenceKey:      "secret",
		ReferenceValidity: 3 * 24 * time.Hour,
		GatewayTimeout:    time.Second,
	}

	ref, err := issuer.IssueReference(context.Background(), ReferenceRequest{OrderID: "o-1", Amount: 9990}, settings)
	require.NoError(t, err)
	assert.Equal(t, "12345", ref.Entity)
	assert.Equal(t, "123456789", ref.Reference)
	assert.Equal(t, now.Add(72*time.Hour), ref.ExpiresAt)
}

func TestIssueReferenceMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entity":"12345"}`))
	}))
	defer srv.Close()

	_, err := NewReferenceIssuer(srv.Client(), nil).IssueReference(context.Background(),
		ReferenceRequest{OrderID: "o-1", Amount: 100}, models.PaymentSettings{ReferenceURL: srv.URL})
	assert.ErrorIs(t, err, apperr.ErrGatewayProtocol)
}
