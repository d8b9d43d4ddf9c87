package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestClientSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"message_id":"wamid.123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 5*time.Second, zap.NewNop())
	id, err := c.Send(context.Background(), Payload{Type: "text", Recipient: "r1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.123", id)
}

func TestClientSendProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"invalid_recipient","message":"unknown number"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second, zap.NewNop())
	_, err := c.Send(context.Background(), Payload{Type: "text", Recipient: "bogus"})
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "invalid_recipient", perr.Code)
	assert.Equal(t, http.StatusBadRequest, perr.HTTPStatus)
	assert.Equal(t, "unknown number", perr.Message)
}

func TestClientSendUnparseableErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`upstream timeout`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second, zap.NewNop())
	_, err := c.Send(context.Background(), Payload{Type: "text", Recipient: "r1"})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "unknown", perr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, perr.HTTPStatus)
}

func TestClientSendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	_, err := c.Send(context.Background(), Payload{Type: "text", Recipient: "r1"})
	require.Error(t, err)

	var perr *Error
	assert.False(t, errors.As(err, &perr), "network failures must not be typed provider errors")
}
