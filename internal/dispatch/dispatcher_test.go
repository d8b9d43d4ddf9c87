package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"SendWave/internal/models"
	"SendWave/internal/provider"
)

// scriptedSender returns one scripted response per call, in order.
type scriptedSender struct {
	responses []scriptedResponse
	calls     []provider.Payload
}

type scriptedResponse struct {
	id  string
	err error
}

func (s *scriptedSender) Send(_ context.Context, p provider.Payload) (string, error) {
	s.calls = append(s.calls, p)
	if len(s.responses) == 0 {
		return "", errors.New("unexpected call")
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r.id, r.err
}

func newTestDispatcher(s provider.Sender, maxRetries int) *Dispatcher {
	d := New(s, rate.NewLimiter(rate.Inf, 1), zap.NewNop(), maxRetries)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func textJob() *models.Job {
	return &models.Job{ID: 7, MessageType: models.MessageText, Message: "hello"}
}

func TestSendSuccessFirstAttempt(t *testing.T) {
	s := &scriptedSender{responses: []scriptedResponse{{id: "m-1"}}}
	d := newTestDispatcher(s, 2)

	res := d.Send(context.Background(), textJob(), models.Recipient{ID: "r1"})

	assert.True(t, res.Success)
	assert.Equal(t, "m-1", res.ProviderMessageID)
	assert.Equal(t, 0, res.Retries)
	assert.Len(t, s.calls, 1)
}

func TestSendTransientThenSuccess(t *testing.T) {
	s := &scriptedSender{responses: []scriptedResponse{
		{err: &provider.Error{Code: "rate_limited", HTTPStatus: 429}},
		{id: "m-2"},
	}}
	d := newTestDispatcher(s, 2)

	res := d.Send(context.Background(), textJob(), models.Recipient{ID: "r1"})

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, "m-2", res.ProviderMessageID)
}

func TestSendPermanentErrorNoRetry(t *testing.T) {
	s := &scriptedSender{responses: []scriptedResponse{
		{err: &provider.Error{Code: "invalid_recipient", HTTPStatus: 400, Message: "unknown number"}},
	}}
	d := newTestDispatcher(s, 2)

	res := d.Send(context.Background(), textJob(), models.Recipient{ID: "bogus"})

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Retries)
	assert.Equal(t, "invalid_recipient", res.ErrorCode)
	assert.Len(t, s.calls, 1)
}

func TestSendRetryCapExhausted(t *testing.T) {
	transient := &provider.Error{Code: "server_busy", HTTPStatus: 503}
	s := &scriptedSender{responses: []scriptedResponse{
		{err: transient}, {err: transient}, {err: transient},
	}}
	d := newTestDispatcher(s, 2)

	res := d.Send(context.Background(), textJob(), models.Recipient{ID: "r1"})

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, "server_busy", res.ErrorCode)
	assert.Len(t, s.calls, 3)
}

func TestSendNetworkErrorCode(t *testing.T) {
	s := &scriptedSender{responses: []scriptedResponse{
		{err: errors.New("dial tcp: connection refused")},
		{err: errors.New("dial tcp: connection refused")},
		{err: errors.New("dial tcp: connection refused")},
	}}
	d := newTestDispatcher(s, 2)

	res := d.Send(context.Background(), textJob(), models.Recipient{ID: "r1"})

	assert.False(t, res.Success)
	assert.Equal(t, "network", res.ErrorCode)
}

func TestSendCompositeFallback(t *testing.T) {
	job := &models.Job{
		ID:          9,
		MessageType: models.MessageButtons,
		Message:     "Pick one",
		MediaURL:    "https://cdn.example.com/h.png",
		Buttons:     []models.Button{{ID: "a", Title: "Yes"}},
	}
	s := &scriptedSender{responses: []scriptedResponse{
		{err: &provider.Error{Code: "template_not_supported", HTTPStatus: 400}},
		{id: "m-img"},
		{id: "m-btn"},
	}}
	d := newTestDispatcher(s, 2)

	res := d.Send(context.Background(), job, models.Recipient{ID: "r1"})

	require.True(t, res.Success)
	assert.Equal(t, "m-btn", res.ProviderMessageID)
	require.Len(t, s.calls, 3)
	assert.Equal(t, "buttons", s.calls[0].Type)
	assert.Equal(t, "image", s.calls[1].Type)
	assert.Equal(t, "buttons", s.calls[2].Type)
	assert.Empty(t, s.calls[2].MediaURL)
}

func TestSendCompositeFallbackPartFailureIsFinal(t *testing.T) {
	job := &models.Job{
		ID:          9,
		MessageType: models.MessageButtons,
		Message:     "Pick one",
		MediaURL:    "https://cdn.example.com/h.png",
		Buttons:     []models.Button{{ID: "a", Title: "Yes"}},
	}
	s := &scriptedSender{responses: []scriptedResponse{
		{err: &provider.Error{Code: "template_not_supported", HTTPStatus: 400}},
		{err: &provider.Error{Code: "invalid_media", HTTPStatus: 400}},
	}}
	d := newTestDispatcher(s, 2)

	res := d.Send(context.Background(), job, models.Recipient{ID: "r1"})

	assert.False(t, res.Success)
	assert.Equal(t, "template_not_supported", res.ErrorCode)
	// Fallback parts are single-attempt: no further calls after the part failed.
	assert.Len(t, s.calls, 2)
}

func TestSendUnsupportedType(t *testing.T) {
	s := &scriptedSender{}
	d := newTestDispatcher(s, 2)

	job := &models.Job{ID: 3, MessageType: models.MessageType("carousel")}
	res := d.Send(context.Background(), job, models.Recipient{ID: "r1"})

	assert.False(t, res.Success)
	assert.Equal(t, "unsupported_type", res.ErrorCode)
	assert.Empty(t, s.calls)
}

func TestSendCanceledContextStopsRetrying(t *testing.T) {
	transient := &provider.Error{Code: "server_busy", HTTPStatus: 503}
	s := &scriptedSender{responses: []scriptedResponse{{err: transient}}}

	ctx, cancel := context.WithCancel(context.Background())
	d := New(s, rate.NewLimiter(rate.Inf, 1), zap.NewNop(), 2)
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res := d.Send(ctx, textJob(), models.Recipient{ID: "r1"})
	assert.False(t, res.Success)
	assert.Len(t, s.calls, 1)
}
