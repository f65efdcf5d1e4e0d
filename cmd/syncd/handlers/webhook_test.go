package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/cmd/syncd/platform"
	"github.com/clubops/membersync/cmd/syncd/service"
	"github.com/clubops/membersync/common/config"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/ratelimit"
	"github.com/clubops/membersync/common/signature"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingQueue captures enqueued payloads in memory
type recordingQueue struct {
	payloads [][]byte
}

func (q *recordingQueue) Enqueue(ctx context.Context, stream string, payload []byte) (string, error) {
	q.payloads = append(q.payloads, payload)
	return "1-0", nil
}

// noopLedgerStore satisfies the ledger without a database
type noopLedgerStore struct{}

func (noopLedgerStore) Create(ctx context.Context, op *models.SyncOperation) error { return nil }
func (noopLedgerStore) MarkProcessing(ctx context.Context, id uuid.UUID) error     { return nil }
func (noopLedgerStore) Complete(ctx context.Context, id uuid.UUID, status models.OperationStatus, errorMessage *string, memberID *uuid.UUID) error {
	return nil
}
func (noopLedgerStore) Stats(ctx context.Context, window time.Duration) (*models.OperationStats, error) {
	return &models.OperationStats{}, nil
}

type webhookFixture struct {
	handler *WebhookHandler
	queue   *recordingQueue
	scheme  signature.Scheme
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
	t.Helper()

	log := logger.New("error", "text")
	registry := platform.DefaultRegistry()

	secrets := make(map[string]string)
	for _, pf := range registry.Platforms() {
		secrets[string(pf)] = secret
	}
	verifier := signature.NewVerifier(registry.SignatureSchemes(), secrets, log)

	cfg := &config.Config{
		Sync:      config.SyncConfig{RetryAttempts: 1, WorkerCount: 1, JobTimeout: time.Minute},
		Platforms: map[string]config.PlatformConfig{},
	}
	limiter := ratelimit.NewLimiter(map[string]ratelimit.Config{}, log)
	ledger := service.NewLedgerService(noopLedgerStore{}, log)
	reconciler := service.NewReconcilerService(nil, nil, nil, ledger, log)

	q := &recordingQueue{}
	orchestrator := service.NewOrchestratorService(cfg, registry, q, limiter, reconciler, ledger, nil, log)

	f := &webhookFixture{
		handler: NewWebhookHandler(verifier, orchestrator, log),
		queue:   q,
	}
	adapter, err := registry.Lookup(models.PlatformTicketing)
	require.NoError(t, err)
	f.scheme = adapter.SignatureScheme()
	return f
}

func (f *webhookFixture) post(t *testing.T, platformName, body string, sign bool, secret string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+platformName, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sign {
		sig, err := signature.Sign(f.scheme, []byte(body), secret)
		require.NoError(t, err)
		req.Header.Set(f.scheme.Header, sig)
	}

	rec := httptest.NewRecorder()
	e := echo.New()
	c := e.NewContext(req, rec)
	c.SetPath("/webhooks/:platform")
	c.SetParamNames("platform")
	c.SetParamValues(platformName)

	require.NoError(t, f.handler.Receive(c))
	return rec
}

func TestReceive_AcceptsSignedWebhook(t *testing.T) {
	f := newWebhookFixture(t, "shh")
	body := `{"attendee":{"id":"att-1","profile":{"email":"a@x.com"}}}`

	rec := f.post(t, "ticketing", body, true, "shh")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted"`)
	assert.Contains(t, rec.Body.String(), "sync_operation_id")
	assert.Len(t, f.queue.payloads, 1)
}

func TestReceive_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t, "shh")

	rec := f.post(t, "ticketing", `{}`, true, "wrong-secret")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.queue.payloads)
}

func TestReceive_RejectsMissingSignature(t *testing.T) {
	f := newWebhookFixture(t, "shh")

	rec := f.post(t, "ticketing", `{}`, false, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.queue.payloads)
}

func TestReceive_UnknownPlatform(t *testing.T) {
	f := newWebhookFixture(t, "shh")

	rec := f.post(t, "carrier-pigeon", `{}`, false, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.queue.payloads)
}

func TestReceive_NoSecretConfiguredStillAccepts(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := `{"attendee":{"id":"att-1","profile":{"email":"a@x.com"}}}`

	rec := f.post(t, "ticketing", body, false, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.queue.payloads, 1)
}
