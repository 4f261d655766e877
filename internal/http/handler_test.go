package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohammed-Mafaz/Parking-System/internal/config"
	"github.com/Mohammed-Mafaz/Parking-System/internal/consensus"
	"github.com/Mohammed-Mafaz/Parking-System/internal/debounce"
	"github.com/Mohammed-Mafaz/Parking-System/internal/fees"
	"github.com/Mohammed-Mafaz/Parking-System/internal/payment"
	"github.com/Mohammed-Mafaz/Parking-System/internal/pipeline"
	"github.com/Mohammed-Mafaz/Parking-System/internal/plate"
	"github.com/Mohammed-Mafaz/Parking-System/internal/repository"
	"github.com/Mohammed-Mafaz/Parking-System/internal/service"
)

const testSecret = "test-secret"

type stubProvider struct{}

func (stubProvider) CreatePaymentLink(_ context.Context, _ int64, _, _, _ string) (*payment.PaymentLink, error) {
	return &payment.PaymentLink{ID: "plink_http_1", ShortURL: "https://rzp.io/h1"}, nil
}

func (stubProvider) CheckPaymentStatus(_ context.Context, _ string) (payment.LinkStatus, error) {
	return payment.LinkPending, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *repository.Memory, *payment.Reconciler) {
	t.Helper()
	store := repository.NewMemory()
	sessions := service.NewSessionService(
		store,
		fees.NewCalculator(20, 0),
		debounce.NewCache(10*time.Second),
		zerolog.Nop(),
	)
	reconciler := payment.NewReconciler(store, stubProvider{}, payment.Options{
		PollInterval: 5 * time.Millisecond,
		PollWindow:   200 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, zerolog.Nop())
	sessions.SetPaymentStarter(reconciler)

	engine := pipeline.NewEngine(
		plate.NewNormalizer(0.4, 6, plate.FormatLoose),
		consensus.NewAggregator(5, 3, 30*time.Second),
		sessions,
		nil,
		zerolog.Nop(),
	)

	h := NewHandler(engine, sessions, reconciler, nil, nil, zerolog.Nop())
	return NewRouter(h, testSecret, nil), store, reconciler
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func ingest(t *testing.T, r *gin.Engine, role, plateText string, at time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := postJSON(t, r, "/api/v1/detections", gin.H{
			"camera_id":  "cam-1",
			"role":       role,
			"plate":      plateText,
			"confidence": 0.9,
			"event_time": at.Format(time.RFC3339),
		}, "")
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}
}

func TestDetectionIngestionOpensSession(t *testing.T) {
	r, _, _ := newTestRouter(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	ingest(t, r, "entrance", "KA01AB1234", t0, 5)

	rec := getPath(t, r, "/api/v1/sessions/open?plate=KA01AB1234", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Plate  string `json:"plate"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "KA01AB1234", resp.Data.Plate)
	assert.Equal(t, "PARKED", resp.Data.Status)
}

func TestDetectionRejectsUnknownRole(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := postJSON(t, r, "/api/v1/detections", gin.H{
		"camera_id": "cam-1",
		"role":      "drive-through",
		"plate":     "KA01AB1234",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCameraRegistryResolvesRole(t *testing.T) {
	store := repository.NewMemory()
	sessions := service.NewSessionService(
		store,
		fees.NewCalculator(20, 0),
		debounce.NewCache(10*time.Second),
		zerolog.Nop(),
	)
	engine := pipeline.NewEngine(
		plate.NewNormalizer(0.4, 6, plate.FormatLoose),
		consensus.NewAggregator(5, 3, 30*time.Second),
		sessions,
		nil,
		zerolog.Nop(),
	)
	cfg := &config.Config{
		Cameras: []config.CameraConfig{{ID: "gate-north", Role: "entrance"}},
	}
	h := NewHandler(engine, sessions, nil, nil, cfg, zerolog.Nop())
	r := NewRouter(h, testSecret, nil)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// The registry supplies the role; the payload need not.
	for i := 0; i < 5; i++ {
		rec := postJSON(t, r, "/api/v1/detections", gin.H{
			"camera_id":  "gate-north",
			"plate":      "KA01AB1234",
			"confidence": 0.9,
			"event_time": t0.Format(time.RFC3339),
		}, "")
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	open, err := store.GetOpenSessionByPlate(context.Background(), "KA01AB1234")
	require.NoError(t, err)
	require.NotNil(t, open)

	rec := postJSON(t, r, "/api/v1/detections", gin.H{
		"camera_id":  "gate-unknown",
		"plate":      "KA01AB1234",
		"confidence": 0.9,
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenSessionNotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := getPath(t, r, "/api/v1/sessions/open?plate=KA01AB1234", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperatorEndpointsRequireToken(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := getPath(t, r, "/api/v1/payments/queue", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrong, err := IssueOperatorToken("other-secret", "ops", time.Minute)
	require.NoError(t, err)
	rec = getPath(t, r, "/api/v1/payments/queue", wrong)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueOperatorToken(testSecret, "ops", time.Minute)
	require.NoError(t, err)
	rec = getPath(t, r, "/api/v1/payments/queue", token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCashConfirmationOverHTTP(t *testing.T) {
	r, store, reconciler := newTestRouter(t)
	defer reconciler.Close(time.Second)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	ingest(t, r, "entrance", "KA01AB1234", t0, 5)
	ingest(t, r, "exit", "KA01AB1234", t0.Add(95*time.Minute), 1)

	session, err := store.GetOpenSessionByPlate(context.Background(), "KA01AB1234")
	require.NoError(t, err)
	require.Nil(t, session, "session should be closed after exit")

	listed, err := store.ListSessions(context.Background(), repository.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	sessionID := listed[0].ID

	require.Eventually(t, func() bool {
		a, _ := store.GetAttemptBySession(context.Background(), sessionID)
		return a != nil
	}, time.Second, 5*time.Millisecond)

	token, err := IssueOperatorToken(testSecret, "ops", time.Minute)
	require.NoError(t, err)

	rec := postJSON(t, r, fmt.Sprintf("/api/v1/payments/%s/cash", sessionID), gin.H{}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Second confirmation conflicts with the already terminal attempt.
	rec = postJSON(t, r, fmt.Sprintf("/api/v1/payments/%s/cash", sessionID), gin.H{}, token)
	assert.Equal(t, http.StatusConflict, rec.Code)

	settled, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "SETTLED", string(settled.Status))
	assert.True(t, settled.Paid)
}

func TestPaymentCallbackNestedEnvelope(t *testing.T) {
	r, store, reconciler := newTestRouter(t)
	defer reconciler.Close(time.Second)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	ingest(t, r, "entrance", "KA01AB1234", t0, 5)
	ingest(t, r, "exit", "KA01AB1234", t0.Add(time.Hour), 1)

	listed, err := store.ListSessions(context.Background(), repository.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	sessionID := listed[0].ID

	require.Eventually(t, func() bool {
		a, _ := store.GetAttemptBySession(context.Background(), sessionID)
		return a != nil && a.LinkID != nil
	}, time.Second, 5*time.Millisecond)

	rec := postJSON(t, r, "/api/v1/payments/callback", gin.H{
		"payload": gin.H{
			"payment_link": gin.H{
				"entity": gin.H{"id": "plink_http_1", "status": "paid"},
			},
		},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	attempt, err := store.GetAttemptBySession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", string(attempt.Status))
}

func TestPaymentCallbackUnknownLink(t *testing.T) {
	r, _, reconciler := newTestRouter(t)
	defer reconciler.Close(time.Second)

	rec := postJSON(t, r, "/api/v1/payments/callback", gin.H{
		"link_id": "plink_missing",
		"status":  "paid",
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
