package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/realestate-lead-ai/internal/channels/instagram"
	"github.com/wolfman30/realestate-lead-ai/internal/company"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	httpmiddleware "github.com/wolfman30/realestate-lead-ai/internal/http/middleware"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

const (
	testAdminSecret = "admin-secret"
	testAppSecret   = "app-secret"
	testVerifyToken = "verify-me"
)

type capturingHandler struct {
	mu     sync.Mutex
	events []instagram.Event
}

func (c *capturingHandler) HandleBatch(_ context.Context, events []instagram.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *capturingHandler) received() []instagram.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]instagram.Event(nil), c.events...)
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *capturingHandler) {
	t.Helper()

	logger := logging.Discard()
	subs := entitlement.NewMemoryStore()
	capture := &capturingHandler{}

	cfg := &Config{
		Logger:             logger,
		InstagramWebhook:   instagram.NewWebhookHandler(testVerifyToken, testAppSecret, capture, logger),
		LeadsHandler:       leads.NewHandler(leads.NewInMemoryRepository(subs), nil, nil, nil, logger),
		EntitlementHandler: entitlement.NewHandler(entitlement.NewGate(subs), logger),
		CompanyHandler:     company.NewHandler(company.NewMemorySettingsStore(), nil, logger),
		AdminAuthSecret:    testAdminSecret,
		HealthChecks:       checks,
	}
	return New(cfg), capture
}

func adminToken(t *testing.T, companyID string) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{
		CompanyID: companyID,
		Role:      "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAdminSecret))
	require.NoError(t, err)
	return signed
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
}

func TestRouterHealthDegraded(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"])
	assert.Equal(t, "ok", resp.Checks["postgres"])
}

func TestRouterInstagramVerification(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	target := "/webhooks/instagram?hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=12345"
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "12345", rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/instagram?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouterInstagramInbound(t *testing.T) {
	router, capture := newTestRouter(t, nil)
	body := `{"object":"instagram","entry":[{"id":"acct_1","time":1700000000,"messaging":[{"sender":{"id":"user_1"},"recipient":{"id":"acct_1"},"timestamp":1700000000000,"message":{"mid":"m_1","text":"2BHK in Adyar?"}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	events := capture.received()
	require.Len(t, events, 1)
	msg, ok := events[0].(instagram.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "m_1", msg.MessageID)
}

func TestRouterInstagramRejectsBadSignature(t *testing.T) {
	router, capture := newTestRouter(t, nil)
	body := `{"object":"instagram","entry":[]}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, capture.received())
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/companies/co-1/settings", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterAdminCompanyScope(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	tests := []struct {
		name      string
		companyID string
		path      string
		want      int
	}{
		{name: "operator for own company", companyID: "co-1", path: "/admin/companies/co-1/settings", want: http.StatusOK},
		{name: "operator for other company", companyID: "co-2", path: "/admin/companies/co-1/settings", want: http.StatusForbidden},
		{name: "platform operator", companyID: "", path: "/admin/companies/co-1/leads", want: http.StatusOK},
		{name: "scoped lead listing", companyID: "co-2", path: "/admin/companies/co-1/leads", want: http.StatusForbidden},
		{name: "no subscription yet", companyID: "co-1", path: "/admin/companies/co-1/subscription", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+adminToken(t, tt.companyID))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

const seededListingID = "9a3c1e52-7d1b-4f0e-a2a4-6c1f3d2b8e90"

// newSeededAdminRouter mounts every id-addressed admin route over one lead
// and one listing owned by co-1.
func newSeededAdminRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	leadRepo := leads.NewInMemoryRepository(nil)
	res, err := leadRepo.GetOrCreate(ctx, leads.UpsertRequest{CompanyID: "co-1", ConversationID: "ig-1"})
	require.NoError(t, err)
	listingRepo := listings.NewMemoryRepository()
	_, err = listingRepo.Upsert(ctx, &listings.Listing{ID: seededListingID, CompanyID: "co-1", Title: "Lake villa"})
	require.NoError(t, err)

	router := New(&Config{
		Logger:              logger,
		LeadsHandler:        leads.NewHandler(leadRepo, nil, nil, nil, logger),
		ListingsHandler:     listings.NewHandler(listingRepo, nil, nil, nil, logger),
		ConversationHandler: conversation.NewHandler(leadRepo, conversation.NewMemorySession(), nil, logger),
		AdminAuthSecret:     testAdminSecret,
	})
	return router, res.Lead.ID
}

func TestRouterAdminResourceScope(t *testing.T) {
	router, leadID := newSeededAdminRouter(t)

	tests := []struct {
		name      string
		companyID string
		method    string
		path      string
		body      string
		want      int
	}{
		{name: "read own lead", companyID: "co-1", method: http.MethodGet, path: "/admin/leads/" + leadID, want: http.StatusOK},
		{name: "read other lead", companyID: "co-2", method: http.MethodGet, path: "/admin/leads/" + leadID, want: http.StatusForbidden},
		{name: "patch other lead", companyID: "co-2", method: http.MethodPatch, path: "/admin/leads/" + leadID, body: `{"status":"spam"}`, want: http.StatusForbidden},
		{name: "other lead transcript", companyID: "co-2", method: http.MethodGet, path: "/admin/leads/" + leadID + "/messages", want: http.StatusForbidden},
		{name: "own lead transcript", companyID: "co-1", method: http.MethodGet, path: "/admin/leads/" + leadID + "/messages", want: http.StatusOK},
		{name: "extract other lead", companyID: "co-2", method: http.MethodPost, path: "/admin/leads/" + leadID + "/extract", want: http.StatusForbidden},
		{name: "listing for other company", companyID: "co-2", method: http.MethodPut, path: "/admin/listings/" + seededListingID, body: `{"company_id":"co-1","title":"x"}`, want: http.StatusForbidden},
		{name: "steal listing id", companyID: "co-2", method: http.MethodPut, path: "/admin/listings/" + seededListingID, body: `{"company_id":"co-2","title":"x"}`, want: http.StatusForbidden},
		{name: "update own listing", companyID: "co-1", method: http.MethodPut, path: "/admin/listings/" + seededListingID, body: `{"company_id":"co-1","title":"Lake villa"}`, want: http.StatusOK},
		{name: "platform operator", companyID: "", method: http.MethodGet, path: "/admin/leads/" + leadID, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+adminToken(t, tt.companyID))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestRouterAdminDisabledWithoutSecret(t *testing.T) {
	router := New(&Config{Logger: logging.Discard()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/companies/co-1/settings", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
