package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	apikeyrepo "github.com/rnblock/gateway/internal/apikey/repository"
	apikeysvc "github.com/rnblock/gateway/internal/apikey/service"
	"github.com/rnblock/gateway/internal/clock"
	"github.com/rnblock/gateway/internal/config"
	"github.com/rnblock/gateway/internal/identity"
	obsmetrics "github.com/rnblock/gateway/internal/observability/metrics"
	"github.com/rnblock/gateway/internal/ratelimit"
	usagedomain "github.com/rnblock/gateway/internal/usage/domain"
	usagerepo "github.com/rnblock/gateway/internal/usage/repository"
	usagesvc "github.com/rnblock/gateway/internal/usage/service"
	walletdomain "github.com/rnblock/gateway/internal/wallet/domain"
	walletrepo "github.com/rnblock/gateway/internal/wallet/repository"
	walletsvc "github.com/rnblock/gateway/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testPepper = "unit-test-pepper"

type gateHarness struct {
	engine   *gin.Engine
	db       *gorm.DB
	mr       *miniredis.Miniredis
	clk      *clock.FakeClock
	recorder usagedomain.Recorder
}

func testConfig() config.Config {
	return config.Config{
		AppName:      "gateway",
		APIKeyPepper: testPepper,

		RateLimitCapacity: 3,
		RateLimitRefill:   3,
		RateLimitInterval: time.Second,
		RateLimitIdleTTL:  10 * time.Minute,

		KeyCacheSize: 100,
		KeyCacheTTL:  time.Hour,

		ServiceCacheTTL: 10 * time.Minute,
	}
}

func setupGate(t *testing.T) *gateHarness {
	t.Helper()
	return setupGateWithDownstream(t, func(c *gin.Context) {
		id, ok := identity.FromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"orgId":     id.OrgID,
			"remaining": id.RemainingCredits,
		})
	})
}

func setupGateWithDownstream(t *testing.T, downstream gin.HandlerFunc) *gateHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&apikeydomain.APIKey{},
		&walletdomain.Wallet{},
		&walletdomain.TestWallet{},
		&usagedomain.UsageRecord{},
		&usagedomain.ServiceDefinition{},
	))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	recorder := usagesvc.NewRecorder(usagesvc.ServiceParam{
		DB:    db,
		Log:   log,
		Cfg:   cfg,
		GenID: node,
		Repo:  usagerepo.Provide(),
	})

	srv := NewServer(ServerParams{
		Engine: gin.New(),
		Cfg:    cfg,
		Log:    log,
		Resolver: apikeysvc.NewResolver(apikeysvc.ServiceParam{
			DB:   db,
			Log:  log,
			Cfg:  cfg,
			Clk:  clk,
			Repo: apikeyrepo.Provide(),
		}),
		Limiter: ratelimit.NewLimiterWithClient(client, cfg, clk, log),
		Ledger: walletsvc.NewLedger(walletsvc.ServiceParam{
			DB:   db,
			Log:  log,
			Repo: walletrepo.Provide(),
		}),
		Recorder: recorder,
		Metrics:  obsmetrics.New(prometheus.NewRegistry()),
	})

	engine := srv.engine
	engine.Use(gin.Recovery())
	engine.Use(ErrorHandlingMiddleware(log))

	protected := engine.Group("/api")
	protected.Use(srv.AdmissionGate())
	protected.Any("/*path", downstream)

	return &gateHarness{engine: engine, db: db, mr: mr, clk: clk, recorder: recorder}
}

func (h *gateHarness) seedKey(t *testing.T, key *apikeydomain.APIKey) {
	t.Helper()
	require.NoError(t, h.db.Create(key).Error)
}

func (h *gateHarness) seedProduction(t *testing.T, raw, orgID string, balance int64) {
	t.Helper()
	hash, err := apikeydomain.HashKey(raw, testPepper)
	require.NoError(t, err)
	h.seedKey(t, &apikeydomain.APIKey{
		ID:          "key-" + orgID,
		KeyHash:     hash,
		OrgID:       orgID,
		Environment: apikeydomain.EnvironmentProduction,
		IsActive:    true,
	})
	require.NoError(t, h.db.Create(&walletdomain.Wallet{
		ID:       "wallet-" + orgID,
		OrgID:    orgID,
		Balance:  balance,
		Currency: "EUR",
	}).Error)
}

func (h *gateHarness) seedServices(t *testing.T) {
	t.Helper()
	for _, name := range []string{"general", "api-pdf"} {
		require.NoError(t, h.db.Create(&usagedomain.ServiceDefinition{
			ID:          "svc-" + name,
			Name:        name,
			DisplayName: name,
			IsActive:    true,
		}).Error)
	}
}

func (h *gateHarness) do(method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decodeRejection(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAdmissionGateMissingCredential(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 10)

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeRejection(t, w)
	assert.Equal(t, "Unauthorized", body.Error)
	assert.Equal(t, "API key is missing or invalid", body.Message)
	_, err := time.Parse(time.RFC3339, body.Timestamp)
	assert.NoError(t, err)

	// No credential means no charge.
	var wallet walletdomain.Wallet
	require.NoError(t, h.db.Where("org_id = ?", "org-1").First(&wallet).Error)
	assert.Equal(t, int64(10), wallet.Balance)
}

func TestAdmissionGateUnknownKey(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 10)

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", map[string]string{
		"Authorization": "Bearer vk_live_wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", decodeRejection(t, w).Error)
}

func TestAdmissionGateBearerToken(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 10)

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", map[string]string{
		"Authorization": "Bearer vk_live_abc",
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		OrgID     string `json:"orgId"`
		Remaining int64  `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "org-1", body.OrgID)
	assert.Equal(t, int64(9), body.Remaining)
}

func TestAdmissionGateAPIKeyHeaderFallback(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 10)

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", map[string]string{
		"X-API-Key": "vk_live_abc",
	})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmissionGateRateLimited(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 100)
	headers := map[string]string{"Authorization": "Bearer vk_live_abc"}

	for i := 0; i < 3; i++ {
		w := h.do(http.MethodGet, "/api/v1/pdf/convert", headers)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", headers)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeRejection(t, w)
	assert.Equal(t, "Too Many Requests", body.Error)
	assert.Equal(t, "Rate limit exceeded", body.Message)
	assert.Equal(t, "1", body.RetryAfter)

	// Rejected request must not be billed: 3 admitted, 1 refused.
	var wallet walletdomain.Wallet
	require.NoError(t, h.db.Where("org_id = ?", "org-1").First(&wallet).Error)
	assert.Equal(t, int64(97), wallet.Balance)

	// A full refill interval later the bucket admits again.
	h.clk.Advance(time.Second)
	w = h.do(http.MethodGet, "/api/v1/pdf/convert", headers)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmissionGateInsufficientCredits(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 1)
	headers := map[string]string{"Authorization": "Bearer vk_live_abc"}

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/v1/pdf/convert", headers)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	body := decodeRejection(t, w)
	assert.Equal(t, "Payment Required", body.Error)
	assert.Equal(t, "Insufficient credits", body.Message)

	var wallet walletdomain.Wallet
	require.NoError(t, h.db.Where("org_id = ?", "org-1").First(&wallet).Error)
	assert.Equal(t, int64(0), wallet.Balance)
}

func TestAdmissionGateTestEnvironmentKey(t *testing.T) {
	h := setupGate(t)
	userID := "user-7"
	hash, err := apikeydomain.HashKey("vk_test_abc", testPepper)
	require.NoError(t, err)
	h.seedKey(t, &apikeydomain.APIKey{
		ID:          "key-t1",
		KeyHash:     hash,
		OrgID:       "org-1",
		CreatedBy:   &userID,
		Environment: apikeydomain.EnvironmentTest,
		IsActive:    true,
	})
	require.NoError(t, h.db.Create(&walletdomain.TestWallet{
		ID:      "tw-1",
		UserID:  userID,
		Balance: 1,
		ResetAt: time.Now().AddDate(0, 1, 0),
	}).Error)

	headers := map[string]string{"Authorization": "Bearer vk_test_abc"}

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/v1/pdf/convert", headers)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var tw walletdomain.TestWallet
	require.NoError(t, h.db.Where("user_id = ?", userID).First(&tw).Error)
	assert.Equal(t, int64(0), tw.Balance)
}

func TestAdmissionGateRecordsUsage(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 10)
	h.seedServices(t)

	w := h.do(http.MethodPost, "/api/v1/pdf/convert", map[string]string{
		"Authorization":   "Bearer vk_live_abc",
		"User-Agent":      "integration-test",
		"X-Forwarded-For": "203.0.113.9, 10.0.0.1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.recorder.Drain(ctx))

	var records []usagedomain.UsageRecord
	require.NoError(t, h.db.Find(&records).Error)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "key-org-1", rec.APIKeyID)
	assert.Equal(t, "org-1", rec.OrgID)
	assert.Equal(t, "svc-api-pdf", rec.ServiceID)
	assert.Equal(t, "/api/v1/pdf/convert", rec.Endpoint)
	assert.Equal(t, http.MethodPost, rec.Method)
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.Equal(t, 1, rec.CreditsUsed)
	assert.Equal(t, "203.0.113.9", rec.IPAddress)
	assert.Equal(t, "integration-test", rec.UserAgent)
	assert.Nil(t, rec.Country)
}

func TestAdmissionGateRecordsUsageWhenDownstreamAborts(t *testing.T) {
	h := setupGateWithDownstream(t, func(c *gin.Context) {
		// The reverse proxy panics exactly like this when the client
		// disconnects mid-response.
		panic(http.ErrAbortHandler)
	})
	h.seedProduction(t, "vk_live_abc", "org-1", 10)
	h.seedServices(t)

	h.do(http.MethodGet, "/api/v1/pdf/convert", map[string]string{
		"Authorization": "Bearer vk_live_abc",
	})

	// The request was admitted and charged before downstream blew up.
	var wallet walletdomain.Wallet
	require.NoError(t, h.db.Where("org_id = ?", "org-1").First(&wallet).Error)
	require.Equal(t, int64(9), wallet.Balance)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.recorder.Drain(ctx))

	var count int64
	require.NoError(t, h.db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "charged request must leave a usage record even when downstream aborts")
}

func TestAdmissionGateRejectedRequestsLeaveNoUsage(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 10)
	h.seedServices(t)

	h.do(http.MethodGet, "/api/v1/pdf/convert", nil)
	h.do(http.MethodGet, "/api/v1/pdf/convert", map[string]string{
		"Authorization": "Bearer vk_live_wrong",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.recorder.Drain(ctx))

	var count int64
	require.NoError(t, h.db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAdmissionGateStoreFailureFailsClosed(t *testing.T) {
	h := setupGate(t)
	h.seedProduction(t, "vk_live_abc", "org-1", 10)

	h.mr.Close()

	w := h.do(http.MethodGet, "/api/v1/pdf/convert", map[string]string{
		"Authorization": "Bearer vk_live_abc",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", decodeRejection(t, w).Error)

	var wallet walletdomain.Wallet
	require.NoError(t, h.db.Where("org_id = ?", "org-1").First(&wallet).Error)
	assert.Equal(t, int64(10), wallet.Balance)
}

func TestHealthEndpointBypassesGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewEngine(zap.NewNop())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
