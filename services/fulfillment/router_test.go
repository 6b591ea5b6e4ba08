package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/config"
	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/httpx"
	"github.com/matheusmosca/marketplace-ledger/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testApp struct {
	router *gin.Engine
	stores *stores
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg := config.Default()
	cfg.Storage = config.StorageMemory
	cfg.DTM.NotifyURL = ""
	tp := noop.NewTracerProvider()

	st, err := openStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	svc, err := buildServices(cfg, st, tp, zap.NewNop())
	require.NoError(t, err)

	return &testApp{router: newRouter(svc, nil, tp), stores: st}
}

func (a *testApp) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	body := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(body.Data, into))
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestIdentityHeadersRequired(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/vendor/wallet/summary", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/admin/commission-settings", "", nil).Code)
}

func TestPayoutFlowThroughRouter(t *testing.T) {
	// Arrange
	app := newTestApp(t)
	vendor := map[string]string{httpx.HeaderVendorID: "vendor-a"}
	admin := map[string]string{httpx.HeaderAdminID: "admin-1"}

	app.stores.banking.(*wallet.MemoryBanking).Put(wallet.BankingDetails{
		VendorID:      "vendor-a",
		AccountHolder: "Vendor A Ltda",
		BankName:      "First Bank",
		AccountNumber: "0001234-5",
	})
	seed := ledger.NewService(app.stores.ledger, zap.NewNop(), noop.NewTracerProvider().Tracer("test"))
	_, _, err := seed.Post(context.Background(), nil, ledger.NewEntryParams{
		VendorID:  "vendor-a",
		Type:      ledger.TypeSale,
		Direction: ledger.Credit,
		Amount:    decimal.NewFromInt(500),
		Status:    ledger.StatusCompleted,
		Reference: ledger.SaleCreditReference("ORD-1", "vendor-a"),
	})
	require.NoError(t, err)

	// Act
	first := app.do(http.MethodPost, "/vendor/wallet/withdraw", `{"amount": 450}`, vendor)
	second := app.do(http.MethodPost, "/vendor/wallet/withdraw", `{"amount": 450}`, vendor)

	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	var payout wallet.PayoutRequest
	decodeData(t, first, &payout)

	approved := app.do(http.MethodPatch, "/admin/vendors/vendor-a/payouts/"+payout.ID+"/approve", "", admin)
	paid := app.do(http.MethodPatch, "/admin/vendors/vendor-a/payouts/"+payout.ID+"/mark-paid", `{"notes":"wire sent"}`, admin)
	summaryResp := app.do(http.MethodGet, "/vendor/wallet/summary", "", vendor)
	prepared := app.do(http.MethodGet,
		"/api/dtm/payouts/query-prepared?trans_type=msg&gid="+wallet.GID(payout.ID, 1)+"&branch_id=00&op=msg", "", nil)

	// Assert
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, http.StatusOK, approved.Code)
	assert.Equal(t, http.StatusOK, paid.Code)
	assert.Equal(t, http.StatusOK, prepared.Code)

	var summary wallet.Summary
	decodeData(t, summaryResp, &summary)
	assert.True(t, summary.AvailableBalance.Equal(decimal.NewFromInt(50)))
	assert.True(t, summary.TotalPaidOut.Equal(decimal.NewFromInt(450)))
}

func TestCommissionSettingsThroughRouter(t *testing.T) {
	app := newTestApp(t)
	admin := map[string]string{httpx.HeaderAdminID: "admin-1"}

	put := app.do(http.MethodPut, "/admin/commission-settings", `{"defaultPercent": 12, "perVendor": {"vendor-a": 5}}`, admin)
	get := app.do(http.MethodGet, "/admin/commission-settings", "", admin)

	assert.Equal(t, http.StatusOK, put.Code, put.Body.String())
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Body.String(), `"vendor-a":5`)
}

func TestPaymentConfirmedUnknownOrder(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPost, "/api/payments/confirmed", `{"orderNumber": "ORD-404"}`, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
