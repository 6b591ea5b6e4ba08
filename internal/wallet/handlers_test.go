package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/httpx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockUseCase é um mock do UseCase da carteira
type MockUseCase struct {
	mock.Mock
}

func (m *MockUseCase) Summary(ctx context.Context, vendorID string) (*Summary, error) {
	args := m.Called(ctx, vendorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Summary), args.Error(1)
}

func (m *MockUseCase) Transactions(ctx context.Context, filter ledger.Filter) (*ledger.Page, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Page), args.Error(1)
}

func (m *MockUseCase) RequestWithdrawal(ctx context.Context, vendorID string, amount decimal.Decimal) (*PayoutRequest, error) {
	args := m.Called(ctx, vendorID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutRequest), args.Error(1)
}

func (m *MockUseCase) Approve(ctx context.Context, req DecisionRequest) (*PayoutRequest, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutRequest), args.Error(1)
}

func (m *MockUseCase) Reject(ctx context.Context, req DecisionRequest) (*PayoutRequest, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutRequest), args.Error(1)
}

func (m *MockUseCase) MarkPaid(ctx context.Context, req DecisionRequest) (*PayoutRequest, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutRequest), args.Error(1)
}

func (m *MockUseCase) List(ctx context.Context, vendorID string, page, limit int) (*PayoutPage, error) {
	args := m.Called(ctx, vendorID, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutPage), args.Error(1)
}

func (m *MockUseCase) PayoutStatus(ctx context.Context, gid string) (PayoutStatus, error) {
	args := m.Called(ctx, gid)
	return args.Get(0).(PayoutStatus), args.Error(1)
}

func newTestRouter(uc UseCase) *gin.Engine {
	h := NewHandler(uc, noop.NewTracerProvider().Tracer("test"))
	r := gin.New()
	h.RegisterVendor(r.Group("/vendor", httpx.RequireVendor()))
	h.RegisterAdmin(r.Group("/admin", httpx.RequireAdmin()))
	h.RegisterDTM(r.Group("/api"))
	return r
}

func doRequest(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var vendorA = map[string]string{httpx.HeaderVendorID: "vendor-a"}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	var body struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(body.Data, into))
}

func TestWithdrawHandler(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		// Arrange
		uc := new(MockUseCase)
		payout := &PayoutRequest{ID: "p-1", VendorID: "vendor-a", Amount: dec("450"), Status: PayoutRequested}
		uc.On("RequestWithdrawal", mock.Anything, "vendor-a", mock.MatchedBy(func(d decimal.Decimal) bool {
			return d.Equal(dec("450"))
		})).Return(payout, nil)

		// Act
		w := doRequest(newTestRouter(uc), http.MethodPost, "/vendor/wallet/withdraw", `{"amount": 450}`, vendorA)

		// Assert
		assert.Equal(t, http.StatusCreated, w.Code)
		var body struct {
			Success bool          `json:"success"`
			Data    PayoutRequest `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, "p-1", body.Data.ID)
		uc.AssertExpectations(t)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		uc := new(MockUseCase)
		uc.On("RequestWithdrawal", mock.Anything, "vendor-a", mock.Anything).Return(nil, apperr.ErrInsufficientBalance)

		w := doRequest(newTestRouter(uc), http.MethodPost, "/vendor/wallet/withdraw", `{"amount": "450.00"}`, vendorA)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing amount", func(t *testing.T) {
		uc := new(MockUseCase)

		w := doRequest(newTestRouter(uc), http.MethodPost, "/vendor/wallet/withdraw", `{}`, vendorA)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		uc.AssertNotCalled(t, "RequestWithdrawal", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTransactionsHandlerFilters(t *testing.T) {
	// Arrange
	uc := new(MockUseCase)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	uc.On("Transactions", mock.Anything, mock.MatchedBy(func(f ledger.Filter) bool {
		return f.VendorID == "vendor-a" && f.Type == ledger.TypePayout &&
			f.From != nil && f.From.Equal(from) && f.To == nil && f.Page == 2 && f.Limit == 5
	})).Return(&ledger.Page{Entries: []ledger.Entry{}, Page: 2, Limit: 5}, nil)

	// Act
	w := doRequest(newTestRouter(uc), http.MethodGet,
		"/vendor/wallet/transactions?type=PAYOUT&dateFrom=2026-01-01&page=2&limit=5", "", vendorA)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	uc.AssertExpectations(t)
}

func TestTransactionsHandlerDateOnlyRangeCoversWholeDay(t *testing.T) {
	// Arrange
	f := newWalletFixture(t, "")
	f.credit(t, "vendor-a", "100", "SALE:ORD-1:vendor-a")
	router := newTestRouter(f.service)

	// Act
	sameDay := doRequest(router, http.MethodGet,
		"/vendor/wallet/transactions?dateFrom=2026-03-02&dateTo=2026-03-02", "", vendorA)
	dayBefore := doRequest(router, http.MethodGet,
		"/vendor/wallet/transactions?dateTo=2026-03-01", "", vendorA)

	// Assert
	require.Equal(t, http.StatusOK, sameDay.Code, sameDay.Body.String())
	var page ledger.Page
	decodeEnvelope(t, sameDay, &page)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "SALE:ORD-1:vendor-a", page.Entries[0].Reference)

	require.Equal(t, http.StatusOK, dayBefore.Code)
	var earlier ledger.Page
	decodeEnvelope(t, dayBefore, &earlier)
	assert.Equal(t, 0, earlier.Total)
}

func TestParseDateEndOfDay(t *testing.T) {
	to, err := parseDate("2026-03-02", "dateTo", true)
	require.NoError(t, err)
	from, err := parseDate("2026-03-02", "dateFrom", false)
	require.NoError(t, err)
	exact, err := parseDate("2026-03-02T10:00:00Z", "dateTo", true)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 2, 23, 59, 59, 999999999, time.UTC), *to)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), *from)
	assert.Equal(t, testNow, *exact)
}

func TestTransactionsHandlerRejectsBadQuery(t *testing.T) {
	for _, query := range []string{"type=BONUS", "dateTo=yesterday", "page=0"} {
		uc := new(MockUseCase)

		w := doRequest(newTestRouter(uc), http.MethodGet, "/vendor/wallet/transactions?"+query, "", vendorA)

		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestPayoutDecisionHandlers(t *testing.T) {
	adminHeaders := map[string]string{httpx.HeaderAdminID: "admin-1"}

	t.Run("approve", func(t *testing.T) {
		uc := new(MockUseCase)
		uc.On("Approve", mock.Anything, DecisionRequest{AdminID: "admin-1", VendorID: "vendor-a", PayoutID: "p-1"}).
			Return(&PayoutRequest{ID: "p-1", Status: PayoutApproved}, nil)

		w := doRequest(newTestRouter(uc), http.MethodPatch, "/admin/vendors/vendor-a/payouts/p-1/approve", "", adminHeaders)

		assert.Equal(t, http.StatusOK, w.Code)
		uc.AssertExpectations(t)
	})

	t.Run("reject with notes", func(t *testing.T) {
		uc := new(MockUseCase)
		uc.On("Reject", mock.Anything, DecisionRequest{AdminID: "admin-1", VendorID: "vendor-a", PayoutID: "p-1", Notes: "fraud check"}).
			Return(&PayoutRequest{ID: "p-1", Status: PayoutRejected}, nil)

		w := doRequest(newTestRouter(uc), http.MethodPatch, "/admin/vendors/vendor-a/payouts/p-1/reject",
			`{"notes":"fraud check"}`, adminHeaders)

		assert.Equal(t, http.StatusOK, w.Code)
		uc.AssertExpectations(t)
	})

	t.Run("mark paid before approval", func(t *testing.T) {
		uc := new(MockUseCase)
		uc.On("MarkPaid", mock.Anything, mock.Anything).
			Return(nil, apperr.InvalidTransition("payout request", PayoutRequested, PayoutPaid))

		w := doRequest(newTestRouter(uc), http.MethodPatch, "/admin/vendors/vendor-a/payouts/p-1/mark-paid", "", adminHeaders)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("admin header required", func(t *testing.T) {
		uc := new(MockUseCase)

		w := doRequest(newTestRouter(uc), http.MethodPatch, "/admin/vendors/vendor-a/payouts/p-1/approve", "", vendorA)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestQueryPreparedHandler(t *testing.T) {
	const query = "/api/dtm/payouts/query-prepared?trans_type=msg&gid=payout-p-1&branch_id=00&op=msg"

	cases := []struct {
		name   string
		status PayoutStatus
		err    error
		want   int
	}{
		{name: "paid commits the message", status: PayoutPaid, want: http.StatusOK},
		{name: "approved aborts the message", status: PayoutApproved, want: http.StatusConflict},
		{name: "unknown payout aborts the message", status: "", err: apperr.NotFound("payout request", "p-1"), want: http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := new(MockUseCase)
			uc.On("PayoutStatus", mock.Anything, "payout-p-1").Return(tc.status, tc.err)

			w := doRequest(newTestRouter(uc), http.MethodGet, query, "", nil)

			assert.Equal(t, tc.want, w.Code)
			uc.AssertExpectations(t)
		})
	}
}

func TestDirectNotifierPostsEvent(t *testing.T) {
	// Arrange
	received := make(chan PayoutPaidEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications/payout-paid", r.URL.Path)
		var event PayoutPaidEvent
		_ = json.NewDecoder(r.Body).Decode(&event)
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewDirectNotifier(server.URL, time.Second, zap.NewNop())
	payout := &PayoutRequest{ID: "p-1", VendorID: "vendor-a", Amount: dec("450")}
	applied := false

	// Act
	err := n.PaidAndNotify(context.Background(), payout, func(context.Context) error {
		applied = true
		return nil
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, applied)
	event := <-received
	assert.Equal(t, "p-1", event.PayoutRequestID)
	assert.True(t, event.Amount.Equal(dec("450")))
}

func TestDirectNotifierSkipsNotificationWhenApplyFails(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	n := NewDirectNotifier(server.URL, time.Second, zap.NewNop())
	err := n.PaidAndNotify(context.Background(), &PayoutRequest{ID: "p-1"}, func(context.Context) error {
		return apperr.ErrInvalidTransition
	})

	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Zero(t, calls)
}
