package wallet

import (
	"context"
	"net/http"
	"time"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/httpx"
)

// UseCase define a interface consumida pelos handlers HTTP
type UseCase interface {
	Summary(ctx context.Context, vendorID string) (*Summary, error)
	Transactions(ctx context.Context, filter ledger.Filter) (*ledger.Page, error)
	RequestWithdrawal(ctx context.Context, vendorID string, amount decimal.Decimal) (*PayoutRequest, error)
	Approve(ctx context.Context, req DecisionRequest) (*PayoutRequest, error)
	Reject(ctx context.Context, req DecisionRequest) (*PayoutRequest, error)
	MarkPaid(ctx context.Context, req DecisionRequest) (*PayoutRequest, error)
	List(ctx context.Context, vendorID string, page, limit int) (*PayoutPage, error)
	PayoutStatus(ctx context.Context, gid string) (PayoutStatus, error)
}

// WithdrawRequest representa a requisição de saque
type WithdrawRequest struct {
	Amount *decimal.Decimal `json:"amount" binding:"required"`
}

// DecisionBody carries optional administrator notes.
type DecisionBody struct {
	Notes string `json:"notes"`
}

// Handler contém os handlers HTTP da carteira
type Handler struct {
	useCase UseCase
	tracer  trace.Tracer
}

// NewHandler cria uma nova instância de Handler
func NewHandler(useCase UseCase, tracer trace.Tracer) *Handler {
	return &Handler{useCase: useCase, tracer: tracer}
}

// RegisterVendor mounts the vendor wallet routes.
func (h *Handler) RegisterVendor(vendor *gin.RouterGroup) {
	vendor.GET("/wallet/summary", h.Summary)
	vendor.GET("/wallet/transactions", h.Transactions)
	vendor.POST("/wallet/withdraw", h.Withdraw)
}

// RegisterAdmin mounts the payout administration routes.
func (h *Handler) RegisterAdmin(admin *gin.RouterGroup) {
	admin.GET("/vendors/:vendorId/payouts", h.ListPayouts)
	admin.PATCH("/vendors/:vendorId/payouts/:id/approve", h.decision("approve", h.useCase.Approve))
	admin.PATCH("/vendors/:vendorId/payouts/:id/reject", h.decision("reject", h.useCase.Reject))
	admin.PATCH("/vendors/:vendorId/payouts/:id/mark-paid", h.decision("mark_paid", h.useCase.MarkPaid))
}

// RegisterDTM mounts the DTM callback.
func (h *Handler) RegisterDTM(api *gin.RouterGroup) {
	api.GET("/dtm/payouts/query-prepared", h.QueryPrepared)
}

// Summary retorna os saldos do vendedor
func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.useCase.Summary(c.Request.Context(), httpx.VendorID(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, summary)
}

// Transactions lista os lançamentos do vendedor
func (h *Handler) Transactions(c *gin.Context) {
	page, limit, err := httpx.Pagination(c)
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	filter := ledger.Filter{VendorID: httpx.VendorID(c), Page: page, Limit: limit}
	if raw := c.Query("type"); raw != "" {
		if filter.Type, err = ledger.ParseEntryType(raw); err != nil {
			httpx.Fail(c, err)
			return
		}
	}
	if filter.From, err = parseDate(c.Query("dateFrom"), "dateFrom", false); err != nil {
		httpx.Fail(c, err)
		return
	}
	if filter.To, err = parseDate(c.Query("dateTo"), "dateTo", true); err != nil {
		httpx.Fail(c, err)
		return
	}

	result, err := h.useCase.Transactions(c.Request.Context(), filter)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, result)
}

// parseDate accepts RFC 3339 or a plain date. With endOfDay a plain date
// covers the whole day, up to its last instant.
func parseDate(raw, field string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, apperr.Validation("%s must be a date", field)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

// Withdraw solicita um saque
func (h *Handler) Withdraw(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.withdraw")
	defer span.End()

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		httpx.BadRequest(c, err)
		return
	}

	vendorID := httpx.VendorID(c)
	span.SetAttributes(
		attribute.String("vendor_id", vendorID),
		attribute.String("amount", req.Amount.String()),
	)

	payout, err := h.useCase.RequestWithdrawal(ctx, vendorID, *req.Amount)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.Created(c, payout)
}

func (h *Handler) decision(name string, apply func(context.Context, DecisionRequest) (*PayoutRequest, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := h.tracer.Start(c.Request.Context(), "http.payout_"+name)
		defer span.End()
		span.SetAttributes(attribute.String("payout_request_id", c.Param("id")))

		var body DecisionBody
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				httpx.BadRequest(c, err)
				return
			}
		}

		payout, err := apply(ctx, DecisionRequest{
			AdminID:  httpx.AdminID(c),
			VendorID: c.Param("vendorId"),
			PayoutID: c.Param("id"),
			Notes:    body.Notes,
		})
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, payout)
	}
}

// ListPayouts lista os saques de um vendedor
func (h *Handler) ListPayouts(c *gin.Context) {
	page, limit, err := httpx.Pagination(c)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	result, err := h.useCase.List(c.Request.Context(), c.Param("vendorId"), page, limit)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, result)
}

// QueryPrepared tells DTM whether the local paid transition committed.
// Anything but PAID aborts the message.
func (h *Handler) QueryPrepared(c *gin.Context) {
	bb, err := dtmcli.BarrierFromQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.useCase.PayoutStatus(c.Request.Context(), bb.Gid)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure})
		return
	}
	if status != PayoutPaid {
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dtm_result": dtmcli.ResultSuccess})
}
