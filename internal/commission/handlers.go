package commission

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/httpx"
)

// SettingsManager reads and replaces the commission settings.
type SettingsManager interface {
	Get(ctx context.Context) (Settings, error)
	Update(ctx context.Context, s Settings) (Settings, error)
}

// ConfirmPaymentRequest representa o sinal de pagamento confirmado
type ConfirmPaymentRequest struct {
	OrderNumber string `json:"orderNumber" binding:"required"`
}

// SettingsRequest representa a substituição das configurações de comissão
type SettingsRequest struct {
	DefaultPercent *float64           `json:"defaultPercent" binding:"required"`
	PerCategory    map[string]float64 `json:"perCategory"`
	PerVendor      map[string]float64 `json:"perVendor"`
}

// Handler contém os handlers HTTP de comissão
type Handler struct {
	poster   PaymentConfirmer
	settings SettingsManager
	tracer   trace.Tracer
}

// NewHandler cria uma nova instância de Handler
func NewHandler(poster PaymentConfirmer, settings SettingsManager, tracer trace.Tracer) *Handler {
	return &Handler{poster: poster, settings: settings, tracer: tracer}
}

// RegisterIngress mounts the collaborator-facing routes.
func (h *Handler) RegisterIngress(api *gin.RouterGroup) {
	api.POST("/payments/confirmed", h.PaymentConfirmed)
}

// RegisterAdmin mounts the settings routes.
func (h *Handler) RegisterAdmin(admin *gin.RouterGroup) {
	admin.GET("/commission-settings", h.GetSettings)
	admin.PUT("/commission-settings", h.UpdateSettings)
}

// PaymentConfirmed recebe a confirmação de pagamento de um pedido
func (h *Handler) PaymentConfirmed(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.payment_confirmed")
	defer span.End()

	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		httpx.BadRequest(c, err)
		return
	}
	span.SetAttributes(attribute.String("order_number", req.OrderNumber))

	result, err := h.poster.ConfirmPayment(ctx, req.OrderNumber)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, result)
}

// GetSettings retorna as configurações de comissão
func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, s)
}

// UpdateSettings substitui as configurações de comissão
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	s, err := h.settings.Update(c.Request.Context(), Settings{
		DefaultPercent: *req.DefaultPercent,
		PerCategory:    req.PerCategory,
		PerVendor:      req.PerVendor,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, s)
}
