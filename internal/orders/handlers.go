package orders

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/httpx"
)

// OrderUseCaseInterface define a interface para o use case
type OrderUseCaseInterface interface {
	Get(ctx context.Context, vendorID, ref string) (*Order, error)
	UpdateItemStatus(ctx context.Context, req UpdateItemStatusRequest) (*Order, error)
	CancelItem(ctx context.Context, req CancelItemRequest) (*Order, error)
}

// UpdateStatusBody representa a requisição de mudança de status do item
type UpdateStatusBody struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"trackingNumber"`
}

// CancelBody representa a requisição de cancelamento do item
type CancelBody struct {
	Reason string `json:"reason" binding:"required"`
}

// OrderHandler contém os handlers HTTP
type OrderHandler struct {
	useCase OrderUseCaseInterface
	tracer  trace.Tracer
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(useCase OrderUseCaseInterface, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{useCase: useCase, tracer: tracer}
}

// Register mounts the vendor order routes.
func (h *OrderHandler) Register(vendor *gin.RouterGroup) {
	vendor.GET("/orders/:orderId", h.GetOrder)
	vendor.PATCH("/orders/:orderId/items/:productId/status", h.UpdateItemStatus)
	vendor.PATCH("/orders/:orderId/items/:productId/cancel", h.CancelItem)
}

// GetOrder retorna o pedido visto pelo vendedor
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.useCase.Get(c.Request.Context(), httpx.VendorID(c), c.Param("orderId"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, order)
}

// UpdateItemStatus avança o status de um item do vendedor
func (h *OrderHandler) UpdateItemStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.update_item_status")
	defer span.End()

	var body UpdateStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		span.RecordError(err)
		httpx.BadRequest(c, err)
		return
	}
	status, err := ParseLineStatus(body.Status)
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", c.Param("orderId")),
		attribute.String("product_id", c.Param("productId")),
		attribute.String("status", status.String()),
	)

	order, err := h.useCase.UpdateItemStatus(ctx, UpdateItemStatusRequest{
		VendorID:       httpx.VendorID(c),
		OrderRef:       c.Param("orderId"),
		ProductID:      c.Param("productId"),
		Status:         status,
		TrackingNumber: body.TrackingNumber,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, order)
}

// CancelItem cancela o item do vendedor e devolve o estoque
func (h *OrderHandler) CancelItem(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.cancel_item")
	defer span.End()

	var body CancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		span.RecordError(err)
		httpx.BadRequest(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", c.Param("orderId")),
		attribute.String("product_id", c.Param("productId")),
	)

	order, err := h.useCase.CancelItem(ctx, CancelItemRequest{
		VendorID:  httpx.VendorID(c),
		OrderRef:  c.Param("orderId"),
		ProductID: c.Param("productId"),
		Reason:    body.Reason,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, order)
}
