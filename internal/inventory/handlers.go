package inventory

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/httpx"
)

// UseCase define a interface consumida pelos handlers HTTP
type UseCase interface {
	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	Consume(ctx context.Context, vendorID, reservationID string) (*Reservation, error)
	GetReservation(ctx context.Context, vendorID, reservationID string) (*Reservation, error)
	Subscribe(ctx context.Context, req SubscribeRequest) (*AlertSubscription, error)
}

// CreateReservationRequest representa a requisição para reservar estoque
type CreateReservationRequest struct {
	ProductID string `json:"productId" binding:"required"`
	SKU       string `json:"sku"`
	Qty       int    `json:"qty" binding:"required,gt=0"`
	Minutes   int    `json:"minutes" binding:"omitempty,gte=1,lte=120"`
}

// CreateSubscriptionRequest representa a requisição de alerta de estoque baixo
type CreateSubscriptionRequest struct {
	ProductID string `json:"productId" binding:"required"`
	SKU       string `json:"sku"`
	Threshold int    `json:"threshold" binding:"required,gt=0"`
}

// Handler contém os handlers HTTP de inventário
type Handler struct {
	useCase UseCase
	tracer  trace.Tracer
}

// NewHandler cria uma nova instância de Handler
func NewHandler(useCase UseCase, tracer trace.Tracer) *Handler {
	return &Handler{useCase: useCase, tracer: tracer}
}

// Register mounts the vendor inventory routes.
func (h *Handler) Register(vendor *gin.RouterGroup) {
	vendor.POST("/inventory/reservations", h.CreateReservation)
	vendor.GET("/inventory/reservations/:id", h.GetReservation)
	vendor.PATCH("/inventory/reservations/:id/consume", h.ConsumeReservation)
	vendor.POST("/inventory/alerts", h.CreateSubscription)
}

// CreateReservation reserva estoque por um tempo limitado
func (h *Handler) CreateReservation(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.create_reservation")
	defer span.End()

	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		httpx.BadRequest(c, err)
		return
	}

	vendorID := httpx.VendorID(c)
	span.SetAttributes(
		attribute.String("vendor_id", vendorID),
		attribute.String("product_id", req.ProductID),
		attribute.Int("qty", req.Qty),
	)

	reservation, err := h.useCase.Reserve(ctx, ReserveRequest{
		VendorID:  vendorID,
		ProductID: req.ProductID,
		SKU:       req.SKU,
		Qty:       req.Qty,
		Minutes:   req.Minutes,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.Created(c, reservation)
}

// GetReservation retorna uma reserva do vendedor
func (h *Handler) GetReservation(c *gin.Context) {
	reservation, err := h.useCase.GetReservation(c.Request.Context(), httpx.VendorID(c), c.Param("id"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, reservation)
}

// ConsumeReservation finaliza uma reserva ativa
func (h *Handler) ConsumeReservation(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.consume_reservation")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", c.Param("id")))

	reservation, err := h.useCase.Consume(ctx, httpx.VendorID(c), c.Param("id"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, reservation)
}

// CreateSubscription registra um alerta de estoque baixo
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	sub, err := h.useCase.Subscribe(c.Request.Context(), SubscribeRequest{
		VendorID:  httpx.VendorID(c),
		ProductID: req.ProductID,
		SKU:       req.SKU,
		Threshold: req.Threshold,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.Created(c, sub)
}
