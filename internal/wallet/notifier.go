package wallet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	gidPrefix  = "payout-"
	attemptSep = "_"
)

// PayoutPaidEvent is sent to the notification collaborator.
type PayoutPaidEvent struct {
	PayoutRequestID string          `json:"payout_request_id"`
	VendorID        string          `json:"vendor_id"`
	Amount          decimal.Decimal `json:"amount"`
	// Manual trace context propagation (DTM doesn't propagate W3C headers)
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// PayoutNotifier runs apply, the local paid transition, and notifies the
// notification collaborator only if apply committed.
type PayoutNotifier interface {
	PaidAndNotify(ctx context.Context, payout *PayoutRequest, apply func(ctx context.Context) error) error
}

// GID is the DTM global transaction id of one mark-paid attempt. DTM never
// reuses an aborted gid, so every attempt gets its own suffix.
func GID(payoutID string, attempt int64) string {
	return gidPrefix + payoutID + attemptSep + strconv.FormatInt(attempt, 10)
}

// PayoutIDFromGID reverses GID. Gids without an attempt suffix are accepted.
func PayoutIDFromGID(gid string) (string, bool) {
	id, ok := strings.CutPrefix(gid, gidPrefix)
	if !ok {
		return "", false
	}
	if base, attempt, found := strings.Cut(id, attemptSep); found {
		if _, err := strconv.ParseInt(attempt, 10, 64); err != nil {
			return "", false
		}
		id = base
	}
	if id == "" {
		return "", false
	}
	return id, true
}

func newPaidEvent(ctx context.Context, p *PayoutRequest) PayoutPaidEvent {
	event := PayoutPaidEvent{PayoutRequestID: p.ID, VendorID: p.VendorID, Amount: p.Amount}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		event.SpanID = span.SpanContext().SpanID().String()
	}
	return event
}

// DTMNotifier wraps the transition in a DTM two-phase message. DTM calls the
// query-prepared endpoint to learn whether apply committed when the
// outcome is unknown, and delivers the notification at least once.
type DTMNotifier struct {
	server        string
	queryPrepared string
	notifyURL     string
	logger        *zap.Logger
}

// NewDTMNotifier cria um notificador baseado em mensagens DTM
func NewDTMNotifier(server, serviceURL, notifyURL string, logger *zap.Logger) *DTMNotifier {
	return &DTMNotifier{
		server:        server,
		queryPrepared: strings.TrimRight(serviceURL, "/") + "/api/dtm/payouts/query-prepared",
		notifyURL:     strings.TrimRight(notifyURL, "/") + "/api/notifications/payout-paid",
		logger:        logger,
	}
}

func (n *DTMNotifier) PaidAndNotify(ctx context.Context, payout *PayoutRequest, apply func(ctx context.Context) error) error {
	gid := GID(payout.ID, time.Now().UnixNano())
	event := newPaidEvent(ctx, payout)

	n.logger.Info("🚀 Starting DTM msg",
		zap.String("gid", gid),
		zap.String("trace_id", event.TraceID),
		zap.String("payout_request_id", payout.ID),
	)

	msg := dtmcli.NewMsg(n.server, gid).Add(n.notifyURL, &event)
	err := msg.DoAndSubmit(n.queryPrepared, func(bb *dtmcli.BranchBarrier) error {
		return apply(ctx)
	})
	if err != nil {
		n.logger.Error("❌ DTM msg failed", zap.String("gid", gid), zap.Error(err))
		return err
	}

	n.logger.Info("✅ DTM msg submitted successfully", zap.String("gid", gid))
	return nil
}

// DirectNotifier applies the transition and then posts the notification
// once, best effort. Used when DTM is disabled.
type DirectNotifier struct {
	client *resty.Client
	logger *zap.Logger
}

// NewDirectNotifier cria um notificador HTTP simples. An empty notifyURL
// only logs.
func NewDirectNotifier(notifyURL string, timeout time.Duration, logger *zap.Logger) *DirectNotifier {
	n := &DirectNotifier{logger: logger}
	if notifyURL != "" {
		n.client = resty.New().
			SetBaseURL(notifyURL).
			SetTimeout(timeout).
			SetRetryCount(2)
	}
	return n
}

func (n *DirectNotifier) PaidAndNotify(ctx context.Context, payout *PayoutRequest, apply func(ctx context.Context) error) error {
	if err := apply(ctx); err != nil {
		return err
	}

	event := newPaidEvent(ctx, payout)
	if n.client == nil {
		n.logger.Info("📤 Payout paid", zap.String("payout_request_id", payout.ID), zap.String("vendor_id", payout.VendorID))
		return nil
	}

	resp, err := n.client.R().SetContext(ctx).SetBody(&event).Post("/api/notifications/payout-paid")
	if err == nil && resp.IsError() {
		err = fmt.Errorf("notification service returned %d", resp.StatusCode())
	}
	if err != nil {
		// the payout is already paid; a lost notification must not undo it
		n.logger.Error("❌ Failed to notify payout paid", zap.String("payout_request_id", payout.ID), zap.Error(err))
	}
	return nil
}
