package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"signal-bridge/internal/metrics"
	"signal-bridge/internal/store"
	"signal-bridge/pkg/types"
)

const responseExcerptLimit = 200

// Sender performs the actual HTTP delivery of a signed payload to one
// subscription, with a fixed retry schedule. It records the final outcome
// on the subscription counters and the delivery log.
type Sender struct {
	http         *resty.Client
	store        store.Store
	retryOffsets []time.Duration
	logger       *slog.Logger
}

// NewSender creates a delivery sender. retryOffsets are the sleeps before
// each retry; the first attempt is immediate.
func NewSender(st store.Store, timeout time.Duration, retryOffsets []time.Duration, logger *slog.Logger) *Sender {
	return &Sender{
		http:         resty.New().SetTimeout(timeout),
		store:        st,
		retryOffsets: retryOffsets,
		logger:       logger.With("component", "delivery"),
	}
}

// Deliver sends one payload to one subscription, retrying per schedule.
// Returns true when any attempt succeeded. A context cancellation aborts
// without touching the failure counter: an unattempted delivery is not a
// failed one.
func (s *Sender) Deliver(ctx context.Context, sub *types.WebhookSubscription, payload EventPayload, secret string) bool {
	body, err := payload.Encode()
	if err != nil {
		s.logger.Error("encode payload", "event_id", payload.EventID, "error", err)
		return false
	}
	signature := Sign(secret, body)

	var lastStatus int
	var lastExcerpt string

	attempts := 1 + len(s.retryOffsets)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.DeliveryRetries.Inc()
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.retryOffsets[attempt-1]):
			}
		}

		status, excerpt, err := s.send(ctx, sub, body, signature, payload.EventID)
		if ctx.Err() != nil {
			return false
		}
		lastStatus, lastExcerpt = status, excerpt
		if err != nil {
			s.logger.Warn("delivery attempt failed",
				"webhook_id", sub.ID,
				"event_id", payload.EventID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		if status < 300 {
			s.finish(ctx, sub, payload.EventID, status, excerpt, true)
			return true
		}
		s.logger.Warn("delivery attempt rejected",
			"webhook_id", sub.ID,
			"event_id", payload.EventID,
			"attempt", attempt+1,
			"status", status,
		)
	}

	s.finish(ctx, sub, payload.EventID, lastStatus, lastExcerpt, false)
	return false
}

func (s *Sender) send(ctx context.Context, sub *types.WebhookSubscription, body []byte, signature, eventID string) (int, string, error) {
	req := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Idempotency-Key", eventID).
		SetHeader("X-Signature", signature).
		SetBody(body)
	for k, v := range sub.Headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(sub.URL)
	if err != nil {
		return 0, "", err
	}

	excerpt := resp.String()
	if len(excerpt) > responseExcerptLimit {
		excerpt = excerpt[:responseExcerptLimit]
	}
	return resp.StatusCode(), excerpt, nil
}

// finish records the final outcome: subscription counters plus one
// delivery log row.
func (s *Sender) finish(ctx context.Context, sub *types.WebhookSubscription, eventID string, status int, excerpt string, success bool) {
	if success {
		metrics.Deliveries.WithLabelValues("success").Inc()
		if err := s.store.RecordDeliverySuccess(ctx, sub.ID, time.Now().UTC()); err != nil {
			s.logger.Error("record delivery success", "webhook_id", sub.ID, "error", err)
		}
	} else {
		metrics.Deliveries.WithLabelValues("failure").Inc()
		if err := s.store.RecordDeliveryFailure(ctx, sub.ID); err != nil {
			s.logger.Error("record delivery failure", "webhook_id", sub.ID, "error", err)
		}
	}

	entry := &types.DeliveryLog{
		ID:              uuid.NewString(),
		WebhookID:       sub.ID,
		EventID:         eventID,
		URL:             sub.URL,
		StatusCode:      status,
		Success:         success,
		ResponseExcerpt: excerpt,
		LoggedAt:        time.Now().UTC(),
	}
	if err := s.store.InsertDeliveryLog(ctx, entry); err != nil {
		s.logger.Error("insert delivery log", "webhook_id", sub.ID, "error", err)
	}

	s.logger.Info("delivery finished",
		"webhook_id", sub.ID,
		"event_id", eventID,
		"status", status,
		"success", success,
	)
}
