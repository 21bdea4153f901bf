// Package store provides persistence for signals, events, providers,
// webhook subscriptions, and delivery logs.
//
// Two implementations satisfy the Store interface: Postgres (production)
// and Memory (tests, demos). The engine takes the interface; nothing in
// the core knows which backend is behind it.
package store

import (
	"context"
	"errors"
	"time"

	"signal-bridge/pkg/types"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// SignalFilter narrows ListSignals. Zero-valued fields are ignored.
type SignalFilter struct {
	ProviderID string
	Symbol     string
	Status     types.Status
	Since      time.Time
	Limit      int
}

// Store is the persistence contract the engine depends on.
type Store interface {
	// Signals
	InsertSignal(ctx context.Context, sig *types.Signal) error
	UpdateSignal(ctx context.Context, sig *types.Signal) error
	GetSignal(ctx context.Context, id string) (*types.Signal, error)
	// ListSignalsDue returns up to limit monitorable signals with
	// next_poll_at <= now, oldest due first.
	ListSignalsDue(ctx context.Context, now time.Time, limit int) ([]*types.Signal, error)
	// ListRecentSignals returns open signals for duplicate detection.
	ListRecentSignals(ctx context.Context, providerID string, since time.Time) ([]*types.Signal, error)
	ListSignals(ctx context.Context, filter SignalFilter) ([]*types.Signal, error)
	CountOpenSignals(ctx context.Context) (int, error)

	// Events
	InsertEvent(ctx context.Context, ev *types.SignalEvent) error
	ListEvents(ctx context.Context, signalID string) ([]types.SignalEvent, error)

	// Providers
	CreateProvider(ctx context.Context, p *types.Provider) error
	GetProvider(ctx context.Context, id string) (*types.Provider, error)
	GetProviderByKeyHash(ctx context.Context, hash string) (*types.Provider, error)
	GetProviderByName(ctx context.Context, name string) (*types.Provider, error)
	// FirstActiveProvider returns the oldest active provider, ErrNotFound
	// when none exists.
	FirstActiveProvider(ctx context.Context) (*types.Provider, error)
	ListProviders(ctx context.Context) ([]*types.Provider, error)
	UpdateProvider(ctx context.Context, p *types.Provider) error

	// Webhook subscriptions
	CreateSubscription(ctx context.Context, sub *types.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*types.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, providerID string, activeOnly bool) ([]*types.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, sub *types.WebhookSubscription) error
	// RecordDeliverySuccess zeroes consecutive_failures and stamps
	// last_delivery_at; RecordDeliveryFailure increments the counter.
	RecordDeliverySuccess(ctx context.Context, subID string, at time.Time) error
	RecordDeliveryFailure(ctx context.Context, subID string) error
	ResetSubscriptionFailures(ctx context.Context, subID string) error

	// Delivery logs
	InsertDeliveryLog(ctx context.Context, log *types.DeliveryLog) error
	ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]*types.DeliveryLog, error)

	Close() error
}
