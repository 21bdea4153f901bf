package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"signal-bridge/pkg/types"
)

// Memory is an in-process Store used by tests and DSN-less deployments.
// All state is lost on restart.
type Memory struct {
	mu            sync.RWMutex
	signals       map[string]*types.Signal
	events        map[string][]types.SignalEvent
	providers     map[string]*types.Provider
	subscriptions map[string]*types.WebhookSubscription
	deliveryLogs  []*types.DeliveryLog
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		signals:       make(map[string]*types.Signal),
		events:        make(map[string][]types.SignalEvent),
		providers:     make(map[string]*types.Provider),
		subscriptions: make(map[string]*types.WebhookSubscription),
	}
}

func (m *Memory) Close() error { return nil }

// copySignal guards against callers mutating shared state.
func copySignal(s *types.Signal) *types.Signal {
	c := *s
	return &c
}

func (m *Memory) InsertSignal(ctx context.Context, sig *types.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[sig.ID] = copySignal(sig)
	return nil
}

func (m *Memory) UpdateSignal(ctx context.Context, sig *types.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[sig.ID]; !ok {
		return ErrNotFound
	}
	m.signals[sig.ID] = copySignal(sig)
	return nil
}

func (m *Memory) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.signals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySignal(sig), nil
}

func (m *Memory) ListSignalsDue(ctx context.Context, now time.Time, limit int) ([]*types.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*types.Signal
	for _, sig := range m.signals {
		if sig.Status.IsMonitorable() && !sig.NextPollAt.After(now) {
			due = append(due, copySignal(sig))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextPollAt.Before(due[j].NextPollAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ListRecentSignals(ctx context.Context, providerID string, since time.Time) ([]*types.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Signal
	for _, sig := range m.signals {
		if providerID != "" && sig.ProviderID != providerID {
			continue
		}
		if sig.CreatedAt.Before(since) {
			continue
		}
		out = append(out, copySignal(sig))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListSignals(ctx context.Context, filter SignalFilter) ([]*types.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Signal
	for _, sig := range m.signals {
		if filter.ProviderID != "" && sig.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Symbol != "" && sig.Symbol != filter.Symbol {
			continue
		}
		if filter.Status != "" && sig.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && sig.EntryTime.Before(filter.Since) {
			continue
		}
		out = append(out, copySignal(sig))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) CountOpenSignals(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sig := range m.signals {
		if sig.Status.IsMonitorable() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertEvent(ctx context.Context, ev *types.SignalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.SignalID] = append(m.events[ev.SignalID], *ev)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, signalID string) ([]types.SignalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := append([]types.SignalEvent(nil), m.events[signalID]...)
	sort.Slice(events, func(i, j int) bool { return events[i].EventTime.Before(events[j].EventTime) })
	return events, nil
}

func (m *Memory) CreateProvider(ctx context.Context, p *types.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.providers[p.ID] = &c
	return nil
}

func (m *Memory) GetProvider(ctx context.Context, id string) (*types.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *Memory) GetProviderByKeyHash(ctx context.Context, hash string) (*types.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.APIKeyHash == hash && p.IsActive {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetProviderByName(ctx context.Context, name string) (*types.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if strings.EqualFold(p.Name, name) {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FirstActiveProvider(ctx context.Context) (*types.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest *types.Provider
	for _, p := range m.providers {
		if !p.IsActive {
			continue
		}
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	c := *oldest
	return &c, nil
}

func (m *Memory) ListProviders(ctx context.Context) ([]*types.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateProvider(ctx context.Context, p *types.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID]; !ok {
		return ErrNotFound
	}
	c := *p
	m.providers[p.ID] = &c
	return nil
}

func copySubscription(s *types.WebhookSubscription) *types.WebhookSubscription {
	c := *s
	c.EventTypes = append([]types.EventType(nil), s.EventTypes...)
	if s.Headers != nil {
		c.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

func (m *Memory) CreateSubscription(ctx context.Context, sub *types.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (*types.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySubscription(sub), nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, providerID string, activeOnly bool) ([]*types.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.WebhookSubscription
	for _, sub := range m.subscriptions {
		if providerID != "" && sub.ProviderID != providerID {
			continue
		}
		if activeOnly && !sub.IsActive {
			continue
		}
		out = append(out, copySubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSubscription(ctx context.Context, sub *types.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (m *Memory) RecordDeliverySuccess(ctx context.Context, subID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subID]
	if !ok {
		return ErrNotFound
	}
	sub.ConsecutiveFailures = 0
	sub.LastDeliveryAt = &at
	return nil
}

func (m *Memory) RecordDeliveryFailure(ctx context.Context, subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subID]
	if !ok {
		return ErrNotFound
	}
	sub.ConsecutiveFailures++
	return nil
}

func (m *Memory) ResetSubscriptionFailures(ctx context.Context, subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subID]
	if !ok {
		return ErrNotFound
	}
	sub.ConsecutiveFailures = 0
	return nil
}

func (m *Memory) InsertDeliveryLog(ctx context.Context, log *types.DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *log
	m.deliveryLogs = append(m.deliveryLogs, &c)
	return nil
}

func (m *Memory) ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]*types.DeliveryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.DeliveryLog
	for i := len(m.deliveryLogs) - 1; i >= 0; i-- {
		l := m.deliveryLogs[i]
		if webhookID != "" && l.WebhookID != webhookID {
			continue
		}
		c := *l
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
