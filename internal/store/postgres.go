package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"signal-bridge/pkg/types"
)

// Postgres implements Store on top of PostgreSQL via sqlx.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects, applies the pool limits, and verifies the
// connection with a ping.
func OpenPostgres(ctx context.Context, dsn string, maxOpen, maxIdle int) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

const signalColumns = `id, provider_id, external_signal_id, strategy_name, symbol, asset_class,
	direction, entry_price, sl, tp1, tp2, tp3, risk_distance, rr_ratio, status,
	entry_time, activated_at, closed_at, exit_price, close_reason, r_value, pnl_pct,
	max_favorable, max_adverse, next_poll_at, last_price, last_price_at, raw_payload, created_at`

func (p *Postgres) InsertSignal(ctx context.Context, sig *types.Signal) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES (:id, :provider_id, :external_signal_id, :strategy_name, :symbol, :asset_class,
			:direction, :entry_price, :sl, :tp1, :tp2, :tp3, :risk_distance, :rr_ratio, :status,
			:entry_time, :activated_at, :closed_at, :exit_price, :close_reason, :r_value, :pnl_pct,
			:max_favorable, :max_adverse, :next_poll_at, :last_price, :last_price_at, :raw_payload, :created_at)`,
		sig)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateSignal(ctx context.Context, sig *types.Signal) error {
	res, err := p.db.NamedExecContext(ctx, `
		UPDATE signals SET
			status = :status,
			activated_at = :activated_at,
			closed_at = :closed_at,
			exit_price = :exit_price,
			close_reason = :close_reason,
			r_value = :r_value,
			pnl_pct = :pnl_pct,
			max_favorable = :max_favorable,
			max_adverse = :max_adverse,
			next_poll_at = :next_poll_at,
			last_price = :last_price,
			last_price_at = :last_price_at
		WHERE id = :id`,
		sig)
	if err != nil {
		return fmt.Errorf("update signal: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	var sig types.Signal
	err := p.db.GetContext(ctx, &sig,
		`SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return &sig, nil
}

func (p *Postgres) ListSignalsDue(ctx context.Context, now time.Time, limit int) ([]*types.Signal, error) {
	var sigs []*types.Signal
	err := p.db.SelectContext(ctx, &sigs, `
		SELECT `+signalColumns+` FROM signals
		WHERE status IN ('PENDING','ACTIVE','TP1_HIT','TP2_HIT','TP3_HIT')
		  AND next_poll_at <= $1
		ORDER BY next_poll_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due signals: %w", err)
	}
	return sigs, nil
}

func (p *Postgres) ListRecentSignals(ctx context.Context, providerID string, since time.Time) ([]*types.Signal, error) {
	var sigs []*types.Signal
	err := p.db.SelectContext(ctx, &sigs, `
		SELECT `+signalColumns+` FROM signals
		WHERE ($1 = '' OR provider_id = $1) AND created_at >= $2
		ORDER BY created_at DESC`, providerID, since)
	if err != nil {
		return nil, fmt.Errorf("list recent signals: %w", err)
	}
	return sigs, nil
}

func (p *Postgres) ListSignals(ctx context.Context, filter SignalFilter) ([]*types.Signal, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var sigs []*types.Signal
	err := p.db.SelectContext(ctx, &sigs, `
		SELECT `+signalColumns+` FROM signals
		WHERE ($1 = '' OR provider_id = $1)
		  AND ($2 = '' OR symbol = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4::timestamptz IS NULL OR entry_time >= $4)
		ORDER BY entry_time DESC
		LIMIT $5`,
		filter.ProviderID, filter.Symbol, string(filter.Status), nullTime(filter.Since), limit)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	return sigs, nil
}

func (p *Postgres) CountOpenSignals(ctx context.Context) (int, error) {
	var n int
	err := p.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM signals
		WHERE status IN ('PENDING','ACTIVE','TP1_HIT','TP2_HIT','TP3_HIT')`)
	if err != nil {
		return 0, fmt.Errorf("count open signals: %w", err)
	}
	return n, nil
}

func (p *Postgres) InsertEvent(ctx context.Context, ev *types.SignalEvent) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO signal_events (id, signal_id, event_type, price, source, event_time, metadata)
		VALUES (:id, :signal_id, :event_type, :price, :source, :event_time, :metadata)`,
		ev)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (p *Postgres) ListEvents(ctx context.Context, signalID string) ([]types.SignalEvent, error) {
	var events []types.SignalEvent
	err := p.db.SelectContext(ctx, &events, `
		SELECT id, signal_id, event_type, price, source, event_time, metadata
		FROM signal_events WHERE signal_id = $1 ORDER BY event_time ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (p *Postgres) CreateProvider(ctx context.Context, prov *types.Provider) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO providers (id, name, description, api_key_hash, webhook_secret, is_active, created_at, updated_at)
		VALUES (:id, :name, :description, :api_key_hash, :webhook_secret, :is_active, :created_at, :updated_at)`,
		prov)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

const providerColumns = `id, name, description, api_key_hash, webhook_secret, is_active, created_at, updated_at`

func (p *Postgres) getProvider(ctx context.Context, where string, args ...any) (*types.Provider, error) {
	var prov types.Provider
	err := p.db.GetContext(ctx, &prov,
		`SELECT `+providerColumns+` FROM providers WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return &prov, nil
}

func (p *Postgres) GetProvider(ctx context.Context, id string) (*types.Provider, error) {
	return p.getProvider(ctx, `id = $1`, id)
}

func (p *Postgres) GetProviderByKeyHash(ctx context.Context, hash string) (*types.Provider, error) {
	return p.getProvider(ctx, `api_key_hash = $1 AND is_active`, hash)
}

func (p *Postgres) GetProviderByName(ctx context.Context, name string) (*types.Provider, error) {
	return p.getProvider(ctx, `LOWER(name) = LOWER($1)`, name)
}

func (p *Postgres) FirstActiveProvider(ctx context.Context) (*types.Provider, error) {
	return p.getProvider(ctx, `is_active ORDER BY created_at ASC LIMIT 1`)
}

func (p *Postgres) ListProviders(ctx context.Context) ([]*types.Provider, error) {
	var provs []*types.Provider
	err := p.db.SelectContext(ctx, &provs,
		`SELECT `+providerColumns+` FROM providers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return provs, nil
}

func (p *Postgres) UpdateProvider(ctx context.Context, prov *types.Provider) error {
	res, err := p.db.NamedExecContext(ctx, `
		UPDATE providers SET name = :name, description = :description,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`, prov)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	return checkAffected(res)
}

// subscriptionRow flattens the JSONB columns for sqlx scanning.
type subscriptionRow struct {
	types.WebhookSubscription
	EventTypesJSON []byte `db:"event_types"`
	HeadersJSON    []byte `db:"headers"`
}

func (r *subscriptionRow) toSubscription() (*types.WebhookSubscription, error) {
	sub := r.WebhookSubscription
	if len(r.EventTypesJSON) > 0 {
		if err := json.Unmarshal(r.EventTypesJSON, &sub.EventTypes); err != nil {
			return nil, fmt.Errorf("decode event_types: %w", err)
		}
	}
	if len(r.HeadersJSON) > 0 {
		if err := json.Unmarshal(r.HeadersJSON, &sub.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	return &sub, nil
}

const subscriptionColumns = `id, provider_id, url, event_types, headers, is_active, consecutive_failures, last_delivery_at, created_at`

func (p *Postgres) CreateSubscription(ctx context.Context, sub *types.WebhookSubscription) error {
	eventTypes, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("encode event_types: %w", err)
	}
	headers, err := json.Marshal(sub.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.ProviderID, sub.URL, eventTypes, headers,
		sub.IsActive, sub.ConsecutiveFailures, sub.LastDeliveryAt, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (*types.WebhookSubscription, error) {
	var row subscriptionRow
	err := p.db.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return row.toSubscription()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, providerID string, activeOnly bool) ([]*types.WebhookSubscription, error) {
	var rows []subscriptionRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE ($1 = '' OR provider_id = $1) AND (NOT $2 OR is_active)
		ORDER BY created_at ASC`, providerID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	subs := make([]*types.WebhookSubscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toSubscription()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (p *Postgres) UpdateSubscription(ctx context.Context, sub *types.WebhookSubscription) error {
	eventTypes, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("encode event_types: %w", err)
	}
	headers, err := json.Marshal(sub.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET url = $2, event_types = $3, headers = $4, is_active = $5
		WHERE id = $1`,
		sub.ID, sub.URL, eventTypes, headers, sub.IsActive)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) RecordDeliverySuccess(ctx context.Context, subID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET consecutive_failures = 0, last_delivery_at = $2
		WHERE id = $1`, subID, at)
	if err != nil {
		return fmt.Errorf("record delivery success: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) RecordDeliveryFailure(ctx context.Context, subID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET consecutive_failures = consecutive_failures + 1
		WHERE id = $1`, subID)
	if err != nil {
		return fmt.Errorf("record delivery failure: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) ResetSubscriptionFailures(ctx context.Context, subID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET consecutive_failures = 0 WHERE id = $1`, subID)
	if err != nil {
		return fmt.Errorf("reset subscription failures: %w", err)
	}
	return checkAffected(res)
}

func (p *Postgres) InsertDeliveryLog(ctx context.Context, log *types.DeliveryLog) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO delivery_logs (id, webhook_id, event_id, url, status_code, success, response_excerpt, logged_at)
		VALUES (:id, :webhook_id, :event_id, :url, :status_code, :success, :response_excerpt, :logged_at)`,
		log)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

func (p *Postgres) ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]*types.DeliveryLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []*types.DeliveryLog
	err := p.db.SelectContext(ctx, &logs, `
		SELECT id, webhook_id, event_id, url, status_code, success, response_excerpt, logged_at
		FROM delivery_logs
		WHERE ($1 = '' OR webhook_id = $1)
		ORDER BY logged_at DESC
		LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	return logs, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
