package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Persisted bot statuses.
const (
	BotActive         = "ACTIVE"
	BotCompleted      = "COMPLETED"
	BotSoftStoppedOut = "SOFT_STOPPED_OUT"
	BotHardStoppedOut = "HARD_STOPPED_OUT"
	BotStopped        = "STOPPED"
	BotError          = "ERROR"
)

// BotInstance is the persisted record of one bot.
type BotInstance struct {
	ID        string  `json:"id"`
	ChartID   string  `json:"chart_id"`
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	Strategy  string  `json:"strategy"`
	MultiBuy  bool    `json:"multi_buy"`
	TradeSize float64 `json:"trade_size"`
	Active    bool    `json:"active"`
	Running   bool    `json:"running"`
	Bought    bool    `json:"bought"`

	SharesEntered float64 `json:"shares_entered"`
	SharesExited  float64 `json:"shares_exited"`
	OpenShares    float64 `json:"open_shares"`
	EntryPrice    float64 `json:"entry_price"`

	EntryOrderID     string  `json:"entry_order_id"`
	EntryOrderStatus string  `json:"entry_order_status"`
	StopOrderID      string  `json:"stop_order_id"`
	StopOrderStatus  string  `json:"stop_order_status"`
	OptionSymbol     string  `json:"option_symbol,omitempty"`
	OptionPremium    float64 `json:"option_premium,omitempty"`

	Status      string     `json:"status"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BotEvent is one append-only audit record.
type BotEvent struct {
	ID        int64           `json:"id"`
	BotID     string          `json:"bot_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const botColumns = `id, chart_id, symbol, interval, strategy, multi_buy, trade_size, active, running, bought,
	shares_entered, shares_exited, open_shares, entry_price, entry_order_id, entry_order_status,
	stop_order_id, stop_order_status, option_symbol, option_premium, status, last_error,
	created_at, updated_at, completed_at`

// CreateBot inserts a new bot row.
func (d *Database) CreateBot(ctx context.Context, b BotInstance) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_instances (`+botColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.ChartID, b.Symbol, b.Interval, b.Strategy, boolToInt(b.MultiBuy), b.TradeSize,
		boolToInt(b.Active), boolToInt(b.Running), boolToInt(b.Bought),
		b.SharesEntered, b.SharesExited, b.OpenShares, b.EntryPrice,
		b.EntryOrderID, nonEmpty(b.EntryOrderStatus, "NONE"), b.StopOrderID, nonEmpty(b.StopOrderStatus, "NONE"),
		b.OptionSymbol, b.OptionPremium, nonEmpty(b.Status, BotActive), b.LastError,
		b.CreatedAt, now, b.CompletedAt)
	if err != nil {
		return fmt.Errorf("create bot %s: %w", b.ID, err)
	}
	return nil
}

// GetBot loads one bot. Returns ErrNotFound when missing.
func (d *Database) GetBot(ctx context.Context, id string) (*BotInstance, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bot_instances WHERE id = ?`, id)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bot %s: %w", id, err)
	}
	return b, nil
}

// ListBots returns all bots, newest first.
func (d *Database) ListBots(ctx context.Context) ([]BotInstance, error) {
	return d.queryBots(ctx, `SELECT `+botColumns+` FROM bot_instances ORDER BY created_at DESC`)
}

// ListActiveBots returns bots flagged active, used for startup recovery.
func (d *Database) ListActiveBots(ctx context.Context) ([]BotInstance, error) {
	return d.queryBots(ctx, `SELECT `+botColumns+` FROM bot_instances WHERE active = 1 ORDER BY created_at`)
}

func (d *Database) queryBots(ctx context.Context, query string, args ...any) ([]BotInstance, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var out []BotInstance
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// SetBotFlags toggles the lifecycle flags and status.
func (d *Database) SetBotFlags(ctx context.Context, id string, active, running bool, status string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_instances SET active = ?, running = ?, status = ?, updated_at = ? WHERE id = ?
	`, boolToInt(active), boolToInt(running), status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set flags of bot %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveBotState writes counters, order fields and status of a bot.
func (d *Database) SaveBotState(ctx context.Context, b BotInstance) error {
	if b.OpenShares < 0 {
		return fmt.Errorf("bot %s: open shares %.4f is negative", b.ID, b.OpenShares)
	}
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_instances SET
			active = ?, running = ?, bought = ?,
			shares_entered = ?, shares_exited = ?, open_shares = ?, entry_price = ?,
			entry_order_id = ?, entry_order_status = ?, stop_order_id = ?, stop_order_status = ?,
			option_symbol = ?, option_premium = ?, status = ?, last_error = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?
	`, boolToInt(b.Active), boolToInt(b.Running), boolToInt(b.Bought),
		b.SharesEntered, b.SharesExited, b.OpenShares, b.EntryPrice,
		b.EntryOrderID, b.EntryOrderStatus, b.StopOrderID, b.StopOrderStatus,
		b.OptionSymbol, b.OptionPremium, b.Status, b.LastError,
		b.CompletedAt, time.Now().UTC(), b.ID)
	if err != nil {
		return fmt.Errorf("save bot %s: %w", b.ID, err)
	}
	return nil
}

// BotEventInsert returns the statement and arguments that append e, for
// callers that batch writes in their own transaction.
func BotEventInsert(e BotEvent) (string, []any) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return `INSERT INTO bot_events (bot_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		[]any{e.BotID, e.Type, string(payload), e.CreatedAt}
}

// InsertBotEvent appends one audit record.
func (d *Database) InsertBotEvent(ctx context.Context, e BotEvent) error {
	query, args := BotEventInsert(e)
	if _, err := d.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event %s for bot %s: %w", e.Type, e.BotID, err)
	}
	return nil
}

// ListBotEvents returns the latest events of a bot, oldest first.
func (d *Database) ListBotEvents(ctx context.Context, botID string, limit int) ([]BotEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, event_type, payload, created_at FROM (
			SELECT id, bot_id, event_type, payload, created_at
			FROM bot_events WHERE bot_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []BotEvent
	for rows.Next() {
		var (
			e   BotEvent
			raw string
		)
		if err := rows.Scan(&e.ID, &e.BotID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = json.RawMessage(raw)
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBot(s scanner) (*BotInstance, error) {
	var (
		b                                 BotInstance
		multiBuy, active, running, bought int
		completedAt                       sql.NullTime
	)
	err := s.Scan(&b.ID, &b.ChartID, &b.Symbol, &b.Interval, &b.Strategy, &multiBuy, &b.TradeSize,
		&active, &running, &bought, &b.SharesEntered, &b.SharesExited, &b.OpenShares, &b.EntryPrice,
		&b.EntryOrderID, &b.EntryOrderStatus, &b.StopOrderID, &b.StopOrderStatus,
		&b.OptionSymbol, &b.OptionPremium, &b.Status, &b.LastError,
		&b.CreatedAt, &b.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	b.MultiBuy = multiBuy == 1
	b.Active = active == 1
	b.Running = running == 1
	b.Bought = bought == 1
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return &b, nil
}

func nonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
