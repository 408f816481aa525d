package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Anchor is a stored trend line point.
type Anchor struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// TrendLine is one drawn line of a chart.
type TrendLine struct {
	ID      string
	ChartID string
	Label   string
	Anchors []Anchor
}

// ChartConfiguration is the chart a bot trades from.
type ChartConfiguration struct {
	ID        string
	Symbol    string
	Interval  string
	Strategy  string // spot | options
	MultiBuy  bool
	TradeSize float64
	Lines     []TrendLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RiskConfiguration holds stop settings for one interval bucket (5m, 15m, 1h).
type RiskConfiguration struct {
	Bucket           string
	SoftStopPct      float64
	SoftStopMinutes  float64
	HardStopPct      float64
	DefaultTradeSize float64
	UpdatedAt        time.Time
}

// UpsertChart writes a chart and replaces its lines in one transaction.
func (d *Database) UpsertChart(ctx context.Context, c ChartConfiguration) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertChartTx(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertChartTx(ctx context.Context, tx *sql.Tx, c ChartConfiguration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chart_configurations (id, symbol, interval, strategy, multi_buy, trade_size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			interval = excluded.interval,
			strategy = excluded.strategy,
			multi_buy = excluded.multi_buy,
			trade_size = excluded.trade_size,
			updated_at = CURRENT_TIMESTAMP
	`, c.ID, c.Symbol, c.Interval, c.Strategy, boolToInt(c.MultiBuy), c.TradeSize)
	if err != nil {
		return fmt.Errorf("upsert chart %s: %w", c.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trend_lines WHERE chart_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear lines of chart %s: %w", c.ID, err)
	}
	for i, l := range c.Lines {
		anchors, err := json.Marshal(l.Anchors)
		if err != nil {
			return fmt.Errorf("marshal anchors of line %s: %w", l.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trend_lines (id, chart_id, label, anchors, position) VALUES (?, ?, ?, ?, ?)
		`, l.ID, c.ID, l.Label, string(anchors), i); err != nil {
			return fmt.Errorf("insert line %s: %w", l.ID, err)
		}
	}
	return nil
}

// GetChart loads a chart with its lines. Returns ErrNotFound when missing.
func (d *Database) GetChart(ctx context.Context, id string) (*ChartConfiguration, error) {
	var (
		c        ChartConfiguration
		multiBuy int
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, interval, strategy, multi_buy, trade_size, created_at, updated_at
		FROM chart_configurations WHERE id = ?
	`, id).Scan(&c.ID, &c.Symbol, &c.Interval, &c.Strategy, &multiBuy, &c.TradeSize, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chart %s: %w", id, err)
	}
	c.MultiBuy = multiBuy == 1

	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, chart_id, label, anchors FROM trend_lines WHERE chart_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query lines of chart %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l   TrendLine
			raw string
		)
		if err := rows.Scan(&l.ID, &l.ChartID, &l.Label, &raw); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &l.Anchors); err != nil {
			return nil, fmt.Errorf("decode anchors of line %s: %w", l.ID, err)
		}
		c.Lines = append(c.Lines, l)
	}
	return &c, rows.Err()
}

// ChartExists reports whether a chart row is present.
func (d *Database) ChartExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := d.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM chart_configurations WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("count chart %s: %w", id, err)
	}
	return n > 0, nil
}

// DeleteChart removes a chart and its lines.
func (d *Database) DeleteChart(ctx context.Context, id string) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM trend_lines WHERE chart_id = ?`, id); err != nil {
		return fmt.Errorf("delete lines of chart %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chart_configurations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chart %s: %w", id, err)
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertRiskConfig writes the settings of one bucket.
func (d *Database) UpsertRiskConfig(ctx context.Context, r RiskConfiguration) error {
	return upsertRisk(ctx, d.DB, r)
}

func upsertRisk(ctx context.Context, ex execer, r RiskConfiguration) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO risk_configurations (bucket, soft_stop_pct, soft_stop_minutes, hard_stop_pct, default_trade_size, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(bucket) DO UPDATE SET
			soft_stop_pct = excluded.soft_stop_pct,
			soft_stop_minutes = excluded.soft_stop_minutes,
			hard_stop_pct = excluded.hard_stop_pct,
			default_trade_size = excluded.default_trade_size,
			updated_at = CURRENT_TIMESTAMP
	`, r.Bucket, r.SoftStopPct, r.SoftStopMinutes, r.HardStopPct, r.DefaultTradeSize)
	if err != nil {
		return fmt.Errorf("upsert risk config %s: %w", r.Bucket, err)
	}
	return nil
}

// GetRiskConfig loads one bucket. Returns ErrNotFound when missing.
func (d *Database) GetRiskConfig(ctx context.Context, bucket string) (*RiskConfiguration, error) {
	var r RiskConfiguration
	err := d.DB.QueryRowContext(ctx, `
		SELECT bucket, soft_stop_pct, soft_stop_minutes, hard_stop_pct, default_trade_size, updated_at
		FROM risk_configurations WHERE bucket = ?
	`, bucket).Scan(&r.Bucket, &r.SoftStopPct, &r.SoftStopMinutes, &r.HardStopPct, &r.DefaultTradeSize, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk config %s: %w", bucket, err)
	}
	return &r, nil
}

// Seed upserts charts and risk buckets in a single transaction.
func (d *Database) Seed(ctx context.Context, charts []ChartConfiguration, risks []RiskConfiguration) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range charts {
		if err := upsertChartTx(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, r := range risks {
		if err := upsertRisk(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
