package strategy

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trendline-core/pkg/db"
)

// AnchorConfig is one anchor point in the seed file.
type AnchorConfig struct {
	Time  time.Time `yaml:"time"`
	Price float64   `yaml:"price"`
}

// LineConfig is one drawn line in the seed file.
type LineConfig struct {
	ID      string         `yaml:"id"`
	Label   string         `yaml:"label"`
	Anchors []AnchorConfig `yaml:"anchors"`
}

// ChartConfig represents a chart entry in YAML.
type ChartConfig struct {
	ID        string       `yaml:"id"`
	Symbol    string       `yaml:"symbol"`
	Interval  string       `yaml:"interval"`
	Strategy  string       `yaml:"strategy"`
	MultiBuy  bool         `yaml:"multi_buy"`
	TradeSize float64      `yaml:"trade_size"`
	Lines     []LineConfig `yaml:"lines"`
}

// RiskConfig represents a risk bucket entry in YAML. Percentages are in percent units.
type RiskConfig struct {
	Bucket           string  `yaml:"bucket"`
	SoftStopPct      float64 `yaml:"soft_stop_pct"`
	SoftStopMinutes  float64 `yaml:"soft_stop_minutes"`
	HardStopPct      float64 `yaml:"hard_stop_pct"`
	DefaultTradeSize float64 `yaml:"default_trade_size"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Charts []ChartConfig `yaml:"charts"`
	Risk   []RiskConfig  `yaml:"risk"`
}

// LoadConfig reads and validates a seed file.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, c := range file.Charts {
		if c.ID == "" || c.Symbol == "" {
			return nil, fmt.Errorf("chart entries need id and symbol")
		}
		if _, err := ParseDirection(c.Strategy); err != nil {
			return nil, fmt.Errorf("chart %s: %w", c.ID, err)
		}
		for _, l := range c.Lines {
			if len(l.Anchors) < 2 {
				return nil, fmt.Errorf("chart %s line %s: needs at least two anchors", c.ID, l.ID)
			}
		}
	}
	return &file, nil
}

// SyncConfigToDB upserts charts and risk buckets from the seed file into the database.
func SyncConfigToDB(ctx context.Context, store *db.Database, file *ConfigFile) error {
	charts := make([]db.ChartConfiguration, 0, len(file.Charts))
	for _, c := range file.Charts {
		chart := db.ChartConfiguration{
			ID:        c.ID,
			Symbol:    c.Symbol,
			Interval:  c.Interval,
			Strategy:  c.Strategy,
			MultiBuy:  c.MultiBuy,
			TradeSize: c.TradeSize,
		}
		for i, l := range c.Lines {
			id := l.ID
			if id == "" {
				id = fmt.Sprintf("%s-line-%d", c.ID, i+1)
			}
			line := db.TrendLine{ID: id, ChartID: c.ID, Label: l.Label}
			for _, a := range l.Anchors {
				line.Anchors = append(line.Anchors, db.Anchor{Time: a.Time, Price: a.Price})
			}
			chart.Lines = append(chart.Lines, line)
		}
		charts = append(charts, chart)
	}

	risks := make([]db.RiskConfiguration, 0, len(file.Risk))
	for _, r := range file.Risk {
		risks = append(risks, db.RiskConfiguration{
			Bucket:           r.Bucket,
			SoftStopPct:      r.SoftStopPct,
			SoftStopMinutes:  r.SoftStopMinutes,
			HardStopPct:      r.HardStopPct,
			DefaultTradeSize: r.DefaultTradeSize,
		})
	}

	if err := store.Seed(ctx, charts, risks); err != nil {
		return fmt.Errorf("sync seed config: %w", err)
	}
	return nil
}

// RawLines converts stored chart lines for classification.
func RawLines(c *db.ChartConfiguration) []RawLine {
	out := make([]RawLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		r := RawLine{ID: l.ID}
		for _, a := range l.Anchors {
			r.Anchors = append(r.Anchors, trendlineAnchor(a))
		}
		out = append(out, r)
	}
	return out
}
