package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

var expected = map[string][]string{
	"chart_configurations": {"id", "symbol", "interval", "strategy", "multi_buy", "trade_size"},
	"trend_lines":          {"id", "chart_id", "label", "anchors", "position"},
	"risk_configurations":  {"bucket", "soft_stop_pct", "soft_stop_minutes", "hard_stop_pct", "default_trade_size"},
	"bot_instances": {
		"id", "chart_id", "symbol", "strategy", "trade_size", "active", "running", "bought",
		"shares_entered", "shares_exited", "open_shares", "entry_price",
		"entry_order_id", "entry_order_status", "stop_order_id", "stop_order_status",
		"option_symbol", "option_premium", "status", "last_error", "completed_at",
	},
	"bot_events": {"id", "bot_id", "event_type", "payload", "created_at"},
}

func main() {
	dbPath := flag.String("db", "trendline.db", "sqlite database path")
	flag.Parse()
	fmt.Printf("Verifying database at: %s\n", *dbPath)

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	ok := true
	for _, table := range []string{"chart_configurations", "trend_lines", "risk_configurations", "bot_instances", "bot_events"} {
		cols, err := columns(db, table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if len(cols) == 0 {
			fmt.Printf("❌ %s table MISSING\n", table)
			ok = false
			continue
		}
		var missing []string
		for _, c := range expected[table] {
			if !cols[c] {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			fmt.Printf("❌ %s missing columns: %s\n", table, strings.Join(missing, ", "))
			ok = false
			continue
		}
		fmt.Printf("✓ %s (%d columns)\n", table, len(cols))
	}

	if !ok {
		fmt.Println("\nSchema is out of date; start the engine once to apply migrations.")
		os.Exit(1)
	}
	fmt.Println("\nSchema OK")
}

func columns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
