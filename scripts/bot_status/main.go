package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"trendline-core/pkg/config"
	"trendline-core/pkg/db"
)

// bot_status prints every bot of the database as a table.
//
// Usage:
//   go run ./scripts/bot_status [-db trendline.db] [-status active] [-events bot-id]
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	dbPath := flag.String("db", cfg.DBPath, "sqlite database path")
	status := flag.String("status", "", "only show bots with this status")
	eventsOf := flag.String("events", "", "print the audit trail of one bot")
	limit := flag.Int("limit", 20, "number of events with -events")
	flag.Parse()

	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *eventsOf != "" {
		printEvents(ctx, database, *eventsOf, *limit)
		return
	}

	bots, err := database.ListBots(ctx)
	if err != nil {
		log.Fatalf("list bots: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Symbol", "TF", "Strategy", "Status", "Bought", "Entered", "Exited", "Open", "Entry Px", "Stop", "Updated"})
	var open float64
	shown := 0
	for _, b := range bots {
		if *status != "" && !strings.EqualFold(b.Status, *status) {
			continue
		}
		shown++
		open += b.OpenShares
		t.AppendRow(table.Row{
			short(b.ID), b.Symbol, b.Interval, strategyLabel(b), colorStatus(b.Status), yesNo(b.Bought),
			b.SharesEntered, b.SharesExited, b.OpenShares, fmt.Sprintf("%.2f", b.EntryPrice),
			b.StopOrderStatus, b.UpdatedAt.Local().Format("01-02 15:04:05"),
		})
		if b.LastError != "" {
			t.AppendRow(table.Row{"", text.FgRed.Sprint(b.LastError)})
		}
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d bots", shown), "", "", "", open})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
	})
	t.Render()
}

func printEvents(ctx context.Context, database *db.Database, botID string, limit int) {
	evs, err := database.ListBotEvents(ctx, botID, limit)
	if err != nil {
		log.Fatalf("events of %s: %v", botID, err)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("bot " + botID)
	t.AppendHeader(table.Row{"#", "Time", "Type", "Payload"})
	for _, e := range evs {
		t.AppendRow(table.Row{e.ID, e.CreatedAt.Local().Format(time.DateTime), e.Type, string(e.Payload)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 80}})
	t.Render()
}

func strategyLabel(b db.BotInstance) string {
	if b.MultiBuy {
		return b.Strategy + "/multi"
	}
	return b.Strategy
}

func colorStatus(s string) string {
	switch s {
	case db.BotActive:
		return text.FgGreen.Sprint(s)
	case db.BotCompleted:
		return text.FgCyan.Sprint(s)
	case db.BotError, db.BotHardStoppedOut, db.BotSoftStoppedOut:
		return text.FgRed.Sprint(s)
	default:
		return text.FgYellow.Sprint(s)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
