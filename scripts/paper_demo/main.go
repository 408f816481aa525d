package main

import (
	"context"
	"flag"
	"log"
	"time"

	"trendline-core/internal/engine"
	"trendline-core/internal/events"
	"trendline-core/internal/order"
	"trendline-core/internal/persistence"
	"trendline-core/internal/strategy"
	"trendline-core/internal/trendline"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/paper"
	"trendline-core/pkg/logger"
)

// paper_demo replays a price path against one bot on the paper broker.
// Nothing touches a live broker or the on-disk database.
//
// Usage:
//   go run ./scripts/paper_demo [-path rally|stop]
//
// rally: crosses the entry line, fills both targets and completes.
// stop:  crosses the entry line and falls through the hard stop.
func main() {
	scenario := flag.String("path", "rally", "price path: rally or stop")
	flag.Parse()

	logger.Init(logger.Options{Level: "info", Output: "console"})
	defer logger.Sync()
	ctx := context.Background()

	database, err := db.Open(db.MemoryPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	start := time.Date(2026, 10, 12, 14, 0, 0, 0, time.UTC)
	line := func(id string, from, to float64) db.TrendLine {
		return db.TrendLine{ID: id, Anchors: []db.Anchor{{Time: start, Price: from}, {Time: start.Add(time.Hour), Price: to}}}
	}
	if err := database.Seed(ctx,
		[]db.ChartConfiguration{{
			ID: "demo", Symbol: "AAPL", Interval: "15m", Strategy: "spot", TradeSize: 100,
			Lines: []db.TrendLine{line("support", 100, 100), line("target-1", 120, 120), line("target-2", 130, 130)},
		}},
		[]db.RiskConfiguration{{Bucket: "15m", SoftStopPct: 2, SoftStopMinutes: 5, HardStopPct: 5, DefaultTradeSize: 10}},
	); err != nil {
		log.Fatalf("seed: %v", err)
	}

	broker := paper.New(100_000)
	broker.SetPrice("AAPL", 99)
	checkpoints, err := persistence.NewMemoryCheckpointStore()
	if err != nil {
		log.Fatalf("checkpoints: %v", err)
	}
	defer checkpoints.Close()

	audit := &events.Memory{}
	eng := engine.NewImpl(engine.Config{Venue: "paper", DryRun: true, Version: "demo"}, engine.Deps{
		DB:          database,
		Broker:      broker,
		Checkpoints: checkpoints,
		Audit:       audit,
		Session:     trendline.MustSession("America/New_York"),
		Orders:      order.Config{RefreshInterval: time.Minute, OptionPolicy: strategy.DefaultOptionPolicy()},
		Log:         logger.S().Named("engine"),
	})
	now := time.Date(2026, 10, 12, 15, 0, 0, 0, time.UTC)
	eng.SetClock(func() time.Time { return now })

	st, err := eng.CreateBot(ctx, engine.CreateBotRequest{ChartID: "demo"})
	if err != nil {
		log.Fatalf("create bot: %v", err)
	}
	id := st.Bot.ID

	path := []float64{99, 101, 110, 125, 135}
	if *scenario == "stop" {
		path = []float64{99, 101, 98, 94}
	}
	for _, px := range path {
		broker.SetPrice("AAPL", px)
		eng.Sweep(ctx)
		now = now.Add(30 * time.Second)

		st, err := eng.GetBotStatus(ctx, id)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		b := st.Bot
		log.Printf("px=%7.2f status=%-17s entered=%6.1f exited=%6.1f open=%6.1f stop=%s",
			px, b.Status, b.SharesEntered, b.SharesExited, b.OpenShares, b.StopOrderStatus)
	}

	log.Println("=== paper orders ===")
	for _, o := range broker.Orders() {
		log.Printf("%s %-4s %-6s qty=%6.1f px=%7.2f %s", o.ID, o.Request.Side, o.Request.Type, o.Request.Qty, o.FillPrice, o.Status)
	}
	log.Println("=== audit trail ===")
	for _, e := range audit.Records() {
		log.Printf("%-22s %v", e.Type, e.Payload)
	}
	log.Printf("cash left: %.2f", broker.Cash())
}
