package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"trendline-core/internal/market"
	"trendline-core/internal/persistence"
	"trendline-core/pkg/config"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/alpaca"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	fmt.Println("Trendline Engine Health Check")
	fmt.Println("=============================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("✗ configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{
		Overall: "HEALTHY",
		Services: []HealthStatus{
			checkConfig(cfg),
			checkDatabase(ctx, cfg),
			checkBroker(ctx, cfg),
			checkAPIServer(ctx, cfg),
		},
	}
	if cfg.PriceSource == "redis" {
		report.Services = append(report.Services, checkRedis(ctx, cfg))
	}

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println("Results:")
	fmt.Println("--------")
	for _, svc := range report.Services {
		statusIcon := "✓"
		if svc.Status == "UNHEALTHY" {
			statusIcon = "✗"
		} else if svc.Status == "DEGRADED" {
			statusIcon = "⚠"
		}
		fmt.Printf("%s %-20s %s %s\n", statusIcon, svc.Service, svc.Status, svc.Message)
	}
	fmt.Println()
	fmt.Printf("Overall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}
	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: "HEALTHY", Timestamp: time.Now()}
}

func checkConfig(cfg *config.Config) HealthStatus {
	status := newStatus("Configuration")
	if cfg.Broker == "alpaca" && (cfg.AlpacaAPIKey == "" || cfg.AlpacaAPISecret == "") {
		status.Status = "UNHEALTHY"
		status.Message = "BROKER=alpaca without API credentials"
		return status
	}
	if cfg.ChartSeedFile != "" {
		if _, err := os.Stat(cfg.ChartSeedFile); err != nil {
			status.Status = "DEGRADED"
			status.Message = fmt.Sprintf("Chart seed %s: %v", cfg.ChartSeedFile, err)
			return status
		}
	}
	status.Message = fmt.Sprintf("Port=%s Broker=%s Prices=%s", cfg.Port, cfg.Broker, cfg.PriceSource)
	return status
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Database")

	database, err := db.New(cfg.DBPath)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	defer database.Close()
	if err := database.DB.PingContext(ctx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Ping failed: %v", err)
		return status
	}
	active, err := database.ListActiveBots(ctx)
	if err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Schema not ready: %v", err)
		return status
	}

	cps, err := persistence.NewCheckpointStore(cfg.CheckpointDir)
	if err != nil {
		// a running engine holds the badger directory lock
		status.Message = fmt.Sprintf("%d active bots, checkpoints in use", len(active))
		return status
	}
	defer cps.Close()
	ids, _ := cps.IDs()
	status.Message = fmt.Sprintf("%d active bots, %d checkpoints", len(active), len(ids))
	return status
}

func checkBroker(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Broker")
	if cfg.Broker != "alpaca" {
		status.Message = "Paper broker"
		return status
	}

	b := alpaca.New(alpaca.Config{
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaAPISecret,
		BaseURL:   cfg.AlpacaBaseURL,
	})
	pctx, cancel := context.WithTimeout(ctx, cfg.BrokerTimeout)
	defer cancel()
	if err := b.Ping(pctx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	status.Message = "Connected to " + cfg.AlpacaBaseURL
	return status
}

func checkRedis(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Quote relay")
	client := market.NewRedisClient(market.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("%s unreachable, engine falls back to broker prices: %v", cfg.RedisAddr, err)
		return status
	}
	status.Message = "Connected to " + cfg.RedisAddr
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("API Server")
	url := fmt.Sprintf("http://localhost:%s/health", cfg.Port)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	var body struct {
		Broker     string `json:"broker"`
		ActiveBots int    `json:"active_bots"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d, broker %s", resp.StatusCode, body.Broker)
		return status
	}
	status.Message = fmt.Sprintf("Running, broker %s, %d bots", body.Broker, body.ActiveBots)
	return status
}
