// Package engine is the bot lifecycle manager. It owns the registry of
// active bots, drives the price monitor and is the only entry point the
// control surface uses.
package engine

import (
	"context"

	"trendline-core/pkg/db"
)

// Service defines the bot operations exposed to the control surface.
// The API layer should only interact with the engine through this interface.
type Service interface {
	// Bot commands
	CreateBot(ctx context.Context, req CreateBotRequest) (*BotStatus, error)
	StartBot(ctx context.Context, id string) error
	// StopBot deactivates a bot. Working broker orders are left in place;
	// CancelOrders removes them.
	StopBot(ctx context.Context, id string) error
	CancelOrders(ctx context.Context, id string) (int, error)

	// Bot queries
	GetBotStatus(ctx context.Context, id string) (*BotStatus, error)
	ListBots(ctx context.Context) ([]db.BotInstance, error)
	ListBotEvents(ctx context.Context, id string, limit int) ([]db.BotEvent, error)

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
