package monitor

import (
	"fmt"

	"trendline-core/internal/events"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

// AlertFor decides whether a bus payload deserves an operator alert.
// Completed and stopped bots are routine; stop-outs, errors and a broker
// that is not connected are not.
func AlertFor(payload any) (string, bool) {
	switch p := payload.(type) {
	case events.StatusChange:
		switch p.Status {
		case db.BotHardStoppedOut, db.BotSoftStoppedOut, db.BotError:
			return fmt.Sprintf("bot %s is %s", p.BotID, p.Status), true
		}
	case common.Health:
		switch p.State {
		case common.StateReconnecting, common.StateFailed:
			msg := fmt.Sprintf("broker %s (attempt %d)", p.State, p.Attempt)
			if p.LastError != "" {
				msg += ": " + p.LastError
			}
			return msg, true
		}
	}
	return "", false
}
