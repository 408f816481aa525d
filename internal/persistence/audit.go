package persistence

import (
	"encoding/json"

	"go.uber.org/zap"

	"trendline-core/internal/events"
	"trendline-core/pkg/db"
)

// AuditLog appends audit records to bot_events through a batch writer.
type AuditLog struct {
	w   *BatchWriter
	log *zap.SugaredLogger
}

// NewAuditLog returns a recorder that persists to w.
func NewAuditLog(w *BatchWriter, log *zap.SugaredLogger) *AuditLog {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AuditLog{w: w, log: log}
}

// Record queues a. Records with an unencodable payload are stored with an
// empty payload rather than dropped.
func (a *AuditLog) Record(e events.Audit) {
	payload, err := json.Marshal(e.Payload)
	if err != nil || e.Payload == nil {
		if err != nil {
			a.log.Warnf("audit %s for bot %s: encode payload: %v", e.Type, e.BotID, err)
		}
		payload = nil
	}
	query, args := db.BotEventInsert(db.BotEvent{
		BotID:     e.BotID,
		Type:      string(e.Type),
		Payload:   payload,
		CreatedAt: e.At.UTC(),
	})
	a.w.WriteQuery(query, args...)
}
