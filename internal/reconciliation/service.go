package reconciliation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"trendline-core/internal/state"
	"trendline-core/pkg/db"
)

// RecordStore persists bot records.
type RecordStore interface {
	SaveBotState(ctx context.Context, b db.BotInstance) error
}

// CheckpointSaver persists runtime checkpoints.
type CheckpointSaver interface {
	Save(cp state.Checkpoint) error
}

// Service periodically flushes the in-memory state of every active bot to
// the store. Failures are logged and retried on the next run; the registry
// stays authoritative meanwhile.
type Service struct {
	registry    *state.Registry
	store       RecordStore
	checkpoints CheckpointSaver
	interval    time.Duration
	log         *zap.SugaredLogger
	now         func() time.Time
	mu          sync.Mutex
	last        *SyncReport
}

// SyncReport contains the result of one flush.
type SyncReport struct {
	Timestamp time.Time         `json:"timestamp"`
	Flushed   int               `json:"flushed"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// NewService creates a status sync service. checkpoints may be nil.
func NewService(registry *state.Registry, store RecordStore, checkpoints CheckpointSaver, interval time.Duration, log *zap.SugaredLogger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		registry:    registry,
		store:       store,
		checkpoints: checkpoints,
		interval:    interval,
		log:         log,
		now:         time.Now,
	}
}

// Start runs Sync every interval until ctx is done.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sync(ctx)
			case <-ctx.Done():
				// last flush so a clean shutdown loses nothing
				s.Sync(context.WithoutCancel(ctx))
				return
			}
		}
	}()
	s.log.Infof("status sync started (interval: %v)", s.interval)
}

// Sync writes every active record and checkpoint under the bot's lock, so
// a concurrent stop or finish can never be overwritten by an older copy.
func (s *Service) Sync(ctx context.Context) *SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	report := &SyncReport{Timestamp: now}
	for _, id := range s.registry.IDs() {
		var flushed bool
		err := s.registry.With(id, func(b *state.Bot) error {
			if b.Done {
				return nil
			}
			if err := s.store.SaveBotState(ctx, b.Record); err != nil {
				return err
			}
			if s.checkpoints != nil {
				if err := s.checkpoints.Save(b.Checkpoint(now)); err != nil {
					return err
				}
			}
			flushed = true
			return nil
		})
		switch {
		case errors.Is(err, state.ErrNotRegistered):
		case err != nil:
			report.Failed++
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[id] = err.Error()
			s.log.Warnf("status sync: bot %s: %v", id, err)
		case flushed:
			report.Flushed++
		}
	}
	if report.Failed > 0 {
		s.log.Warnf("status sync: %d flushed, %d failed", report.Flushed, report.Failed)
	} else if report.Flushed > 0 {
		s.log.Debugf("status sync: %d bots flushed", report.Flushed)
	}
	s.last = report
	return report
}

// LastReport returns the result of the most recent Sync, or nil.
func (s *Service) LastReport() *SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
