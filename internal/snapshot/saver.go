package snapshot

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/throne/internal/throne"
)

// Saver snapshots a game periodically and once more on shutdown. Snapshots
// are skipped while nothing has changed.
type Saver struct {
	mu       sync.Mutex
	game     *throne.Game
	path     string
	interval time.Duration
	clock    quartz.Clock
	logger   *log.Logger
	lastRev  uint64
	saved    bool
}

// NewSaver creates a saver writing game snapshots to path every interval.
func NewSaver(game *throne.Game, path string, interval time.Duration, clock quartz.Clock, logger *log.Logger) *Saver {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Saver{
		game:     game,
		path:     path,
		interval: interval,
		clock:    clock,
		logger:   logger.WithPrefix("snapshot"),
	}
}

// Run saves on every tick until ctx is cancelled, then saves a final time.
func (s *Saver) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval, "snapshot")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SaveNow(); err != nil {
				s.logger.Error("Snapshot failed", "error", err)
			}
		case <-ctx.Done():
			return s.SaveNow()
		}
	}
}

// SaveNow writes a snapshot if the game changed since the last one.
func (s *Saver) SaveNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.game.State()
	if s.saved && state.Revision == s.lastRev {
		return nil
	}
	if err := Save(s.path, state); err != nil {
		return err
	}
	s.saved = true
	s.lastRev = state.Revision
	s.logger.Debug("Snapshot saved", "path", s.path, "seq", state.Seq, "revision", state.Revision, "heldFunds", state.HeldFunds)
	return nil
}
