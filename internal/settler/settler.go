// Package settler declares the winner of a round as soon as its grace period
// lapses, so a round does not wait for some participant to settle it.
package settler

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/throne/internal/throne"
)

// Identity is the principal the settler declares winners as.
const Identity throne.Identity = "settler"

// Settler keeps one timer armed at the current round's deadline. It re-arms
// whenever a claim extends the deadline or a reset starts a new round.
type Settler struct {
	game   *throne.Game
	clock  quartz.Clock
	logger *log.Logger

	mu       sync.Mutex
	timer    *quartz.Timer
	deadline time.Time
	stopped  bool
}

// New creates a settler for game. Call Start or Run to activate it.
func New(game *throne.Game, clock quartz.Clock, logger *log.Logger) *Settler {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Settler{
		game:   game,
		clock:  clock,
		logger: logger.WithPrefix("settler"),
	}
}

// Start subscribes to the game and arms the timer for the current round.
func (s *Settler) Start() {
	s.game.Subscribe(s)
	s.schedule()
}

// Run starts the settler and stops it when ctx is cancelled.
func (s *Settler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop disarms the timer. A stopped settler ignores further events.
func (s *Settler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Deadline returns the deadline the timer is armed for, or the zero time.
func (s *Settler) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// OnEvent implements throne.EventSubscriber.
func (s *Settler) OnEvent(event throne.GameEvent) {
	switch event.EventType() {
	case throne.EventTypeThroneClaimed, throne.EventTypeGameReset:
		s.schedule()
	case throne.EventTypeWinnerDeclared:
		s.disarm()
	}
}

func (s *Settler) schedule() {
	deadline := s.game.Deadline()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = deadline
	if deadline.IsZero() {
		s.mu.Unlock()
		return
	}

	wait := deadline.Sub(s.clock.Now())
	if wait <= 0 {
		s.mu.Unlock()
		go s.fire()
		return
	}
	s.timer = s.clock.AfterFunc(wait, s.fire, "settler")
	s.mu.Unlock()

	s.logger.Debug("Settlement scheduled", "deadline", deadline, "in", wait)
}

func (s *Settler) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
}

func (s *Settler) fire() {
	s.mu.Lock()
	stopped := s.stopped
	s.timer = nil
	s.mu.Unlock()
	if stopped {
		return
	}

	err := s.game.DeclareWinner(Identity)
	switch {
	case err == nil:
	case errors.Is(err, throne.ErrGracePeriodNotElapsed):
		// A claim landed between the timer firing and the declaration.
		s.schedule()
	case errors.Is(err, throne.ErrGameEnded), errors.Is(err, throne.ErrNoActiveRound):
		s.logger.Debug("Nothing to settle", "reason", err)
	default:
		s.logger.Error("Automatic settlement failed", "error", err)
	}
}
