package throne

import "time"

// EventType represents a game event type with type safety
type EventType string

const (
	EventTypeThroneClaimed         EventType = "throne_claimed"
	EventTypeWinnerDeclared        EventType = "winner_declared"
	EventTypeWinningsWithdrawn     EventType = "winnings_withdrawn"
	EventTypePlatformFeesWithdrawn EventType = "platform_fees_withdrawn"
	EventTypeGameReset             EventType = "game_reset"
)

func (et EventType) String() string {
	return string(et)
}

// GameEvent is published after an operation succeeds.
type GameEvent interface {
	EventType() EventType
	Timestamp() time.Time
	Record() EventRecord
}

// EventSubscriber receives game events. OnEvent runs on the goroutine that
// performed the operation, after the game lock is released.
type EventSubscriber interface {
	OnEvent(event GameEvent)
}

// EventSubscriberFunc adapts a function to the EventSubscriber interface.
type EventSubscriberFunc func(GameEvent)

func (f EventSubscriberFunc) OnEvent(event GameEvent) { f(event) }

// EventRecord is the flat form of an event used on the wire and in the
// journal. Seq orders events in the order their operations committed.
type EventRecord struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Round     uint64    `json:"round"`
	Identity  Identity  `json:"identity,omitempty"`
	Amount    uint64    `json:"amount"`
	Pot       uint64    `json:"pot"`
	ClaimFee  uint64    `json:"claimFee"`
	Timestamp time.Time `json:"timestamp"`
}

// ThroneClaimedEvent is published when a claim succeeds.
type ThroneClaimedEvent struct {
	Seq          uint64
	Round        uint64
	King         Identity
	Amount       uint64
	PlatformCut  uint64
	PotAfter     uint64
	NextClaimFee uint64
	timestamp    time.Time
}

func (e ThroneClaimedEvent) EventType() EventType { return EventTypeThroneClaimed }
func (e ThroneClaimedEvent) Timestamp() time.Time { return e.timestamp }
func (e ThroneClaimedEvent) Record() EventRecord {
	return EventRecord{
		Seq:       e.Seq,
		Type:      e.EventType(),
		Round:     e.Round,
		Identity:  e.King,
		Amount:    e.Amount,
		Pot:       e.PotAfter,
		ClaimFee:  e.NextClaimFee,
		Timestamp: e.timestamp,
	}
}

// WinnerDeclaredEvent is published when the pot is credited to the king.
type WinnerDeclaredEvent struct {
	Seq        uint64
	Round      uint64
	Winner     Identity
	Amount     uint64
	DeclaredBy Identity
	timestamp  time.Time
}

func (e WinnerDeclaredEvent) EventType() EventType { return EventTypeWinnerDeclared }
func (e WinnerDeclaredEvent) Timestamp() time.Time { return e.timestamp }
func (e WinnerDeclaredEvent) Record() EventRecord {
	return EventRecord{
		Seq:       e.Seq,
		Type:      e.EventType(),
		Round:     e.Round,
		Identity:  e.Winner,
		Amount:    e.Amount,
		Timestamp: e.timestamp,
	}
}

// WinningsWithdrawnEvent is published once a winnings transfer completes.
type WinningsWithdrawnEvent struct {
	Seq       uint64
	Round     uint64
	Recipient Identity
	Amount    uint64
	timestamp time.Time
}

func (e WinningsWithdrawnEvent) EventType() EventType { return EventTypeWinningsWithdrawn }
func (e WinningsWithdrawnEvent) Timestamp() time.Time { return e.timestamp }
func (e WinningsWithdrawnEvent) Record() EventRecord {
	return EventRecord{
		Seq:       e.Seq,
		Type:      e.EventType(),
		Round:     e.Round,
		Identity:  e.Recipient,
		Amount:    e.Amount,
		Timestamp: e.timestamp,
	}
}

// PlatformFeesWithdrawnEvent is published once the owner's fee transfer completes.
type PlatformFeesWithdrawnEvent struct {
	Seq       uint64
	Round     uint64
	Owner     Identity
	Amount    uint64
	timestamp time.Time
}

func (e PlatformFeesWithdrawnEvent) EventType() EventType { return EventTypePlatformFeesWithdrawn }
func (e PlatformFeesWithdrawnEvent) Timestamp() time.Time { return e.timestamp }
func (e PlatformFeesWithdrawnEvent) Record() EventRecord {
	return EventRecord{
		Seq:       e.Seq,
		Type:      e.EventType(),
		Round:     e.Round,
		Identity:  e.Owner,
		Amount:    e.Amount,
		Timestamp: e.timestamp,
	}
}

// GameResetEvent is published when the owner opens a new round.
type GameResetEvent struct {
	Seq       uint64
	Round     uint64
	ClaimFee  uint64
	Pot       uint64
	timestamp time.Time
}

func (e GameResetEvent) EventType() EventType { return EventTypeGameReset }
func (e GameResetEvent) Timestamp() time.Time { return e.timestamp }
func (e GameResetEvent) Record() EventRecord {
	return EventRecord{
		Seq:       e.Seq,
		Type:      e.EventType(),
		Round:     e.Round,
		Pot:       e.Pot,
		ClaimFee:  e.ClaimFee,
		Timestamp: e.timestamp,
	}
}
