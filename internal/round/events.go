package round

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType labels a round lifecycle or disbursement event.
type EventType string

const (
	EventTallySealed    EventType = "tally_sealed"
	EventRoundFinalized EventType = "round_finalized"
	EventFundsClaimed   EventType = "funds_claimed"
	EventTokensRedeemed EventType = "tokens_redeemed"
)

// Event is one emitted round event. Index, Account and Amount are set for
// disbursement events; Alpha only for round_finalized.
type Event struct {
	ID      string
	Type    EventType
	At      time.Time
	Index   uint64
	Account string
	Amount  *big.Int
	Alpha   *big.Int
}

// Emitter receives round events. Emit must not block the round; slow sinks
// should buffer internally.
type Emitter interface {
	Emit(Event)
}

func newEvent(typ EventType) Event {
	return Event{ID: uuid.NewString(), Type: typ, At: time.Now().UTC()}
}

// LogEmitter writes events to a zerolog logger.
type LogEmitter struct {
	Logger zerolog.Logger
}

func (e LogEmitter) Emit(ev Event) {
	entry := e.Logger.Info().
		Str("event_id", ev.ID).
		Str("event", string(ev.Type)).
		Time("at", ev.At)
	switch ev.Type {
	case EventRoundFinalized:
		entry = entry.Str("alpha", ev.Alpha.String())
	case EventFundsClaimed, EventTokensRedeemed:
		entry = entry.Uint64("recipient", ev.Index).
			Str("account", ev.Account).
			Str("amount", ev.Amount.String())
	}
	entry.Msg("round event")
}

// MemoryEmitter retains events in order, for tests and inspection.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (e *MemoryEmitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

// Events returns a snapshot of everything emitted so far.
func (e *MemoryEmitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}
