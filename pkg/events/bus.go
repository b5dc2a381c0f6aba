package events

import (
	"slices"
	"sync"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus delivers events to the connections subscribed for each player. A player
// with several connections gets every event on each of them.
type Bus struct {
	mu   sync.RWMutex
	subs map[gamedb.DBRef][]Subscriber
	taps []func(Event)
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[gamedb.DBRef][]Subscriber)}
}

// Subscribe registers a subscriber for a player's events.
func (b *Bus) Subscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[player] = append(b.subs[player], sub)
}

// Unsubscribe removes a subscriber, and any closed ones alongside it.
func (b *Bus) Unsubscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	left := slices.DeleteFunc(b.subs[player], func(s Subscriber) bool {
		return s == sub || s.Closed()
	})
	if len(left) == 0 {
		delete(b.subs, player)
		return
	}
	b.subs[player] = left
}

// Subscribers returns the number of subscribers for a player.
func (b *Bus) Subscribers(player gamedb.DBRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[player])
}

// Tap registers fn to see every event emitted, once per emit call and before
// delivery.
func (b *Bus) Tap(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

func (b *Bus) tap(ev Event) {
	b.mu.RLock()
	taps := b.taps
	b.mu.RUnlock()
	for _, fn := range taps {
		fn(ev)
	}
}

// deliver hands ev to the player's live subscribers and reports how many got
// it.
func (b *Bus) deliver(player gamedb.DBRef, ev Event) int {
	b.mu.RLock()
	subs := b.subs[player]
	b.mu.RUnlock()
	n := 0
	for _, s := range subs {
		if s.Closed() {
			continue
		}
		s.Receive(ev)
		n++
	}
	return n
}

// Emit sends an event to ev.Player.
func (b *Bus) Emit(ev Event) int {
	b.tap(ev)
	return b.deliver(ev.Player, ev)
}

// EmitTo sends a copy of ev to each player, with Player set per recipient.
func (b *Bus) EmitTo(players []gamedb.DBRef, ev Event) int {
	b.tap(ev)
	n := 0
	for _, p := range players {
		ev.Player = p
		n += b.deliver(p, ev)
	}
	return n
}

// EmitToRoom sends an event to all connected players in a room.
func (b *Bus) EmitToRoom(db *gamedb.Database, room gamedb.DBRef, ev Event) int {
	return b.EmitToRoomExcept(db, room, gamedb.Nothing, ev)
}

// EmitToRoomExcept sends an event to every player in a room except one.
func (b *Bus) EmitToRoomExcept(db *gamedb.Database, room, except gamedb.DBRef, ev Event) int {
	if _, ok := db.Get(room); !ok {
		return 0
	}
	var players []gamedb.DBRef
	for _, obj := range db.Contents(room) {
		if obj.DBRef != except && obj.Type == gamedb.TypePlayer {
			players = append(players, obj.DBRef)
		}
	}
	ev.Room = room
	return b.EmitTo(players, ev)
}
