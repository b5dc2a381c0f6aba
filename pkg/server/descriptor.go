package server

import (
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/events"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/menu"
)

// TransportType identifies the kind of transport a Descriptor uses.
type TransportType int

const (
	TransportTCP       TransportType = iota // Traditional telnet/TCP
	TransportWebSocket                      // WebSocket (JSON events)
)

func (t TransportType) String() string {
	if t == TransportWebSocket {
		return "websocket"
	}
	return "tcp"
}

// ConnState tracks the state of a connection.
type ConnState int

const (
	ConnLogin     ConnState = iota // Pre-login: awaiting connect/create
	ConnConnected                  // Logged in as a player
)

// Descriptor represents a single client connection.
// It implements events.Subscriber so it can receive events from the bus.
type Descriptor struct {
	ID        int
	Conn      net.Conn
	State     ConnState
	Player    gamedb.DBRef
	Addr      string
	ConnTime  time.Time
	LastCmd   time.Time
	Retries   int
	DoingStr  string        // @doing text
	Menu      *menu.Session // Active menu; captures input until it exits
	CmdCount  int           // Total commands entered this session
	BytesSent int
	BytesRecv int
	Transport TransportType

	// SendFunc overrides the default Send behavior (used by WebSocket transport).
	SendFunc func(msg string)
	// ReceiveFunc overrides the default Receive behavior (used by WebSocket transport).
	ReceiveFunc func(ev events.Event)

	mu     sync.Mutex
	closed bool
}

// NewDescriptor wraps a net.Conn into a Descriptor.
func NewDescriptor(id int, conn net.Conn, retries int) *Descriptor {
	now := time.Now()
	return &Descriptor{
		ID:       id,
		Conn:     conn,
		State:    ConnLogin,
		Player:   gamedb.Nothing,
		Addr:     conn.RemoteAddr().String(),
		ConnTime: now,
		LastCmd:  now,
		Retries:  retries,
	}
}

// Send writes a string to the client connection.
func (d *Descriptor) Send(msg string) {
	if d.SendFunc != nil {
		d.SendFunc(msg)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	// Telnet wants \r\n line endings.
	if !strings.HasSuffix(msg, "\n") {
		msg += "\r\n"
	}
	msg = strings.ReplaceAll(strings.ReplaceAll(msg, "\r\n", "\n"), "\n", "\r\n")
	d.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	n, _ := d.Conn.Write([]byte(msg))
	d.BytesSent += n
}

// SendNoNewline writes a string without appending a newline.
func (d *Descriptor) SendNoNewline(msg string) {
	if d.SendFunc != nil {
		d.SendFunc(msg)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	n, _ := d.Conn.Write([]byte(msg))
	d.BytesSent += n
}

// Close shuts down the connection.
func (d *Descriptor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.Conn.Close()
	}
}

// IsClosed returns whether the connection has been closed.
func (d *Descriptor) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Receive implements events.Subscriber.
func (d *Descriptor) Receive(ev events.Event) {
	if d.ReceiveFunc != nil {
		d.ReceiveFunc(ev)
		return
	}
	if ev.Text != "" {
		d.Send(ev.Text)
	}
}

// Closed implements events.Subscriber.
func (d *Descriptor) Closed() bool {
	return d.IsClosed()
}

var _ events.Subscriber = (*Descriptor)(nil)

// menuOutput routes menu text through the event path so WebSocket clients
// see it as structured "menu" events. Telnet clients get the prompt raw.
func (d *Descriptor) menuOutput(text string) {
	if text == menu.Prompt {
		if d.Transport == TransportTCP {
			d.SendNoNewline(text)
		}
		return
	}
	d.Receive(events.Event{Type: events.EvMenu, Player: d.Player, Source: d.Player, Text: text})
}

// nullConn is a no-op net.Conn for descriptors with no raw socket.
type nullConn struct{}

func (nullConn) Read([]byte) (int, error)         { return 0, fmt.Errorf("no connection") }
func (nullConn) Write(b []byte) (int, error)      { return len(b), nil }
func (nullConn) Close() error                     { return nil }
func (nullConn) LocalAddr() net.Addr              { return nil }
func (nullConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (nullConn) SetDeadline(time.Time) error      { return nil }
func (nullConn) SetReadDeadline(time.Time) error  { return nil }
func (nullConn) SetWriteDeadline(time.Time) error { return nil }

// ConnManager tracks live descriptors and which player each one is logged
// in as. A player may be connected more than once.
type ConnManager struct {
	mu       sync.RWMutex
	byID     map[int]*Descriptor
	byPlayer map[gamedb.DBRef][]*Descriptor
	lastID   int
	EventBus *events.Bus
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		byID:     make(map[int]*Descriptor),
		byPlayer: make(map[gamedb.DBRef][]*Descriptor),
	}
}

// Add registers a descriptor still at the login screen.
func (cm *ConnManager) Add(d *Descriptor) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.byID[d.ID] = d
}

// Remove forgets a descriptor and drops its event subscription.
func (cm *ConnManager) Remove(d *Descriptor) {
	if cm.EventBus != nil && d.Player != gamedb.Nothing {
		cm.EventBus.Unsubscribe(d.Player, d)
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.byID, d.ID)
	if d.Player == gamedb.Nothing {
		return
	}
	left := slices.DeleteFunc(cm.byPlayer[d.Player], func(dd *Descriptor) bool { return dd.ID == d.ID })
	if len(left) == 0 {
		delete(cm.byPlayer, d.Player)
	} else {
		cm.byPlayer[d.Player] = left
	}
}

// Login binds a descriptor to a player and subscribes it to the player's
// events.
func (cm *ConnManager) Login(d *Descriptor, player gamedb.DBRef) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	d.State = ConnConnected
	d.Player = player
	cm.byPlayer[player] = append(cm.byPlayer[player], d)
	if cm.EventBus != nil {
		cm.EventBus.Subscribe(player, d)
	}
}

// NextID returns a fresh descriptor ID, starting at 1.
func (cm *ConnManager) NextID() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastID++
	return cm.lastID
}

// GetByPlayer returns a player's descriptors in login order.
func (cm *ConnManager) GetByPlayer(player gamedb.DBRef) []*Descriptor {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return slices.Clone(cm.byPlayer[player])
}

// IsConnected reports whether the player has at least one connection.
func (cm *ConnManager) IsConnected(player gamedb.DBRef) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byPlayer[player]) > 0
}

// ConnectedPlayers returns the connected players in dbref order.
func (cm *ConnManager) ConnectedPlayers() []gamedb.DBRef {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return slices.Sorted(maps.Keys(cm.byPlayer))
}

// AllDescriptors returns every descriptor, login screen included, in
// connection order.
func (cm *ConnManager) AllDescriptors() []*Descriptor {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := slices.Collect(maps.Values(cm.byID))
	slices.SortFunc(out, func(a, b *Descriptor) int { return a.ID - b.ID })
	return out
}

// Count returns the number of descriptors, logged in or not.
func (cm *ConnManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// SendToPlayer delivers text to every connection of a player. It goes through
// the event bus when there is one, so WebSocket clients see a "text" event.
func (cm *ConnManager) SendToPlayer(player gamedb.DBRef, msg string) {
	if cm.EventBus != nil {
		cm.EventBus.Emit(events.Event{Type: events.EvText, Player: player, Text: msg})
		return
	}
	for _, d := range cm.GetByPlayer(player) {
		d.Send(msg)
	}
}

// FormatIdleTime formats a duration as a human-readable idle time.
func FormatIdleTime(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	if secs < 3600 {
		return fmt.Sprintf("%dm", secs/60)
	}
	if secs < 86400 {
		return fmt.Sprintf("%dh", secs/3600)
	}
	return fmt.Sprintf("%dd", secs/86400)
}

// FormatConnTime formats a duration as connection time.
func FormatConnTime(d time.Duration) string {
	secs := int(d.Seconds())
	hours := secs / 3600
	mins := (secs % 3600) / 60
	return fmt.Sprintf("%02d:%02d", hours, mins)
}
