package events

import "github.com/crystal-mush/mushcontrib/pkg/gamedb"

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvText       EventType = iota // Raw text (universal fallback)
	EvConnect                     // Player connected
	EvDisconnect                  // Player disconnected
	EvReport                      // A report was filed
	EvComponent                   // A component was added or removed
	EvMenu                        // Menu output
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvConnect:
		return "connect"
	case EvDisconnect:
		return "disconnect"
	case EvReport:
		return "report"
	case EvComponent:
		return "component"
	case EvMenu:
		return "menu"
	default:
		return "unknown"
	}
}

// Event is a structured game event that flows through the event bus.
// Telnet connections use Text; WebSocket clients get the structured data.
type Event struct {
	Type   EventType
	Player gamedb.DBRef   // Recipient (Nothing for broadcast)
	Source gamedb.DBRef   // Who generated the event
	Room   gamedb.DBRef   // Room context
	Text   string         // Pre-formatted text
	Data   map[string]any // Structured data for JSON clients
}
