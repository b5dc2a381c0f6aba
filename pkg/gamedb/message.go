package gamedb

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMessageNotFound is returned by message stores for unknown IDs.
var ErrMessageNotFound = errors.New("message not found")

// Message is a persistent note from a sender to one or more receiver
// objects. Reports are messages tagged "report" whose receivers include the
// report hub. The lock string controls who may read the message.
type Message struct {
	ID        uuid.UUID
	Sender    DBRef
	Body      string
	Receivers []DBRef
	Locks     string
	Tags      TagSet
	Created   time.Time
}

// NewMessage builds a message with a fresh ID and creation time.
func NewMessage(sender DBRef, body string, receivers []DBRef, locks string, tags ...string) *Message {
	msg := &Message{
		ID:        uuid.New(),
		Sender:    sender,
		Body:      body,
		Receivers: append([]DBRef(nil), receivers...),
		Locks:     locks,
		Created:   time.Now(),
	}
	for _, t := range tags {
		msg.Tags.Add(t, "")
	}
	return msg
}

// HasReceiver reports whether ref is one of the message's receivers.
func (m *Message) HasReceiver(ref DBRef) bool {
	for _, r := range m.Receivers {
		if r == ref {
			return true
		}
	}
	return false
}

// CanRead checks the message's "read" lock. Messages without a read lock
// are readable by their sender only.
func (m *Message) CanRead(who Accessor) bool {
	if who != nil && who.Ref() == m.Sender {
		return true
	}
	return CheckLock(m.Locks, "read", who, false)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Receivers = append([]DBRef(nil), m.Receivers...)
	cp.Tags = m.Tags.Clone()
	return &cp
}

// MessageQuery selects messages. Zero-valued fields do not filter; use
// Nothing for unused dbref fields.
type MessageQuery struct {
	Sender     DBRef
	Receiver   DBRef
	Tag        string // message must carry this tag (any category)
	ExcludeTag string // message must not carry this tag (any category)
	Limit      int
}

// NewMessageQuery returns a query with both dbref filters disabled.
func NewMessageQuery() MessageQuery {
	return MessageQuery{Sender: Nothing, Receiver: Nothing}
}

// Matches reports whether msg satisfies the query filters (Limit excluded).
func (q MessageQuery) Matches(msg *Message) bool {
	if q.Sender != Nothing && msg.Sender != q.Sender {
		return false
	}
	if q.Receiver != Nothing && !msg.HasReceiver(q.Receiver) {
		return false
	}
	if q.Tag != "" && !msg.Tags.HasKey(q.Tag) {
		return false
	}
	if q.ExcludeTag != "" && msg.Tags.HasKey(q.ExcludeTag) {
		return false
	}
	return true
}

// SortNewestFirst orders messages by creation time, most recent first, and
// applies limit when positive.
func SortNewestFirst(msgs []*Message, limit int) []*Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Created.Equal(msgs[j].Created) {
			return strings.Compare(msgs[i].ID.String(), msgs[j].ID.String()) > 0
		}
		return msgs[i].Created.After(msgs[j].Created)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}
