// Package menu runs small text menus over a connection. While a Session is
// active the connection's input lines go to the menu instead of the command
// dispatcher, the way @program captures a player's next line.
package menu

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Prompt ends every rendered node. IAC GA lets telnet clients draw it.
const Prompt = "> \xff\xf9"

// Node is one screen of a menu. Render produces the text shown on entry and
// after each input; Handle consumes one input line.
type Node struct {
	Name   string
	Render func(s *Session) string
	Handle func(s *Session, input string)
}

// Menu is a set of nodes and the node to start on.
type Menu struct {
	Title string
	start string
	nodes map[string]*Node
}

// New creates an empty menu that starts on node start.
func New(title, start string) *Menu {
	return &Menu{Title: title, start: start, nodes: make(map[string]*Node)}
}

// Add registers a node, replacing any node of the same name.
func (m *Menu) Add(n Node) *Menu {
	m.nodes[n.Name] = &n
	return m
}

// Open starts a session on the start node and renders it. out receives every
// line the menu emits; data is caller state available to node functions.
func (m *Menu) Open(out func(string), data any) (*Session, error) {
	n, ok := m.nodes[m.start]
	if !ok {
		return nil, fmt.Errorf("menu: %s: no start node %q", m.Title, m.start)
	}
	s := &Session{menu: m, node: n, out: out, Data: data}
	s.render()
	return s, nil
}

// Session is one user's pass through a menu.
type Session struct {
	menu *Menu
	node *Node
	out  func(string)
	done bool

	// Data carries caller state between nodes.
	Data any
}

// Input feeds one line to the current node. "q" and "quit" leave the menu
// from anywhere.
func (s *Session) Input(line string) {
	if s.done {
		return
	}
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "q", "quit":
		s.Exit()
		return
	}
	if s.node.Handle != nil {
		s.node.Handle(s, line)
	}
	if !s.done {
		s.render()
	}
}

// Goto moves to the named node. The node is rendered after the current
// input finishes.
func (s *Session) Goto(name string) {
	n, ok := s.menu.nodes[name]
	if !ok {
		zap.L().Warn("menu: unknown node", zap.String("menu", s.menu.Title), zap.String("node", name))
		s.Send("That option is not available.")
		return
	}
	s.node = n
}

// Node returns the current node name.
func (s *Session) Node() string { return s.node.Name }

// Send emits text to the user.
func (s *Session) Send(text string) {
	if s.out != nil {
		s.out(text)
	}
}

// Exit ends the session.
func (s *Session) Exit() {
	if s.done {
		return
	}
	s.done = true
	s.Send("Exiting " + s.menu.Title + ".")
}

// Done reports whether the session has ended.
func (s *Session) Done() bool { return s.done }

func (s *Session) render() {
	if s.node.Render != nil {
		s.Send(s.node.Render(s))
	}
	s.Send(Prompt)
}
