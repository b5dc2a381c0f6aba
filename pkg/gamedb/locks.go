package gamedb

import (
	"fmt"
	"strconv"
	"strings"
)

// Accessor is anything a lock can be checked against.
type Accessor interface {
	Ref() DBRef
	HasPerm(perm string) bool
}

// LockFunc evaluates one lock function call such as pperm(Admin).
type LockFunc func(who Accessor, args []string) bool

// lockFuncs are the functions understood in lock expressions.
var lockFuncs = map[string]LockFunc{
	"all":   func(Accessor, []string) bool { return true },
	"true":  func(Accessor, []string) bool { return true },
	"none":  func(Accessor, []string) bool { return false },
	"false": func(Accessor, []string) bool { return false },
	"perm":  permLock,
	"pperm": permLock,
	"id":    idLock,
	"dbref": idLock,
}

func permLock(who Accessor, args []string) bool {
	for _, a := range args {
		if who.HasPerm(a) {
			return true
		}
	}
	return false
}

func idLock(who Accessor, args []string) bool {
	for _, a := range args {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(a), "#"))
		if err == nil && DBRef(n) == who.Ref() {
			return true
		}
	}
	return false
}

// lockNode is a parsed lock expression.
type lockNode struct {
	op   string // "and", "or", "not", "call"
	fn   string
	args []string
	a, b *lockNode
}

func (n *lockNode) eval(who Accessor) bool {
	switch n.op {
	case "and":
		return n.a.eval(who) && n.b.eval(who)
	case "or":
		return n.a.eval(who) || n.b.eval(who)
	case "not":
		return !n.a.eval(who)
	default:
		return lockFuncs[n.fn](who, n.args)
	}
}

// Lock is a parsed lock string of the form "access:expr;access:expr".
type Lock struct {
	src   string
	exprs map[string]*lockNode
}

// ParseLock parses a lock string. Access types are case-insensitive.
//
// Grammar per access type:
//
//	E → T ("or" E)?
//	T → F ("and" T)?
//	F → "not" F | "(" E ")" | name "(" args ")"
func ParseLock(src string) (*Lock, error) {
	l := &Lock{src: src, exprs: make(map[string]*lockNode)}
	for _, part := range strings.Split(src, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		colon := strings.IndexByte(part, ':')
		if colon <= 0 {
			return nil, fmt.Errorf("lock %q: missing access type", part)
		}
		access := strings.ToLower(strings.TrimSpace(part[:colon]))
		p := &lockParser{toks: tokenizeLock(part[colon+1:])}
		node, err := p.expr()
		if err != nil {
			return nil, fmt.Errorf("lock %q: %w", part, err)
		}
		if p.pos != len(p.toks) {
			return nil, fmt.Errorf("lock %q: unexpected %q", part, p.toks[p.pos])
		}
		l.exprs[access] = node
	}
	return l, nil
}

// String returns the lock source.
func (l *Lock) String() string {
	return l.src
}

// Check evaluates the access type for who. A missing access type yields def.
// The God object passes every lock.
func (l *Lock) Check(access string, who Accessor, def bool) bool {
	if who == nil {
		return false
	}
	if who.Ref() == GodRef {
		return true
	}
	node, ok := l.exprs[strings.ToLower(access)]
	if !ok {
		return def
	}
	return node.eval(who)
}

// CheckLock parses src and checks access in one step. Unparseable locks deny.
func CheckLock(src, access string, who Accessor, def bool) bool {
	l, err := ParseLock(src)
	if err != nil {
		return false
	}
	return l.Check(access, who, def)
}

// ---------- Parser ----------

type lockParser struct {
	toks []string
	pos  int
}

func tokenizeLock(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '(', ')', ',':
			flush()
			toks = append(toks, string(r))
		case ' ', '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

func (p *lockParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *lockParser) advance() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *lockParser) expr() (*lockNode, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(p.peek(), "or") {
		p.advance()
		right, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &lockNode{op: "or", a: left, b: right}, nil
	}
	return left, nil
}

func (p *lockParser) term() (*lockNode, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(p.peek(), "and") {
		p.advance()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		return &lockNode{op: "and", a: left, b: right}, nil
	}
	return left, nil
}

func (p *lockParser) factor() (*lockNode, error) {
	tok := p.advance()
	switch {
	case tok == "":
		return nil, fmt.Errorf("unexpected end of lock")
	case strings.EqualFold(tok, "not"):
		inner, err := p.factor()
		if err != nil {
			return nil, err
		}
		return &lockNode{op: "not", a: inner}, nil
	case tok == "(":
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.advance() != ")" {
			return nil, fmt.Errorf("missing )")
		}
		return inner, nil
	}

	name := strings.ToLower(tok)
	if _, ok := lockFuncs[name]; !ok {
		return nil, fmt.Errorf("unknown lock function %q", tok)
	}
	if p.advance() != "(" {
		return nil, fmt.Errorf("%s: expected (", name)
	}
	var args []string
	for {
		t := p.advance()
		switch t {
		case "":
			return nil, fmt.Errorf("%s: missing )", name)
		case ")":
			return &lockNode{op: "call", fn: name, args: args}, nil
		case ",":
			continue
		default:
			args = append(args, t)
		}
	}
}
