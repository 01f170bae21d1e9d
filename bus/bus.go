// bus.go
package bus

import (
	"errors"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Topic is a sequence of path tokens. The tokens "+" (single level) and
// "#" (remaining levels) act as wildcards in subscription patterns.
type Topic []string

const (
	WildcardOne = "+"
	WildcardAll = "#"
)

// T builds a topic from '/'-separated fragments, so T("a/b", "c") and
// T("a", "b", "c") are equivalent.
func T(parts ...string) Topic {
	out := make(Topic, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, strings.Split(p, "/")...)
	}
	return out
}

// Parse splits a '/'-separated topic string into tokens.
func Parse(s string) Topic {
	if s == "" {
		return nil
	}
	return Topic(strings.Split(s, "/"))
}

func (t Topic) String() string { return strings.Join(t, "/") }

// Append returns a new topic with the given tokens added.
func (t Topic) Append(tokens ...string) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	out = append(out, tokens...)
	return out
}

// HasPrefix reports whether t starts with the given literal prefix.
func (t Topic) HasPrefix(prefix Topic) bool {
	if len(t) < len(prefix) {
		return false
	}
	for i, tok := range prefix {
		if t[i] != tok {
			return false
		}
	}
	return true
}

// Match reports whether the literal topic t matches the pattern, which may
// contain "+" tokens and a trailing "#".
func (t Topic) Match(pattern Topic) bool {
	for i, p := range pattern {
		if p == WildcardAll {
			return true
		}
		if i >= len(t) {
			return false
		}
		if p != WildcardOne && p != t[i] {
			return false
		}
	}
	return len(t) == len(pattern)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
	// Origin identifies the producing connection. Bridges use it to avoid
	// re-forwarding their own traffic.
	Origin string
}

// String returns the payload as a string, converting []byte; other payload
// types yield "".
func (m *Message) String() string {
	switch v := m.Payload.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

// ErrBadPattern is returned by Subscribe for an empty pattern or a "#"
// wildcard that is not the last token.
var ErrBadPattern = errors.New("bus: bad subscription pattern")

type subscription struct {
	pattern Topic
	ch      chan *Message
}

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[string]*node
	subs     []*subscription
	retained *Message
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		root: &node{},
		qLen: queueLen,
	}
}

// NewMessage builds a message without an owning connection.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// addSubscription inserts a subscription into the trie along its pattern
// path (wildcard tokens become ordinary trie keys) and delivers any
// retained messages the pattern matches.
func (b *Bus) addSubscription(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.pattern {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	b.root.eachRetained(func(m *Message) {
		if m.Topic.Match(sub.pattern) {
			deliver(sub, m)
		}
	})
}

func (n *node) eachRetained(fn func(*Message)) {
	if n.retained != nil {
		fn(n.retained)
	}
	for _, child := range n.children {
		child.eachRetained(fn)
	}
}

// Publish delivers a message to all subscribers whose pattern matches its
// topic. If the message is retained, it is stored at the topic node; a nil
// payload clears the retained slot.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.root.dispatch(msg.Topic, msg)

	if msg.Retained {
		n := b.root
		for _, tok := range msg.Topic {
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			child, ok := n.children[tok]
			if !ok {
				child = &node{}
				n.children[tok] = child
			}
			n = child
		}
		if msg.Payload == nil {
			n.retained = nil
		} else {
			n.retained = msg
		}
	}
}

// dispatch walks the trie, branching into literal, "+" and "#" children.
func (n *node) dispatch(rest Topic, msg *Message) {
	if hash, ok := n.children[WildcardAll]; ok {
		for _, sub := range hash.subs {
			deliver(sub, msg)
		}
	}
	if len(rest) == 0 {
		for _, sub := range n.subs {
			deliver(sub, msg)
		}
		return
	}
	if n.children == nil {
		return
	}
	if child, ok := n.children[rest[0]]; ok {
		child.dispatch(rest[1:], msg)
	}
	if rest[0] != WildcardOne && rest[0] != WildcardAll {
		if child, ok := n.children[WildcardOne]; ok {
			child.dispatch(rest[1:], msg)
		}
	}
}

func deliver(sub *subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		// drop oldest if queue full
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// unsubscribe removes a subscription from the trie.
func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, tok := range sub.pattern {
		if n.children == nil {
			return
		}
		child, ok := n.children[tok]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	// Prune empty nodes.
	for i := len(sub.pattern) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.pattern[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	subs []*subscription
	mu   sync.Mutex
	id   string
}

// NewConnection creates a new connection bound to this bus. The id is
// attached to published messages as Origin.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{
		bus: b,
		id:  id,
	}
}

func (c *Connection) ID() string { return c.id }

// NewMessage builds a message carrying this connection's id as Origin.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained, Origin: c.id}
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	if msg.Origin == "" {
		msg.Origin = c.id
	}
	c.bus.Publish(msg)
}

// Pub publishes a non-retained payload.
func (c *Connection) Pub(topic Topic, payload any) {
	c.Publish(c.NewMessage(topic, payload, false))
}

// PubRetained publishes a retained payload.
func (c *Connection) PubRetained(topic Topic, payload any) {
	c.Publish(c.NewMessage(topic, payload, true))
}

// Reply publishes a response to the ReplyTo topic of a request, if any.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}

// Subscribe registers a pattern and returns the channel messages are
// delivered on. The channel is closed on Unsubscribe or Disconnect.
func (c *Connection) Subscribe(pattern Topic) (<-chan *Message, error) {
	if len(pattern) == 0 {
		return nil, ErrBadPattern
	}
	for i, tok := range pattern {
		if tok == WildcardAll && i != len(pattern)-1 {
			return nil, ErrBadPattern
		}
	}
	sub := &subscription{
		pattern: pattern,
		ch:      make(chan *Message, c.bus.qLen),
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub.ch, nil
}

// Unsubscribe removes the subscription that owns ch and closes it.
func (c *Connection) Unsubscribe(ch <-chan *Message) {
	c.mu.Lock()
	var sub *subscription
	for i, s := range c.subs {
		if s.ch == ch {
			sub = s
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if sub == nil {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}
