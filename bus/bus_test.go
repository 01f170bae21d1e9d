// bus/bus_test.go
package bus

import (
	"testing"
	"time"
)

func recvOne(t *testing.T, sub <-chan *Message) *Message {
	t.Helper()
	select {
	case got := <-sub:
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectNone(t *testing.T, sub <-chan *Message) {
	t.Helper()
	select {
	case got := <-sub:
		t.Fatalf("unexpected message on %v: %v", got.Topic, got.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func mustSub(t *testing.T, c *Connection, pattern Topic) <-chan *Message {
	t.Helper()
	sub, err := c.Subscribe(pattern)
	if err != nil {
		t.Fatalf("subscribe %v: %v", pattern, err)
	}
	return sub
}

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := mustSub(t, conn, Topic{"myled", "light", "set"})

	conn.Publish(conn.NewMessage(Topic{"myled", "light", "set"}, "on", false))

	got := recvOne(t, sub)
	if got.String() != "on" {
		t.Errorf("expected payload 'on', got %v", got.Payload)
	}
	if got.Origin != "test" {
		t.Errorf("expected origin 'test', got %q", got.Origin)
	}
}

func TestBadPattern(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	if _, err := c.Subscribe(nil); err != ErrBadPattern {
		t.Errorf("empty pattern: got %v", err)
	}
	if _, err := c.Subscribe(Topic{"a", "#", "b"}); err != ErrBadPattern {
		t.Errorf("inner #: got %v", err)
	}
	if _, err := c.Subscribe(Topic{"a", "#"}); err != nil {
		t.Errorf("trailing #: got %v", err)
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(Topic{"myled", "light", "state"}, "off", true))

	sub := mustSub(t, conn, Topic{"myled", "light", "state"})
	if got := recvOne(t, sub); got.String() != "off" {
		t.Errorf("expected retained payload 'off', got %v", got.Payload)
	}

	// nil payload clears the retained slot
	conn.Publish(conn.NewMessage(Topic{"myled", "light", "state"}, nil, true))
	sub2 := mustSub(t, conn, Topic{"myled", "light", "state"})
	expectNone(t, sub2)
}

func TestRetainedDeliveredThroughWildcard(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(Topic{"myled", "light", "state"}, "on", true))

	sub := mustSub(t, conn, Topic{"myled", "#"})
	if got := recvOne(t, sub); got.String() != "on" {
		t.Errorf("expected retained payload through wildcard, got %v", got.Payload)
	}
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := mustSub(t, c, Topic{"a", "+", "c"})
	s2 := mustSub(t, c, Topic{"a", "+", "+"})
	s3 := mustSub(t, c, Topic{"a", "b", "+"})
	sNo := mustSub(t, c, Topic{"a", "+", "d"})

	c.Publish(b.NewMessage(Topic{"a", "b", "c"}, "m1", false))

	for _, s := range []<-chan *Message{s1, s2, s3} {
		if got := recvOne(t, s); got.String() != "m1" {
			t.Errorf("got %v", got.Payload)
		}
	}
	expectNone(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	all := mustSub(t, c, Topic{"#"})
	sub := mustSub(t, c, Topic{"myled", "light", "#"})

	c.Publish(b.NewMessage(Topic{"myled", "light", "mode", "set"}, "blink 500", false))

	if got := recvOne(t, all); got.Topic.String() != "myled/light/mode/set" {
		t.Errorf("root wildcard got topic %v", got.Topic)
	}
	if got := recvOne(t, sub); got.String() != "blink 500" {
		t.Errorf("prefix wildcard got %v", got.Payload)
	}

	// "a/#" also matches the parent "a" itself
	parent := mustSub(t, c, Topic{"myled", "#"})
	c.Publish(b.NewMessage(Topic{"myled"}, "hello", false))
	if got := recvOne(t, parent); got.String() != "hello" {
		t.Errorf("parent match got %v", got.Payload)
	}
}

func TestDropOldestWhenFull(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	sub := mustSub(t, c, Topic{"x"})

	for i := 0; i < 5; i++ {
		c.Publish(b.NewMessage(Topic{"x"}, i, false))
	}

	// Oldest messages were dropped; the last two survive.
	first := recvOne(t, sub)
	second := recvOne(t, sub)
	if first.Payload.(int) != 3 || second.Payload.(int) != 4 {
		t.Errorf("expected payloads 3,4 got %v,%v", first.Payload, second.Payload)
	}
}

func TestUnsubscribePrunes(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := mustSub(t, c, Topic{"deep", "branch", "leaf"})
	c.Unsubscribe(sub)

	if len(b.root.children) != 0 {
		t.Errorf("expected trie pruned, found %d root children", len(b.root.children))
	}
	if _, ok := <-sub; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or deliver.
	c.Publish(b.NewMessage(Topic{"deep", "branch", "leaf"}, "x", false))
}

func TestDisconnectClosesChannels(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	sub := mustSub(t, c, Topic{"y"})

	c.Disconnect()

	if _, ok := <-sub; ok {
		t.Error("expected closed channel after disconnect")
	}
}

func TestReply(t *testing.T) {
	b := NewBus(4)
	server := b.NewConnection("server")
	client := b.NewConnection("client")

	reqs := mustSub(t, server, Topic{"svc", "do"})
	resps := mustSub(t, client, Topic{"client", "resp"})

	req := client.NewMessage(Topic{"svc", "do"}, "ping", false)
	req.ReplyTo = Topic{"client", "resp"}
	client.Publish(req)

	got := recvOne(t, reqs)
	server.Reply(got, "pong", false)

	if got := recvOne(t, resps); got.String() != "pong" {
		t.Errorf("expected 'pong', got %v", got.Payload)
	}
}

func TestTopicHelpers(t *testing.T) {
	if Parse("a/b/c").String() != "a/b/c" {
		t.Error("Parse/String roundtrip failed")
	}
	if !T("a", "b", "c").HasPrefix(T("a", "b")) {
		t.Error("HasPrefix failed")
	}
	if T("a", "b").HasPrefix(T("a", "b", "c")) {
		t.Error("HasPrefix accepted longer prefix")
	}
	if !T("a", "b", "c").Match(T("a", "+", "c")) {
		t.Error("Match + failed")
	}
	if !T("a", "b", "c").Match(T("a", "#")) {
		t.Error("Match # failed")
	}
	if T("a", "x", "c").Match(T("a", "b", "+")) {
		t.Error("Match accepted mismatch")
	}
}
