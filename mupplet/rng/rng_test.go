package rng

import (
	"encoding/hex"
	"math/rand"
	"testing"
	"time"

	"mupplet-go/bus"
	"mupplet-go/errcode"
	"mupplet-go/hw"
)

func TestJitterSourceExtractsDeltaParity(t *testing.T) {
	j := NewJitterSource(false)

	if _, ok := j.Push(1000); ok {
		t.Fatal("first edge must not yield a bit")
	}
	bit, ok := j.Push(1003) // delta 3, odd
	if !ok || bit != 1 {
		t.Errorf("odd delta: bit=%d ok=%v", bit, ok)
	}
	bit, ok = j.Push(1007) // delta 4, even
	if !ok || bit != 0 {
		t.Errorf("even delta: bit=%d ok=%v", bit, ok)
	}
	if _, ok := j.Push(1007); ok {
		t.Error("duplicate timestamp must not yield a bit")
	}
}

func TestJitterSourceWhiteningIsDeterministic(t *testing.T) {
	a := NewJitterSource(true)
	b := NewJitterSource(true)
	rnd := rand.New(rand.NewSource(7))
	tUS := int64(1000)
	for i := 0; i < 1000; i++ {
		tUS += int64(rnd.Intn(500) + 1)
		ba, oka := a.Push(tUS)
		bb, okb := b.Push(tUS)
		if ba != bb || oka != okb {
			t.Fatalf("whitened streams diverged at %d", i)
		}
	}
}

func TestVonNeumannDropsEqualPairs(t *testing.T) {
	v := &VonNeumann{}

	// pair 01 -> 0
	if _, ok := v.Push(0); ok {
		t.Fatal("half pair emitted")
	}
	out, ok := v.Push(1)
	if !ok || out != 0 {
		t.Errorf("pair 01: out=%d ok=%v", out, ok)
	}
	// pair 10 -> 1
	v.Push(1)
	out, ok = v.Push(0)
	if !ok || out != 1 {
		t.Errorf("pair 10: out=%d ok=%v", out, ok)
	}
	// pairs 00 and 11 discarded
	v.Push(0)
	if _, ok := v.Push(0); ok {
		t.Error("pair 00 emitted")
	}
	v.Push(1)
	if _, ok := v.Push(1); ok {
		t.Error("pair 11 emitted")
	}
}

func TestVonNeumannRemovesBias(t *testing.T) {
	v := &VonNeumann{}
	rnd := rand.New(rand.NewSource(42))

	var ones, total int
	for i := 0; i < 200000; i++ {
		// heavily biased source: 80% ones
		var bit uint8
		if rnd.Float64() < 0.8 {
			bit = 1
		}
		if out, ok := v.Push(bit); ok {
			total++
			ones += int(out)
		}
	}
	if total < 10000 {
		t.Fatalf("only %d output bits", total)
	}
	ratio := float64(ones) / float64(total)
	if ratio < 0.48 || ratio > 0.52 {
		t.Errorf("output ones ratio = %v, want ~0.5 from a 0.8-biased source", ratio)
	}
}

func TestSelfTestPassesUniformSample(t *testing.T) {
	st := NewSelfTest(25600, 2.0)
	for i := 0; i < 25600; i++ {
		done := st.Feed(byte(i % 256))
		if done && i != 25599 {
			t.Fatalf("sample done early at %d", i)
		}
	}
	if st.State() != TestSampleDone {
		t.Fatalf("state = %v, want sample_done", st.State())
	}
	if !st.Evaluate() {
		t.Error("uniform sample failed the distribution check")
	}
	if st.State() != TestOK {
		t.Errorf("state = %v, want ok", st.State())
	}
}

func TestSelfTestFailsConstantSource(t *testing.T) {
	st := NewSelfTest(2560, 2.0)
	for i := 0; i < 2560; i++ {
		st.Feed(0x42)
	}
	if st.Evaluate() {
		t.Error("constant source passed the distribution check")
	}
	if st.State() != TestFailed {
		t.Errorf("state = %v, want failed", st.State())
	}
}

func TestSelfTestFailsSkewedSource(t *testing.T) {
	st := NewSelfTest(25600, 2.0)
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 25600; i++ {
		// half the bytes forced into the low quarter of the range
		b := byte(rnd.Intn(256))
		if i%2 == 0 {
			b = byte(rnd.Intn(64))
		}
		st.Feed(b)
	}
	if st.Evaluate() {
		t.Error("skewed source passed the distribution check")
	}
}

func TestSelfTestPassesRandomSample(t *testing.T) {
	st := NewSelfTest(25600, 2.0)
	rnd := rand.New(rand.NewSource(99))
	for i := 0; i < 25600; i++ {
		st.Feed(byte(rnd.Intn(256)))
	}
	if !st.Evaluate() {
		t.Error("well-distributed random sample failed the check")
	}
}

func newTestRng(t *testing.T, cfg Config) (*Rng, <-chan *bus.Message) {
	t.Helper()
	b := bus.NewBus(16)
	r := New("noise", hw.NewFakeEdgeSource(8), cfg)
	r.conn = b.NewConnection("noise")

	tc := b.NewConnection("test")
	out, err := tc.Subscribe(bus.T("noise/sensor/rng/#"))
	if err != nil {
		t.Fatal(err)
	}
	return r, out
}

// passSelfTest drives the self test to OK with a uniform byte sample.
func passSelfTest(t *testing.T, r *Rng) {
	t.Helper()
	for i := 0; i < 256; i++ {
		r.routeByte(byte(i))
	}
	if r.State() != TestOK {
		t.Fatalf("state = %v after uniform sample, want ok", r.State())
	}
}

func TestBytesReachPoolOnlyAfterTestPasses(t *testing.T) {
	r, _ := newTestRng(t, Config{SampleSize: 256})

	r.routeByte(0xFF)
	if r.Available() != 0 {
		t.Fatal("bytes reached the pool during the self test")
	}
	// finish the sample with the remaining byte values so every bucket
	// holds exactly one hit
	for i := 0; i < 255; i++ {
		r.routeByte(byte(i))
	}
	if r.State() != TestOK {
		t.Fatalf("state = %v, want ok", r.State())
	}

	r.routeByte(0x01)
	r.routeByte(0x02)
	if r.Available() != 2 {
		t.Errorf("pool holds %d bytes, want 2", r.Available())
	}
}

func TestEdgePipelineProducesBytes(t *testing.T) {
	r, _ := newTestRng(t, Config{SampleSize: 256})
	r.now = func() int64 { return 1 }
	passSelfTest(t, r)

	// alternating odd/even deltas: raw bits 1,0,1,0,... and every Von
	// Neumann pair (1,0) emits 1, so 17 edges produce the byte 0xFF
	tUS := int64(1000)
	r.onEdge(hw.EdgeEvent{Level: true, TimeUS: tUS})
	for i := 0; i < 16; i++ {
		if i%2 == 0 {
			tUS += 1
		} else {
			tUS += 2
		}
		r.onEdge(hw.EdgeEvent{Level: true, TimeUS: tUS})
	}
	if r.Available() != 1 {
		t.Fatalf("pool holds %d bytes, want 1", r.Available())
	}

	r.publishData("1")
	buf := make([]byte, 1)
	if n := r.pool.ReadInto(buf); n != 0 {
		t.Error("publishData left the byte in the pool")
	}
}

func TestDataGetPublishesHex(t *testing.T) {
	r, out := newTestRng(t, Config{SampleSize: 256})
	passSelfTest(t, r)
	r.routeByte(0xDE)
	r.routeByte(0xAD)

	r.handle(&bus.Message{Topic: bus.T("noise/sensor/rng/data/get"), Payload: "2"})
	select {
	case m := <-out:
		if m.Topic.String() != "noise/sensor/rng/data" {
			t.Fatalf("topic = %s", m.Topic)
		}
		want := hex.EncodeToString([]byte{0xDE, 0xAD})
		if m.String() != want {
			t.Errorf("payload = %q, want %q", m.String(), want)
		}
	default:
		t.Fatal("no data published")
	}
}

func TestDataGetOnEmptyPoolPublishesEmpty(t *testing.T) {
	r, out := newTestRng(t, Config{SampleSize: 256})

	r.handle(&bus.Message{Topic: bus.T("noise/sensor/rng/data/get"), Payload: "16"})
	select {
	case m := <-out:
		if m.String() != "" {
			t.Errorf("payload = %q, want empty while unhealthy", m.String())
		}
	default:
		t.Fatal("no reply published")
	}
}

func TestReadReportsGeneratorCondition(t *testing.T) {
	r, _ := newTestRng(t, Config{SampleSize: 256})
	buf := make([]byte, 4)

	if _, err := r.read(buf); errcode.Of(err) != errcode.SelfTestFailed {
		t.Errorf("unhealthy read: err = %v, want self_test_failed", err)
	}

	passSelfTest(t, r)
	if _, err := r.read(buf); errcode.Of(err) != errcode.PoolEmpty {
		t.Errorf("empty pool read: err = %v, want pool_empty", err)
	}

	r.routeByte(0x55)
	n, err := r.read(buf)
	if err != nil || n != 1 || buf[0] != 0x55 {
		t.Errorf("read n=%d err=%v buf[0]=%#x, want one pooled byte", n, err, buf[0])
	}
}

func TestDataGetCapFollowsConfiguredPool(t *testing.T) {
	r, out := newTestRng(t, Config{SampleSize: 256, PoolSize: 8192})
	passSelfTest(t, r)
	for i := 0; i < 8192; i++ {
		r.routeByte(byte(i))
	}

	r.handle(&bus.Message{Topic: bus.T("noise/sensor/rng/data/get"), Payload: "8192"})
	select {
	case m := <-out:
		if got := len(m.String()); got != 2*8192 {
			t.Errorf("hex payload length = %d, want %d", got, 2*8192)
		}
	default:
		t.Fatal("no data published")
	}
}

func TestStateGet(t *testing.T) {
	r, out := newTestRng(t, Config{SampleSize: 256})

	r.handle(&bus.Message{Topic: bus.T("noise/sensor/rng/state/get"), Payload: ""})
	select {
	case m := <-out:
		if m.Topic.String() != "noise/sensor/rng/state" || m.String() != "init" {
			t.Errorf("got %s=%q, want state=init", m.Topic, m.String())
		}
	default:
		t.Fatal("no state published")
	}

	passSelfTest(t, r)
	r.handle(&bus.Message{Topic: bus.T("noise/sensor/rng/state/get"), Payload: ""})
	select {
	case m := <-out:
		if m.String() != "ok" {
			t.Errorf("state = %q, want ok", m.String())
		}
	default:
		t.Fatal("no state published")
	}
}

func TestStallFailsRunningTest(t *testing.T) {
	r, _ := newTestRng(t, Config{SampleSize: 256})
	now := int64(1000)
	r.now = func() int64 { return now }
	r.lastEdgeMs = now

	r.routeByte(0x10) // test is running
	now += (10 * time.Second).Milliseconds() + 1
	r.checkStall(now)
	if r.State() != TestFailed {
		t.Fatalf("state = %v after stall, want failed", r.State())
	}

	// edges resuming restart the health check
	r.onEdge(hw.EdgeEvent{Level: true, TimeUS: 5_000_000})
	if r.State() != TestInit && r.State() != TestRunning {
		t.Errorf("state = %v after resume, want init/running", r.State())
	}
}

func TestFailedDistributionRetries(t *testing.T) {
	r, _ := newTestRng(t, Config{SampleSize: 256})

	// constant sample fails and resets for another attempt
	for i := 0; i < 256; i++ {
		r.routeByte(0x00)
	}
	if r.State() != TestInit {
		t.Fatalf("state = %v after failed sample, want init (retrying)", r.State())
	}

	passSelfTest(t, r)
}

func TestPoolDropsWhenFull(t *testing.T) {
	r, _ := newTestRng(t, Config{SampleSize: 256, PoolSize: 64})
	passSelfTest(t, r)

	for i := 0; i < 200; i++ {
		r.routeByte(byte(i))
	}
	if r.Available() != 64 {
		t.Errorf("pool holds %d bytes, want capped at 64", r.Available())
	}
	// oldest bytes survive; newest were dropped
	buf := make([]byte, 64)
	r.pool.ReadInto(buf)
	if buf[0] != 0 || buf[63] != 63 {
		t.Errorf("pool contents start %d end %d, want 0..63", buf[0], buf[63])
	}
}
