// Package rng generates random bytes from the timing jitter of hardware
// interrupts, e.g. a Geiger counter or an avalanche noise circuit on a
// GPIO.
//
// The pipeline is: microsecond inter-arrival deltas -> raw bits (delta
// parity, optionally CRC16-whitened) -> Von Neumann debiasing -> bytes.
// At startup the generated bytes run through a distribution self-test;
// only after the test passes do bytes reach the entropy pool that serves
// "<name>/sensor/rng/data/get" requests.
package rng

import (
	"context"
	"encoding/hex"
	"log"
	"strconv"
	"strings"
	"time"

	"mupplet-go/bus"
	"mupplet-go/errcode"
	"mupplet-go/hw"
	"mupplet-go/x/bytering"
	"mupplet-go/x/timex"
)

const (
	defaultPoolSize     = 4096
	defaultStallTimeout = 10 * time.Second
	tickInterval        = time.Second
)

// Config holds the optional generator settings.
type Config struct {
	// Whitening folds deltas through a CRC16 before bit extraction.
	Whitening bool
	// SampleSize is the self-test sample length in bytes; 0 selects 25600.
	SampleSize int
	// Fudge is the allowed per-bucket deviation factor; <=1 selects 2.0.
	Fudge float64
	// PoolSize is the entropy pool capacity; must be a power of two.
	// 0 selects 4096.
	PoolSize int
	// StallTimeout fails the self-test when no edges arrive for this
	// long; 0 selects 10s.
	StallTimeout time.Duration
}

// Rng is the random generator mupplet.
type Rng struct {
	name  string
	edges hw.EdgeSource

	conn *bus.Connection
	now  func() int64

	bits     *JitterSource
	vn       *VonNeumann
	test     *SelfTest
	pool     *bytering.Ring
	poolSize int

	stallTimeout time.Duration
	lastEdgeMs   int64

	curByte byte
	bitCnt  int

	stalled    bool
	failLogged bool
}

// New creates a random generator fed by an edge source. Use an edge kind
// matching the noise circuit; falling edges are typical for open-collector
// detector outputs.
func New(name string, edges hw.EdgeSource, cfg Config) *Rng {
	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = defaultPoolSize
	}
	stall := cfg.StallTimeout
	if stall == 0 {
		stall = defaultStallTimeout
	}
	return &Rng{
		name:         name,
		edges:        edges,
		now:          timex.NowMs,
		bits:         NewJitterSource(cfg.Whitening),
		vn:           &VonNeumann{},
		test:         NewSelfTest(cfg.SampleSize, cfg.Fudge),
		pool:         bytering.New(poolSize),
		poolSize:     poolSize,
		stallTimeout: stall,
	}
}

func (r *Rng) Name() string { return r.name }

// State reports the self-test state.
func (r *Rng) State() SelfTestState { return r.test.State() }

// Available reports the number of pooled random bytes.
func (r *Rng) Available() int { return r.pool.Available() }

// Begin starts the generator service goroutine.
func (r *Rng) Begin(ctx context.Context, conn *bus.Connection) error {
	r.conn = conn
	sub, err := conn.Subscribe(bus.T(r.name + "/#"))
	if err != nil {
		return err
	}
	r.lastEdgeMs = r.now()
	go r.run(ctx, sub)
	return nil
}

func (r *Rng) run(ctx context.Context, sub <-chan *bus.Message) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	events := r.edges.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.onEdge(ev)
		case <-ticker.C:
			r.checkStall(r.now())
		case msg, ok := <-sub:
			if !ok {
				return
			}
			r.handle(msg)
		}
	}
}

// onEdge runs one edge through the extraction pipeline.
func (r *Rng) onEdge(ev hw.EdgeEvent) {
	r.lastEdgeMs = r.now()
	if r.stalled {
		// source came back: restart the health check from scratch
		r.stalled = false
		r.restartTest()
	}
	raw, ok := r.bits.Push(ev.TimeUS)
	if !ok {
		return
	}
	bit, ok := r.vn.Push(raw)
	if !ok {
		return
	}
	r.curByte = r.curByte<<1 | bit
	r.bitCnt++
	if r.bitCnt < 8 {
		return
	}
	b := r.curByte
	r.curByte = 0
	r.bitCnt = 0
	r.routeByte(b)
}

func (r *Rng) routeByte(b byte) {
	if r.test.State() == TestOK {
		// pool full means drop; the pool refills on demand
		r.pool.WriteByte(b)
		return
	}
	if r.test.Feed(b) {
		if r.test.Evaluate() {
			log.Printf("rng %s: self test passed, filling entropy pool", r.name)
			r.failLogged = false
		} else {
			if !r.failLogged {
				log.Printf("rng %s: self test failed, distribution out of bounds, retrying", r.name)
				r.failLogged = true
			}
			r.test.Reset()
		}
	}
}

// checkStall fails the self-test when the source stops delivering edges
// while the test is still collecting.
func (r *Rng) checkStall(nowMs int64) {
	st := r.test.State()
	if st != TestInit && st != TestRunning {
		return
	}
	if nowMs-r.lastEdgeMs < r.stallTimeout.Milliseconds() {
		return
	}
	if !r.stalled {
		log.Printf("rng %s: no edges for %v during self test, source stalled", r.name, r.stallTimeout)
		r.stalled = true
	}
	r.test.Fail()
}

func (r *Rng) restartTest() {
	r.test.Reset()
	r.bits.Reset()
	r.vn.Reset()
	r.curByte = 0
	r.bitCnt = 0
}

func (r *Rng) handle(msg *bus.Message) {
	switch msg.Topic.String() {
	case r.name + "/sensor/rng/data/get":
		r.publishData(msg.String())
	case r.name + "/sensor/rng/state/get":
		r.publishState()
	}
}

// read fills p from the entropy pool. The generator condition comes back
// as a stable code: SelfTestFailed while the health check has not passed,
// PoolEmpty when no bytes are pooled.
func (r *Rng) read(p []byte) (int, error) {
	if r.test.State() != TestOK {
		return 0, errcode.SelfTestFailed
	}
	n := r.pool.ReadInto(p)
	if n == 0 && len(p) > 0 {
		return 0, errcode.PoolEmpty
	}
	return n, nil
}

// publishData answers a data request with up to the requested number of
// pooled bytes, hex encoded. An unhealthy or empty pool yields an empty
// payload.
func (r *Rng) publishData(arg string) {
	count := 32
	if v, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && v > 0 {
		count = v
	}
	if count > r.poolSize {
		count = r.poolSize
	}
	buf := make([]byte, count)
	n, err := r.read(buf)
	if err != nil {
		n = 0
	}
	r.conn.Pub(bus.T(r.name+"/sensor/rng/data"), hex.EncodeToString(buf[:n]))
}

func (r *Rng) publishState() {
	r.conn.Pub(bus.T(r.name+"/sensor/rng/state"), r.test.State().String())
}
