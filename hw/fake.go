package hw

import "sync"

// FakeOutput records every level written to it.
type FakeOutput struct {
	mu      sync.Mutex
	level   bool
	History []bool
}

func (f *FakeOutput) Set(high bool) {
	f.mu.Lock()
	f.level = high
	f.History = append(f.History, high)
	f.mu.Unlock()
}

func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// FakePWM records duty levels. The default top of 1023 matches a 10-bit
// PWM range.
type FakePWM struct {
	mu     sync.Mutex
	TopVal uint16
	level  uint16
	Levels []uint16
}

func NewFakePWM() *FakePWM { return &FakePWM{TopVal: 1023} }

func (f *FakePWM) Set(high bool) {
	if high {
		f.SetLevel(f.Top())
	} else {
		f.SetLevel(0)
	}
}

func (f *FakePWM) SetLevel(level uint16) {
	f.mu.Lock()
	f.level = level
	f.Levels = append(f.Levels, level)
	f.mu.Unlock()
}

func (f *FakePWM) Top() uint16 {
	if f.TopVal == 0 {
		return 1023
	}
	return f.TopVal
}

func (f *FakePWM) Level() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// FakeInput is a settable digital input.
type FakeInput struct {
	mu    sync.Mutex
	level bool
}

func (f *FakeInput) SetLevel(high bool) {
	f.mu.Lock()
	f.level = high
	f.mu.Unlock()
}

func (f *FakeInput) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// FakeEdgeSource lets tests inject edges with explicit timestamps.
type FakeEdgeSource struct {
	ch     chan EdgeEvent
	closed sync.Once
}

func NewFakeEdgeSource(buf int) *FakeEdgeSource {
	if buf <= 0 {
		buf = 64
	}
	return &FakeEdgeSource{ch: make(chan EdgeEvent, buf)}
}

// Inject queues one edge event, dropping it if the buffer is full (same
// contract as the real sources).
func (f *FakeEdgeSource) Inject(level bool, timeUS int64) bool {
	select {
	case f.ch <- EdgeEvent{Level: level, TimeUS: timeUS}:
		return true
	default:
		return false
	}
}

func (f *FakeEdgeSource) Events() <-chan EdgeEvent { return f.ch }

func (f *FakeEdgeSource) Close() error {
	f.closed.Do(func() { close(f.ch) })
	return nil
}
