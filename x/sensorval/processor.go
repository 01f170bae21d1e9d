// Package sensorval smooths noisy sensor readings and gates publishes on
// meaningful change.
package sensorval

// Processor keeps a running mean over up to SmoothInterval samples and
// reports a value as publishable when it moved by more than Eps (relative)
// since the last published value, or when PollTimeSec elapsed without a
// publish.
type Processor struct {
	SmoothInterval int
	PollTimeSec    int
	Eps            float64

	// LastVal is the last published (filtered) value.
	LastVal float64

	mean      float64
	samples   int
	havePub   bool
	lastPubMs int64
}

func New(smoothInterval, pollTimeSec int, eps float64) *Processor {
	p := &Processor{}
	p.Configure(smoothInterval, pollTimeSec, eps)
	return p
}

// Configure resets the filter with new parameters.
func (p *Processor) Configure(smoothInterval, pollTimeSec int, eps float64) {
	if smoothInterval < 1 {
		smoothInterval = 1
	}
	p.SmoothInterval = smoothInterval
	p.PollTimeSec = pollTimeSec
	p.Eps = eps
	p.Reset()
}

// Reset clears the accumulated state but keeps the parameters.
func (p *Processor) Reset() {
	p.mean = 0
	p.samples = 0
	p.havePub = false
	p.lastPubMs = 0
	p.LastVal = 0
}

// Filter folds v into the running mean and reports whether the smoothed
// value should be published. On true, *v holds the smoothed value.
func (p *Processor) Filter(v *float64, nowMs int64) bool {
	if p.samples < p.SmoothInterval {
		p.samples++
	}
	n := float64(p.samples)
	p.mean = (p.mean*(n-1) + *v) / n
	*v = p.mean

	if !p.havePub {
		p.publish(nowMs)
		return true
	}

	delta := p.mean - p.LastVal
	if delta < 0 {
		delta = -delta
	}
	ref := p.LastVal
	if ref < 0 {
		ref = -ref
	}
	if ref < 1.0 {
		ref = 1.0
	}
	if delta/ref > p.Eps {
		p.publish(nowMs)
		return true
	}
	if p.PollTimeSec > 0 && nowMs-p.lastPubMs >= int64(p.PollTimeSec)*1000 {
		p.publish(nowMs)
		return true
	}
	return false
}

func (p *Processor) publish(nowMs int64) {
	p.LastVal = p.mean
	p.havePub = true
	p.lastPubMs = nowMs
}
