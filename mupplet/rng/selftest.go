package rng

// SelfTestState tracks the startup health check of the entropy source.
type SelfTestState int

const (
	// TestInit: no sample collected yet.
	TestInit SelfTestState = iota
	// TestRunning: bytes are being collected into the histogram.
	TestRunning
	// TestSampleDone: the sample is complete and awaits evaluation.
	TestSampleDone
	// TestOK: the byte distribution passed; the pool is being filled.
	TestOK
	// TestFailed: the distribution check failed or the source stalled.
	TestFailed
)

func (s SelfTestState) String() string {
	switch s {
	case TestInit:
		return "init"
	case TestRunning:
		return "running"
	case TestSampleDone:
		return "sample_done"
	case TestOK:
		return "ok"
	case TestFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// defaultSampleSize gives an expected 100 hits per histogram bucket.
const defaultSampleSize = 25600

// defaultFudge bounds each bucket to [expected/2, expected*2].
const defaultFudge = 2.0

// SelfTest collects a sample of generated bytes and checks that their
// value histogram is roughly uniform. It catches stuck sources (constant
// bytes), strongly periodic inputs and grossly biased extraction, not
// subtle statistical defects.
type SelfTest struct {
	sampleSize int
	fudge      float64

	state SelfTestState
	hist  [256]int
	n     int
}

// NewSelfTest creates a self test. sampleSize <= 0 and fudge <= 1 select
// the defaults (25600 bytes, factor 2.0).
func NewSelfTest(sampleSize int, fudge float64) *SelfTest {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	if fudge <= 1.0 {
		fudge = defaultFudge
	}
	return &SelfTest{sampleSize: sampleSize, fudge: fudge}
}

// State reports the current test state.
func (s *SelfTest) State() SelfTestState { return s.state }

// Reset discards the sample and restarts the test.
func (s *SelfTest) Reset() {
	s.hist = [256]int{}
	s.n = 0
	s.state = TestInit
}

// Feed adds one byte to the sample. It reports true when the sample just
// became complete; call Evaluate next.
func (s *SelfTest) Feed(b byte) bool {
	switch s.state {
	case TestInit:
		s.state = TestRunning
	case TestRunning:
	default:
		return false
	}
	s.hist[b]++
	s.n++
	if s.n >= s.sampleSize {
		s.state = TestSampleDone
		return true
	}
	return false
}

// Evaluate checks the completed sample. Every bucket must hold between
// expected/fudge and expected*fudge hits.
func (s *SelfTest) Evaluate() bool {
	if s.state != TestSampleDone {
		return false
	}
	expected := float64(s.n) / 256.0
	lo := expected / s.fudge
	hi := expected * s.fudge
	for _, count := range s.hist {
		c := float64(count)
		if c < lo || c > hi {
			s.state = TestFailed
			return false
		}
	}
	s.state = TestOK
	return true
}

// Fail forces the failed state, used when the source stalls mid-test.
func (s *SelfTest) Fail() {
	s.state = TestFailed
}
