package neopixel

import "sync"

// RecorderStrip captures every pushed frame, for tests and host builds.
type RecorderStrip struct {
	mu     sync.Mutex
	n      int
	Frames [][]uint32
}

// NewRecorderStrip creates a recorder with n pixels.
func NewRecorderStrip(n int) *RecorderStrip {
	return &RecorderStrip{n: n}
}

func (s *RecorderStrip) Len() int { return s.n }

func (s *RecorderStrip) Show(frame []uint32) error {
	cp := make([]uint32, len(frame))
	copy(cp, frame)
	s.mu.Lock()
	s.Frames = append(s.Frames, cp)
	s.mu.Unlock()
	return nil
}

// Last returns the most recent frame, or nil before the first Show.
func (s *RecorderStrip) Last() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Frames) == 0 {
		return nil
	}
	return s.Frames[len(s.Frames)-1]
}

// Count returns the number of pushed frames.
func (s *RecorderStrip) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}
