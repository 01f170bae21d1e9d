package bytering

import (
	"sync"
	"testing"
)

func TestEmptyReadReturnsZero(t *testing.T) {
	r := New(16)
	buf := make([]byte, 8)
	if n := r.ReadInto(buf); n != 0 {
		t.Fatalf("empty ring read %d bytes", n)
	}
	if r.Available() != 0 || r.Space() != 16 {
		t.Fatalf("bad watermarks on empty ring")
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	r := New(8)
	src := []byte{1, 2, 3, 4, 5}
	if n := r.WriteFrom(src); n != 5 {
		t.Fatalf("wrote %d, want 5", n)
	}
	dst := make([]byte, 8)
	if n := r.ReadInto(dst); n != 5 {
		t.Fatalf("read %d, want 5", n)
	}
	for i, b := range src {
		if dst[i] != b {
			t.Fatalf("dst[%d]=%d, want %d", i, dst[i], b)
		}
	}
}

func TestFullRingDrops(t *testing.T) {
	r := New(4)
	for i := 0; i < 4; i++ {
		if !r.WriteByte(byte(i)) {
			t.Fatalf("write %d rejected before full", i)
		}
	}
	if r.WriteByte(99) {
		t.Fatal("write accepted on full ring")
	}
	if n := r.WriteFrom([]byte{1, 2}); n != 0 {
		t.Fatalf("WriteFrom wrote %d on full ring", n)
	}
}

func TestWrapAround(t *testing.T) {
	r := New(4)
	dst := make([]byte, 4)
	for cycle := 0; cycle < 10; cycle++ {
		src := []byte{byte(cycle), byte(cycle + 1), byte(cycle + 2)}
		if n := r.WriteFrom(src); n != 3 {
			t.Fatalf("cycle %d: wrote %d", cycle, n)
		}
		if n := r.ReadInto(dst); n != 3 {
			t.Fatalf("cycle %d: read %d", cycle, n)
		}
		for i := range src {
			if dst[i] != src[i] {
				t.Fatalf("cycle %d: dst[%d]=%d want %d", cycle, i, dst[i], src[i])
			}
		}
	}
}

func TestReadNeverPassesWrite(t *testing.T) {
	r := New(64)
	var wg sync.WaitGroup
	wg.Add(2)

	const total = 10000
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if r.WriteByte(byte(i)) {
				i++
			}
		}
	}()

	got := 0
	go func() {
		defer wg.Done()
		buf := make([]byte, 32)
		expect := byte(0)
		for got < total {
			n := r.ReadInto(buf)
			rd, wr := r.Watermarks()
			if int32(wr-rd) < 0 {
				t.Error("read cursor passed write cursor")
				return
			}
			for i := 0; i < n; i++ {
				if buf[i] != expect {
					t.Errorf("out of order: got %d want %d", buf[i], expect)
					return
				}
				expect++
				got++
			}
		}
	}()

	wg.Wait()
	if got != total {
		t.Fatalf("consumed %d of %d bytes", got, total)
	}
}
