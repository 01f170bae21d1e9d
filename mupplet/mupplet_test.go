package mupplet

import (
	"math"
	"testing"

	"mupplet-go/bus"
)

func TestParseBool(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"on", true},
		{"ON", true},
		{"true", true},
		{" off ", false},
		{"false", false},
		{"0", false},
		{"1", true},
		{"42", true},
		{"garbage", false},
	}
	for _, c := range cases {
		if got := ParseBool(c.in); got != c.want {
			t.Errorf("ParseBool(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseToken(t *testing.T) {
	tokens := []string{"passive", "blink", "wave"}
	if got := ParseToken("Blink", tokens); got != 1 {
		t.Errorf("ParseToken(Blink) = %d, want 1", got)
	}
	if got := ParseToken("pulse", tokens); got != -1 {
		t.Errorf("ParseToken(pulse) = %d, want -1", got)
	}
}

func TestParseRangedLong(t *testing.T) {
	if got := ParseRangedLong("500", 100, 1000, 100, 1000); got != 500 {
		t.Errorf("in-range = %d, want 500", got)
	}
	if got := ParseRangedLong("5", 100, 1000, 100, 1000); got != 100 {
		t.Errorf("below-min = %d, want 100", got)
	}
	if got := ParseRangedLong("99999", 100, 1000, 100, 1000); got != 1000 {
		t.Errorf("above-max = %d, want 1000", got)
	}
	if got := ParseRangedLong("bogus", 100, 1000, 100, 1000); got != 100 {
		t.Errorf("unparsable = %d, want 100", got)
	}
}

func TestParseUnitLevel(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"on", 1.0},
		{"off", 0.0},
		{"true", 1.0},
		{"false", 0.0},
		{"pct 34", 0.34},
		{"66%", 0.66},
		{"0.5", 0.5},
		{"50", 0.5},
		{"100", 1.0},
		{"250", 1.0},
		{"-3", 0.0},
		{"1.5", 1.0},
	}
	for _, c := range cases {
		if got := ParseUnitLevel(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("ParseUnitLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseColor(t *testing.T) {
	r, g, b, ok := ParseColor("#ff8000")
	if !ok || r != 0xff || g != 0x80 || b != 0x00 {
		t.Errorf("ParseColor(#ff8000) = %d,%d,%d,%v", r, g, b, ok)
	}
	r, g, b, ok = ParseColor("0x102030")
	if !ok || r != 0x10 || g != 0x20 || b != 0x30 {
		t.Errorf("ParseColor(0x102030) = %d,%d,%d,%v", r, g, b, ok)
	}
	if _, _, _, ok := ParseColor("123456"); ok {
		t.Error("bare hex without prefix should not parse")
	}
	if _, _, _, ok := ParseColor("#12345"); ok {
		t.Error("short color should not parse")
	}
}

func TestSplitArgs(t *testing.T) {
	head, args := SplitArgs("wave 1000,0.5")
	if head != "wave" || len(args) != 2 || args[0] != "1000" || args[1] != "0.5" {
		t.Errorf("SplitArgs = %q %v", head, args)
	}
	head, args = SplitArgs("passive")
	if head != "passive" || len(args) != 0 {
		t.Errorf("SplitArgs bare = %q %v", head, args)
	}
}

func TestCommandOf(t *testing.T) {
	cmd, ok := CommandOf(bus.T("led1/light/mode/set"), "led1", "light")
	if !ok || cmd != "mode/set" {
		t.Errorf("CommandOf = %q %v", cmd, ok)
	}
	if _, ok := CommandOf(bus.T("other/light/set"), "led1", "light"); ok {
		t.Error("mismatched name should not match")
	}
}
