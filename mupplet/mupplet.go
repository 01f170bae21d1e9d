// Package mupplet holds the shared pieces of the hardware applets:
// payload parsers for the pub/sub wire contract and the common control
// callback signature.
//
// Every mupplet owns one bus connection and one service goroutine; topics
// live under "<name>/...". Payloads are plain strings.
package mupplet

import (
	"context"
	"strconv"
	"strings"

	"mupplet-go/bus"
)

// Version of the mupplet collection.
const Version = "0.1.0"

// Mupplet is a hardware applet bound to the message bus. Begin starts the
// applet's service goroutine; it returns once subscriptions are in place.
type Mupplet interface {
	Name() string
	Begin(ctx context.Context, conn *bus.Connection) error
}

// ParseBool parses a payload as a boolean. "on" and "true" are true,
// "off", "false" and "0" are false; other numeric values are true.
// The parser is not case sensitive.
func ParseBool(arg string) bool {
	arg = strings.ToLower(strings.TrimSpace(arg))
	switch arg {
	case "on", "true":
		return true
	case "off", "false", "0":
		return false
	}
	n, err := strconv.Atoi(arg)
	return err == nil && n != 0
}

// ParseToken matches a payload against a token list (case-insensitive)
// and returns the index of the match, or -1.
func ParseToken(arg string, tokens []string) int {
	arg = strings.ToLower(strings.TrimSpace(arg))
	for i, tok := range tokens {
		if arg == tok {
			return i
		}
	}
	return -1
}

// ParseRangedLong parses an integer payload and maps out-of-range values
// to the given defaults instead of rejecting them.
func ParseRangedLong(arg string, minVal, maxVal, minDefault, maxDefault int64) int64 {
	val, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return minDefault
	}
	if val < minVal {
		return minDefault
	}
	if val > maxVal {
		return maxDefault
	}
	return val
}

// ParseUnitLevel parses a brightness payload into [0.0..1.0].
// Accepted forms: "on"/"true", "off"/"false", "pct 34", "34%", "0.34",
// and bare integers interpreted as percent. Out-of-range values clamp.
func ParseUnitLevel(msg string) float64 {
	s := strings.TrimSpace(msg)
	var br float64
	switch strings.ToLower(s) {
	case "on", "true":
		br = 1.0
	case "off", "false":
		br = 0.0
	default:
		switch {
		case len(s) > 4 && strings.HasPrefix(s, "pct "):
			n, _ := strconv.Atoi(strings.TrimSpace(s[4:]))
			br = float64(n) / 100.0
		case strings.HasSuffix(s, "%"):
			n, _ := strconv.Atoi(strings.TrimSpace(s[:len(s)-1]))
			br = float64(n) / 100.0
		case strings.ContainsRune(s, '.'):
			br, _ = strconv.ParseFloat(s, 64)
		default:
			n, _ := strconv.Atoi(s)
			br = float64(n) / 100.0
		}
	}
	if br < 0.0 {
		br = 0.0
	}
	if br > 1.0 {
		br = 1.0
	}
	return br
}

// ParseColor parses "#rrggbb" or "0xrrggbb" payloads.
// Malformed strings report ok=false and are ignored by callers.
func ParseColor(msg string) (r, g, b uint8, ok bool) {
	s := strings.TrimSpace(msg)
	switch {
	case strings.HasPrefix(s, "#"):
		s = s[1:]
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		s = s[2:]
	default:
		return 0, 0, 0, false
	}
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}

// SplitArgs splits a command payload of the form
// "<head> <arg1>,<arg2>,..." into head and args, the format used by all
// mode/set commands.
func SplitArgs(msg string) (head string, args []string) {
	msg = strings.TrimSpace(msg)
	head = msg
	if i := strings.IndexByte(msg, ' '); i >= 0 {
		head = msg[:i]
		rest := strings.TrimSpace(msg[i+1:])
		if rest != "" {
			args = strings.Split(rest, ",")
			for i := range args {
				args[i] = strings.TrimSpace(args[i])
			}
		}
	}
	return head, args
}

// CommandOf strips "<name>/<domain>/" from a topic, returning the command
// suffix, e.g. "mode/set" from "led1/light/mode/set".
func CommandOf(topic bus.Topic, name, domain string) (string, bool) {
	if len(topic) < 3 || topic[0] != name || topic[1] != domain {
		return "", false
	}
	return topic[2:].String(), true
}
