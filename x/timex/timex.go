package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// NowUs returns Unix microseconds as int64. Edge timestamps use it where
// the platform offers nothing closer to the interrupt.
func NowUs() int64 { return time.Now().UnixMicro() }
