// Package clock provides the monotonic millisecond time source shared by
// the ISO-TP engine and the UDS client/server state machines.
package clock

import "time"

// Millis returns milliseconds elapsed since an arbitrary, process-local
// epoch. Only differences between two calls are meaningful.
func Millis() uint32 {
	return uint32(time.Since(epoch).Milliseconds())
}

var epoch = time.Now()

// After reports whether deadline a is at or past b, wrap-safely. All timer
// comparisons in this module must go through this predicate instead of a
// naive `a >= b`; millisecond counters wrap every ~49.7 days.
func After(a, b uint32) bool {
	return int32(a-b) >= 0
}

// Add returns deadline now+delta. The sum wraps modulo 2^32 like the clock
// itself; After compares such deadlines correctly across the wrap.
func Add(now uint32, delta uint32) uint32 {
	return now + delta
}
