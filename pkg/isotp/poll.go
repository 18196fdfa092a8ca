package isotp

// Poll advances both halves of the link by one tick. now is the current
// monotonic millisecond clock (internal/clock.Millis()). It never blocks,
// matching the tick-driven process() style this engine is built on: each
// call does at most a bounded amount of work and returns.
func (l *Link) Poll(now uint32) {
	l.pollSend(now)
	l.pollRecv(now)
}
