package settlement

// ReentrancyGuard is a per-engine latch rejecting a synchronous re-entrant
// call into another fund-moving entry point before the outer call completes.
// It is the engine's only concurrency control: it rejects, it never queues.
type ReentrancyGuard struct {
	locked bool
}

// Enter acquires the latch, failing with InvalidState when it is already
// held.
func (g *ReentrancyGuard) Enter() error {
	if g.locked {
		return ErrInvalidState
	}
	g.locked = true
	return nil
}

// Exit unconditionally releases the latch. Callers pair it with Enter via
// defer so every exit path, success or failure, releases.
func (g *ReentrancyGuard) Exit() {
	g.locked = false
}
