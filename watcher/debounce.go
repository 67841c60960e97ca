package watcher

import "time"

// batch summarises the signals received during one quiet window.
type batch struct {
	size int
	// textOnly is set when every signal was a character data change.
	textOnly bool
}

// coalescer folds a burst of signals into a single batch, emitted once the
// page has been quiet for window or as soon as max signals are pending.
// It is owned by the watcher loop.
type coalescer struct {
	window  time.Duration
	max     int
	onFlush func(batch)

	pending batch
	timer   *time.Timer
	armed   bool
}

func newCoalescer(window time.Duration, max int, onFlush func(batch)) *coalescer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 500
	}
	return &coalescer{window: window, max: max, onFlush: onFlush}
}

// add counts one signal and restarts the quiet window. It reports whether
// the pending batch was flushed because it reached max.
func (c *coalescer) add(op Op) bool {
	if c.pending.size == 0 {
		c.pending.textOnly = true
	}
	c.pending.size++
	if op != OpText {
		c.pending.textOnly = false
	}
	if c.pending.size >= c.max {
		c.flush()
		return true
	}
	if c.timer == nil {
		c.timer = time.NewTimer(c.window)
	} else {
		c.timer.Reset(c.window)
	}
	c.armed = true
	return false
}

// C fires when the quiet window expires. Nil while nothing is pending.
func (c *coalescer) C() <-chan time.Time {
	if !c.armed {
		return nil
	}
	return c.timer.C
}

func (c *coalescer) flush() {
	if c.armed {
		c.timer.Stop()
		c.armed = false
	}
	if c.pending.size == 0 {
		return
	}
	b := c.pending
	c.pending = batch{}
	c.onFlush(b)
}
