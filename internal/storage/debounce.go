package storage

import (
	"sync"
	"time"
)

// debouncer coalesces multiple rapid dirty signals into a single
// flush after a quiet period (default 1s); ForceFlush bypasses the
// timer for shutdown paths.
type debouncer struct {
	mu         sync.Mutex
	timer      *time.Timer
	quiet      time.Duration
	flush      func() error
	onAsyncErr func(error)
}

func newDebouncer(quiet time.Duration, flush func() error, onAsyncErr func(error)) *debouncer {
	return &debouncer{quiet: quiet, flush: flush, onAsyncErr: onAsyncErr}
}

// MarkDirty (re)starts the quiet-period timer. The flush fires once
// no further MarkDirty call arrives within the window, so a burst of
// writes to the same key collapses into one disk write.
func (d *debouncer) MarkDirty() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() {
		if err := d.flush(); err != nil && d.onAsyncErr != nil {
			d.onAsyncErr(err)
		}
	})
}

// ForceFlush cancels any pending timer and flushes synchronously,
// returning the flush error to the caller (used on shutdown).
func (d *debouncer) ForceFlush() error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	return d.flush()
}
