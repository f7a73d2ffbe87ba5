package main

import (
	"sync"
	"time"
)

// Debouncer runs fn once calls to Trigger stop for wait. With a non-zero
// maxWait, fn also runs when maxWait has passed since the first pending call.
type Debouncer struct {
	wait    time.Duration
	maxWait time.Duration
	fn      func()

	mu       sync.Mutex
	timer    *time.Timer
	maxTimer *time.Timer
}

func NewDebouncer(wait time.Duration, maxWait time.Duration, fn func()) *Debouncer {
	return &Debouncer{wait: wait, maxWait: maxWait, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fire)

	if d.maxWait > 0 && d.maxTimer == nil {
		d.maxTimer = time.AfterFunc(d.maxWait, d.fire)
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.timer == nil && d.maxTimer == nil {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
	d.mu.Unlock()

	d.fn()
}

func (d *Debouncer) pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil || d.maxTimer != nil
}

// Stop cancels a pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
}

// KeyedDebouncer keeps one Debouncer per key, e.g. per changed file.
type KeyedDebouncer struct {
	wait time.Duration

	mu         sync.Mutex
	debouncers map[string]*Debouncer
}

func NewKeyedDebouncer(wait time.Duration) *KeyedDebouncer {
	return &KeyedDebouncer{wait: wait, debouncers: map[string]*Debouncer{}}
}

// Trigger debounces fn under key. The fn of the first pending call for a key
// is kept. A key is forgotten once its call has run.
func (k *KeyedDebouncer) Trigger(key string, fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()

	debouncer, ok := k.debouncers[key]
	if !ok {
		debouncer = NewDebouncer(k.wait, 0, func() {
			k.forget(key, debouncer)
			fn()
		})
		k.debouncers[key] = debouncer
	}
	debouncer.Trigger()
}

// forget drops the debouncer of key unless it was triggered again meanwhile.
func (k *KeyedDebouncer) forget(key string, debouncer *Debouncer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.debouncers[key] == debouncer && !debouncer.pending() {
		delete(k.debouncers, key)
	}
}

// Len returns the number of keys with a pending call.
func (k *KeyedDebouncer) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.debouncers)
}

func (k *KeyedDebouncer) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, debouncer := range k.debouncers {
		debouncer.Stop()
	}
}
