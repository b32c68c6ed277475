package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Fanout delivers each notification to every channel, suppressing repeats of
// the same processor state within the cooldown.
type Fanout struct {
	channels map[string]Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewFanout builds a fan-out over named channels. A nil clock defaults to
// time.Now.
func NewFanout(channels map[string]Notifier, cooldown time.Duration, now func() time.Time) *Fanout {
	if now == nil {
		now = time.Now
	}
	copied := make(map[string]Notifier, len(channels))
	for name, n := range channels {
		copied[name] = n
	}
	return &Fanout{channels: copied, cooldown: cooldown, now: now, sent: make(map[string]time.Time)}
}

// Channels lists the configured channel names.
func (f *Fanout) Channels() []string {
	names := make([]string, 0, len(f.channels))
	for name := range f.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notify sends note to all channels. It reports false when the
// notification was suppressed by the cooldown or no channel accepted it.
// The cooldown only starts once at least one channel has delivered.
func (f *Fanout) Notify(ctx context.Context, note Notification) (bool, error) {
	now := f.now()
	key := note.Key()

	f.mu.Lock()
	last, seen := f.sent[key]
	if seen && f.cooldown > 0 && now.Sub(last) < f.cooldown {
		f.mu.Unlock()
		return false, nil
	}
	f.sent[key] = now
	f.mu.Unlock()

	if note.At.IsZero() {
		note.At = now
	}
	note.Channels = f.Channels()

	var errs []error
	for _, name := range note.Channels {
		if err := f.channels[name].Notify(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(note.Channels) > 0 && len(errs) == len(note.Channels) {
		f.release(key, now, last, seen)
		return false, errors.Join(errs...)
	}
	return true, errors.Join(errs...)
}

// release undoes the reservation made for a delivery that reached no channel.
func (f *Fanout) release(key string, reserved, prev time.Time, hadPrev bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sent[key].Equal(reserved) {
		return
	}
	if hadPrev {
		f.sent[key] = prev
		return
	}
	delete(f.sent, key)
}
