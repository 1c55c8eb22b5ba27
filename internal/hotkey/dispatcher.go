package hotkey

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Source names where a dispatched action came from.
type Source string

const (
	SourceCommand      Source = "command"
	SourceKGlobalAccel Source = "kglobalaccel"
	SourcePortal       Source = "portal"
	SourceX11          Source = "x11"
	SourceTray         Source = "tray"
)

// DefaultDedupeWindow is how long an action from one source suppresses the
// same action arriving from a different source.
const DefaultDedupeWindow = 400 * time.Millisecond

const dispatchQueueSize = 32

// Event is one action republished to the application.
type Event struct {
	Action Action
	Source Source
	At     time.Time
}

// Dispatcher receives actions from the Command Service and the backends and
// republishes each trigger to subscribers exactly once. When two backends
// bound the same key, the second delivery of an action from another source
// inside the dedupe window is dropped.
type Dispatcher struct {
	window time.Duration
	now    func() time.Time
	queue  chan Event

	mu       sync.Mutex
	last     map[Action]Event
	handlers []func(Event)
}

// NewDispatcher creates a dispatcher. A non-positive window disables
// deduplication.
func NewDispatcher(window time.Duration) *Dispatcher {
	return &Dispatcher{
		window: window,
		now:    time.Now,
		queue:  make(chan Event, dispatchQueueSize),
		last:   make(map[Action]Event),
	}
}

// Subscribe adds a handler. Handlers run on the Run goroutine.
func (d *Dispatcher) Subscribe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// Emit queues an action without waiting for subscribers. It reports false
// when the action was suppressed as a duplicate or the queue was full.
func (d *Dispatcher) Emit(src Source, action Action) bool {
	d.mu.Lock()
	now := d.now()
	if prev, ok := d.last[action]; ok && d.window > 0 &&
		prev.Source != src && now.Sub(prev.At) < d.window {
		d.mu.Unlock()
		slog.Debug("duplicate action suppressed", "component", "hotkey.dispatcher",
			"action", action.String(), "source", string(src), "first_source", string(prev.Source))
		return false
	}
	ev := Event{Action: action, Source: src, At: now}
	d.last[action] = ev
	d.mu.Unlock()

	select {
	case d.queue <- ev:
		slog.Debug("action dispatched", "component", "hotkey.dispatcher", "action", action.String(), "source", string(src))
		return true
	default:
		slog.Warn("dispatch queue full, action dropped", "component", "hotkey.dispatcher", "action", action.String(), "source", string(src))
		return false
	}
}

// Run delivers queued events to subscribers until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.mu.Lock()
			handlers := slices.Clone(d.handlers)
			d.mu.Unlock()
			for _, fn := range handlers {
				fn(ev)
			}
		}
	}
}
