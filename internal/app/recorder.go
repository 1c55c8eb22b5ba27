package app

import (
	"sync"

	"github.com/TanaroSch/telly-spelly/internal/hotkey"
)

// RecordingState is the state driven by shortcut actions.
type RecordingState int

const (
	StateIdle RecordingState = iota
	StateRecording
)

func (s RecordingState) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Recorder applies actions idempotently: Start while recording and Stop
// while idle change nothing, so an action delivered twice has the effect of
// one.
type Recorder struct {
	mu    sync.Mutex
	state RecordingState
}

// State returns the current state.
func (r *Recorder) State() RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Apply moves the state for action and reports whether it changed.
func (r *Recorder) Apply(action hotkey.Action) (RecordingState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.state
	switch action {
	case hotkey.ActionStart:
		next = StateRecording
	case hotkey.ActionStop:
		next = StateIdle
	case hotkey.ActionToggle:
		if r.state == StateRecording {
			next = StateIdle
		} else {
			next = StateRecording
		}
	}
	changed := next != r.state
	r.state = next
	return next, changed
}
