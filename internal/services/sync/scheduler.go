package sync

import (
	"sync"
	"time"
)

/*
LEARNING: COALESCING BURSTY CHANGE SIGNALS

A single bd mutation can touch the store several times, and the file
watcher fires for every touch. Refreshing on every signal would hammer
the CLI, so two mechanisms gate the work:

1. Passive debounce - each watcher signal (re)starts a short timer; one
   refresh pass runs when the signals go quiet.

2. Mutation gate - armed right after WE cause a mutation. Our own write
   will produce a watcher signal eventually, so we wait for it (instead
   of racing the write with a premature refresh) - but never longer than
   the gate timeout, because the watcher may coalesce or miss. While a
   gate is open, passive debounce is suppressed; the gate resolves once,
   runs one pass, and clears.

The scheduler only decides WHEN a pass runs; the pass itself fans out
into concurrent per-key work elsewhere.
*/

// Refresh reasons, recorded for logging and tracing.
const (
	ReasonDebounce    = "debounce"
	ReasonWatcher     = "watcher"
	ReasonGateTimeout = "timeout"
)

// Scheduler coalesces change signals into bounded refresh passes.
// Construct one per server instance; the timer state is explicit here
// rather than hidden in package-level variables so tests can drive it.
type Scheduler struct {
	mu          sync.Mutex
	debounce    time.Duration
	gateTimeout time.Duration
	timer       *time.Timer // pending passive-debounce timer, nil if none
	gate        *time.Timer // open mutation gate, nil if none
	stopped     bool
	refresh     func(reason string) // runs exactly one refresh pass
}

func NewScheduler(debounce, gateTimeout time.Duration, refresh func(reason string)) *Scheduler {
	return &Scheduler{
		debounce:    debounce,
		gateTimeout: gateTimeout,
		refresh:     refresh,
	}
}

// NotifyChange handles one Change Notifier signal. While a mutation gate
// is open the signal resolves the gate immediately; otherwise it
// (re)starts the debounce window.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	if s.gate != nil {
		resolved := s.closeGateLocked()
		s.mu.Unlock()
		if resolved {
			s.refresh(ReasonWatcher)
		}
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.debounceFired)
	s.mu.Unlock()
}

// AfterMutation opens the mutation gate. A mutation while a gate is
// already open is a no-op for scheduling purposes: it rides the existing
// gate.
func (s *Scheduler) AfterMutation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.gate != nil {
		return
	}
	// Suppress any pending passive refresh; the gate takes over.
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gate = time.AfterFunc(s.gateTimeout, s.gateTimedOut)
}

// GateOpen reports whether a mutation gate is currently armed.
func (s *Scheduler) GateOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate != nil
}

// Stop cancels all pending timers. No refresh runs after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.gate != nil {
		s.gate.Stop()
		s.gate = nil
	}
}

func (s *Scheduler) debounceFired() {
	s.mu.Lock()
	if s.stopped || s.gate != nil {
		// A gate opened while the timer was pending; it owns the refresh.
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.refresh(ReasonDebounce)
}

func (s *Scheduler) gateTimedOut() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	resolved := s.closeGateLocked()
	s.mu.Unlock()

	if resolved {
		s.refresh(ReasonGateTimeout)
	}
}

// closeGateLocked clears the gate and reports whether the caller should
// run the refresh pass. Exactly one resolver wins per gate.
func (s *Scheduler) closeGateLocked() bool {
	if s.gate == nil {
		return false
	}
	s.gate.Stop()
	s.gate = nil
	return true
}
