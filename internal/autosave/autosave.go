// Package autosave tracks the save indicator for an editing session as an
// explicit state machine. Each UI session owns its own Tracker.
package autosave

import (
	"fmt"
	"sync"
	"time"
)

type State string

const (
	Idle   State = "idle"
	Saving State = "saving"
	Saved  State = "saved"
	Error  State = "error"
)

type Trigger string

const (
	Begin   Trigger = "begin"
	Succeed Trigger = "succeed"
	Fail    Trigger = "fail"
	Settle  Trigger = "settle"
	Reset   Trigger = "reset"
)

var transitions = map[State]map[Trigger]State{
	Idle:   {Begin: Saving},
	Saving: {Succeed: Saved, Fail: Error},
	Saved:  {Begin: Saving, Settle: Idle},
	Error:  {Begin: Saving, Reset: Idle},
}

// TransitionError reports a trigger that is not valid in the current state.
type TransitionError struct {
	From    State
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("autosave: cannot %s while %s", e.Trigger, e.From)
}

// Status is a point-in-time view of a Tracker.
type Status struct {
	State     State     `json:"state"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type Tracker struct {
	mu          sync.Mutex
	status      Status
	settleAfter time.Duration
	now         func() time.Time
}

// NewTracker returns an idle tracker. A saved state older than settleAfter
// reads as idle; zero disables that.
func NewTracker(settleAfter time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		status:      Status{State: Idle, ChangedAt: now()},
		settleAfter: settleAfter,
		now:         now,
	}
}

// Fire applies a trigger. field names what is being saved and message carries
// the failure text for Fail; both are optional.
func (t *Tracker) Fire(trigger Trigger, field, message string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settleLocked()
	next, ok := transitions[t.status.State][trigger]
	if !ok {
		return t.status, &TransitionError{From: t.status.State, Trigger: trigger}
	}
	st := Status{State: next, ChangedAt: t.now()}
	switch next {
	case Saving, Saved:
		st.Field = field
		if st.Field == "" && next == Saved {
			st.Field = t.status.Field
		}
	case Error:
		st.Field = t.status.Field
		st.Message = message
	}
	t.status = st
	return st, nil
}

// Status returns the current state, settling a stale saved indicator.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settleLocked()
	return t.status
}

func (t *Tracker) settleLocked() {
	if t.status.State != Saved || t.settleAfter <= 0 {
		return
	}
	if t.now().Sub(t.status.ChangedAt) >= t.settleAfter {
		t.status = Status{State: Idle, ChangedAt: t.now()}
	}
}

// Save runs fn between Begin and Succeed/Fail and returns fn's error. A
// Begin rejected because a save is in flight returns the TransitionError
// without calling fn.
func (t *Tracker) Save(field string, fn func() error) error {
	if _, err := t.Fire(Begin, field, ""); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_, _ = t.Fire(Fail, field, err.Error())
		return err
	}
	_, err := t.Fire(Succeed, field, "")
	return err
}

// Registry holds one tracker per session id. Trackers not looked up for
// longer than the expiry are dropped, so sessions that lapse without a
// logout do not accumulate.
type Registry struct {
	mu          sync.Mutex
	trackers    map[string]*entry
	settleAfter time.Duration
	expireAfter time.Duration
	lastSweep   time.Time
	now         func() time.Time
}

type entry struct {
	tracker *Tracker
	seen    time.Time
}

const sweepEvery = time.Minute

func NewRegistry(settleAfter time.Duration) *Registry {
	return &Registry{trackers: make(map[string]*entry), settleAfter: settleAfter, now: time.Now}
}

// WithExpiry sets how long an unused tracker is kept. Zero keeps trackers
// until Drop.
func (r *Registry) WithExpiry(d time.Duration) *Registry {
	r.mu.Lock()
	r.expireAfter = d
	r.mu.Unlock()
	return r
}

// For returns the session's tracker, creating it on first use.
func (r *Registry) For(sessionID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastSweep) >= sweepEvery {
		r.sweepLocked(now)
	}
	e, ok := r.trackers[sessionID]
	if !ok {
		e = &entry{tracker: NewTracker(r.settleAfter, r.now)}
		r.trackers[sessionID] = e
	}
	e.seen = now
	return e.tracker
}

// Sweep drops expired trackers and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

func (r *Registry) sweepLocked(now time.Time) int {
	r.lastSweep = now
	if r.expireAfter <= 0 {
		return 0
	}
	n := 0
	for id, e := range r.trackers {
		if now.Sub(e.seen) >= r.expireAfter {
			delete(r.trackers, id)
			n++
		}
	}
	return n
}

// Drop forgets a session, e.g. on logout.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.trackers, sessionID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
