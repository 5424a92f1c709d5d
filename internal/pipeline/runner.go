package pipeline

import (
	"context"
	"sync"
	"time"

	"opd-copilot/internal/encounter"
)

// Role names one independently scheduled enrichment computation.
type Role string

const (
	RoleDemographics   Role = "demographics"
	RoleChiefComplaint Role = "chief_complaint"
	RoleKeywords       Role = "keywords"
)

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Snapshot is the immutable call context handed to a role. Record is a deep
// copy owned by the call.
type Snapshot struct {
	Transcript string
	Record     *encounter.Record
	Epoch      uint64
}

// Delta is what a successful role contributes: a partial record to merge
// and any events to publish after the merged state.
type Delta struct {
	Record *encounter.Record
	Events []Event
}

// RoleSpec parameterises a RoleRunner with the external call it drives.
type RoleSpec[T any] struct {
	Name     Role
	Debounce time.Duration
	Call     func(ctx context.Context, snap Snapshot) (T, error)
	Apply    func(result T) Delta
}

// RoleRunner is the per-role debounce gate and single-flight guard.
type RoleRunner[T any] struct {
	spec RoleSpec[T]

	mu             sync.Mutex
	state          State
	lastTranscript string
	nextAllowed    time.Time
}

func NewRoleRunner[T any](spec RoleSpec[T]) *RoleRunner[T] {
	return &RoleRunner[T]{spec: spec}
}

func (r *RoleRunner[T]) Name() Role {
	return r.spec.Name
}

func (r *RoleRunner[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TryAcquire moves the runner from Idle to Running when the transcript is
// new for this role, nothing is in flight, and the debounce window has
// passed. On success the window is pushed forward by the role's interval.
func (r *RoleRunner[T]) TryAcquire(transcript string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if transcript == "" || transcript == r.lastTranscript {
		return false
	}
	if r.state == Running || now.Before(r.nextAllowed) {
		return false
	}
	r.state = Running
	r.lastTranscript = transcript
	r.nextAllowed = now.Add(r.spec.Debounce)
	return true
}

// Run performs the call for an acquired runner. The runner returns to Idle
// when the call completes, whatever the outcome.
func (r *RoleRunner[T]) Run(ctx context.Context, snap Snapshot) (Delta, error) {
	defer r.release()

	result, err := r.spec.Call(ctx, snap)
	if err != nil {
		return Delta{}, err
	}
	return r.spec.Apply(result), nil
}

func (r *RoleRunner[T]) release() {
	r.mu.Lock()
	r.state = Idle
	r.mu.Unlock()
}

// Rearm opens the debounce window immediately. With clearTranscript the
// next non-empty transcript triggers the role even if it was seen before.
func (r *RoleRunner[T]) Rearm(clearTranscript bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextAllowed = time.Time{}
	if clearTranscript {
		r.lastTranscript = ""
	}
}

// runner is the type-erased view the orchestrator schedules.
type runner interface {
	Name() Role
	State() State
	TryAcquire(transcript string, now time.Time) bool
	Run(ctx context.Context, snap Snapshot) (Delta, error)
	Rearm(clearTranscript bool)
}

var _ runner = (*RoleRunner[struct{}])(nil)
