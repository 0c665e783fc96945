package counter

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMemberName is used when no member identity is configured.
const DefaultMemberName = "unknown-member"

// Snapshot is the value of one agent's counter at one point in time.
type Snapshot struct {
	MemberName    string    `json:"memberName"`
	Counter       int64     `json:"counter"`
	TotalRequests int64     `json:"totalRequests"`
	Resets        uint64    `json:"resets"`
	LastResetAt   time.Time `json:"lastResetAt,omitzero"`
	CapturedAt    time.Time `json:"capturedAt"`
}

// Agent owns one monotonically increasing request counter for this process.
// Increment and Reset are linearizable: both are single atomic operations on
// the same word, so no increment is lost across a reset.
type Agent struct {
	memberName string
	value      atomic.Int64
	resets     atomic.Uint64

	mu        sync.RWMutex // guards lastReset
	lastReset time.Time

	onReset func(Snapshot)
}

func NewAgent(memberName string) *Agent {
	if memberName == "" {
		memberName = DefaultMemberName
	}
	return &Agent{memberName: memberName}
}

// OnReset registers a hook fired after every reset with the post-reset snapshot.
// It must be set before the agent is shared.
func (a *Agent) OnReset(fn func(Snapshot)) {
	a.onReset = fn
}

func (a *Agent) MemberName() string {
	return a.memberName
}

// Increment adds 1 and returns the new value.
func (a *Agent) Increment() int64 {
	return a.value.Add(1)
}

// Read returns the current value without side effects.
func (a *Agent) Read() Snapshot {
	return a.snapshot(a.value.Load())
}

// Reset sets the counter to 0 and returns the post-reset snapshot.
func (a *Agent) Reset() Snapshot {
	a.value.Swap(0)
	now := time.Now()
	a.mu.Lock()
	a.lastReset = now
	a.mu.Unlock()
	a.resets.Add(1)

	snap := a.snapshot(0)
	if a.onReset != nil {
		a.onReset(snap)
	}
	return snap
}

func (a *Agent) snapshot(v int64) Snapshot {
	a.mu.RLock()
	last := a.lastReset
	a.mu.RUnlock()
	return Snapshot{
		MemberName:    a.memberName,
		Counter:       v,
		TotalRequests: v,
		Resets:        a.resets.Load(),
		LastResetAt:   last,
		CapturedAt:    time.Now(),
	}
}
