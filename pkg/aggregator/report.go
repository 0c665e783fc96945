package aggregator

import (
	"fmt"
	"time"
)

// Status tags a per-member result: StatusSuccess or one of the failure reasons.
type Status string

const (
	StatusSuccess          Status = "success"
	ReasonEndpointNotFound Status = "endpoint_not_found"
	ReasonConnectionFailed Status = "connection_failed"
	ReasonRemoteError      Status = "remote_error"
	ReasonBadResponse      Status = "bad_response"
	ReasonMemberNotFound   Status = "member_not_found"
)

// NoMembersMessage marks a report produced from an empty directory listing.
const NoMembersMessage = "no members found"

// Snapshot is one counter value read from one member.
type Snapshot struct {
	MemberName   string    `json:"memberName"`
	CounterValue int64     `json:"counter"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// Result is the outcome of querying one member. Counter and CapturedAt are
// set only on success; Message and HTTPStatus only on failure.
type Result struct {
	MemberName  string    `json:"memberName"`
	ClusterName string    `json:"clusterName,omitempty"`
	Address     string    `json:"address,omitempty"`
	Status      Status    `json:"status"`
	Counter     *int64    `json:"counter,omitempty"`
	CapturedAt  time.Time `json:"capturedAt,omitzero"`
	Endpoint    string    `json:"endpoint,omitempty"`
	HTTPStatus  int       `json:"httpStatus,omitempty"`
	Message     string    `json:"message,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

// Snapshot returns the captured value when the query succeeded.
func (r Result) Snapshot() (Snapshot, bool) {
	if !r.OK() || r.Counter == nil {
		return Snapshot{}, false
	}
	return Snapshot{MemberName: r.MemberName, CounterValue: *r.Counter, CapturedAt: r.CapturedAt}, true
}

// Report is one collection pass. SuccessCount+ErrorCount == TotalMembers and
// Members is in directory listing order.
type Report struct {
	ID           string    `json:"id"`
	ClusterName  string    `json:"clusterName,omitempty"`
	TotalMembers int       `json:"totalMembers"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	Members      []Result  `json:"members"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Total sums the counters of every successful member.
func (r *Report) Total() int64 {
	var sum int64
	for _, res := range r.Members {
		if s, ok := res.Snapshot(); ok {
			sum += s.CounterValue
		}
	}
	return sum
}

// MemberError is a per-member failure. It never escapes Collect; it is
// converted into a Result at the query boundary.
type MemberError struct {
	Member     string
	Reason     Status
	HTTPStatus int
	Err        error
}

func (e *MemberError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("member %s: %s: %v", e.Member, e.Reason, e.Err)
}

func (e *MemberError) Unwrap() error { return e.Err }
