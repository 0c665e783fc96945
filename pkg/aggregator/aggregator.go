// Package aggregator collects request counters from every member of a
// cluster and assembles them into one report.
//
// Each member is queried independently, with its own connect and read
// timeouts, on a bounded worker pool. A slow, dead or misbehaving member
// produces a tagged failure in the report and never delays or fails the
// others. Only a directory failure or caller cancellation fails the whole
// collection.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/clustercounter/internal/telemetry"
	"github.com/ryandielhenn/clustercounter/pkg/member"
)

// ErrCancelled is returned when the caller's context ends mid-collection.
// No partial report accompanies it.
var ErrCancelled = errors.New("aggregation cancelled")

// Options tune how agents are reached. Zero fields take the defaults below.
type Options struct {
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	Concurrency        int
	DefaultPort        int
	Scheme             string
	CounterPath        string
	InsecureSkipVerify bool
}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultConcurrency    = 16
	DefaultAgentPort      = 9080
	DefaultScheme         = "http"
	DefaultCounterPath    = "/counter"
)

func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.DefaultPort <= 0 {
		o.DefaultPort = DefaultAgentPort
	}
	if o.Scheme == "" {
		o.Scheme = DefaultScheme
	}
	if o.CounterPath == "" {
		o.CounterPath = DefaultCounterPath
	}
	return o
}

// Aggregator is stateless across calls; one instance may serve concurrent
// Collect calls.
type Aggregator struct {
	dir    member.Directory
	client *AgentClient
	opts   Options
	log    *zap.Logger
}

func New(dir member.Directory, opts Options, log *zap.Logger) *Aggregator {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		dir:    dir,
		client: NewAgentClient(opts),
		opts:   opts,
		log:    log.Named("aggregator"),
	}
}

// Directory returns the member directory the aggregator lists from.
func (a *Aggregator) Directory() member.Directory {
	return a.dir
}

// Collect queries every member (optionally only those in cluster) and returns
// a complete report. It fails only when the directory cannot be listed or ctx
// ends before all members have answered.
func (a *Aggregator) Collect(ctx context.Context, cluster string) (*Report, error) {
	start := time.Now()
	defer func() { telemetry.CollectDuration.Observe(time.Since(start).Seconds()) }()

	members, err := a.dir.List(ctx, cluster)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, fmt.Errorf("list members: %w", err)
	}

	rep := &Report{
		ID:           uuid.NewString(),
		ClusterName:  cluster,
		TotalMembers: len(members),
		Members:      make([]Result, len(members)),
	}
	if len(members) == 0 {
		rep.Message = NoMembersMessage
		rep.Timestamp = time.Now()
		a.log.Info("no members found", zap.String("cluster", cluster))
		return rep, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(members), a.opts.Concurrency))
	for i, m := range members {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// slots are fixed by listing order, so completion order is irrelevant
			rep.Members[i] = a.query(gctx, m)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	for _, res := range rep.Members {
		if res.OK() {
			rep.SuccessCount++
		} else {
			rep.ErrorCount++
		}
	}
	rep.Timestamp = time.Now()

	a.log.Info("collection complete",
		zap.String("id", rep.ID),
		zap.String("cluster", cluster),
		zap.Int("members", rep.TotalMembers),
		zap.Int("success", rep.SuccessCount),
		zap.Int("errors", rep.ErrorCount),
		zap.Duration("took", time.Since(start)))
	return rep, nil
}

// CollectOne queries a single member by name. An unknown name yields a result
// with ReasonMemberNotFound, not an error.
func (a *Aggregator) CollectOne(ctx context.Context, name string) (Result, error) {
	m, missing, err := a.find(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if missing != nil {
		return *missing, nil
	}
	res := a.query(ctx, m)
	if ctx.Err() != nil {
		return Result{}, cancelled(ctx)
	}
	return res, nil
}

// Reset forwards a reset to one member's agent and returns the post-reset
// result, classified like CollectOne.
func (a *Aggregator) Reset(ctx context.Context, name string) (Result, error) {
	m, missing, err := a.find(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if missing != nil {
		return *missing, nil
	}
	res := a.call(ctx, m, a.client.Reset)
	if ctx.Err() != nil {
		return Result{}, cancelled(ctx)
	}
	if res.OK() {
		a.log.Info("member counter reset", zap.String("member", m.Name))
	}
	return res, nil
}

// find resolves name through the directory. When the member is unknown it
// returns a ReasonMemberNotFound result and a nil error.
func (a *Aggregator) find(ctx context.Context, name string) (member.Member, *Result, error) {
	m, err := member.Find(ctx, a.dir, name)
	switch {
	case err == nil:
		return m, nil, nil
	case errors.Is(err, member.ErrMemberNotFound):
		telemetry.MemberFetchTotal.WithLabelValues(string(ReasonMemberNotFound)).Inc()
		return member.Member{}, &Result{
			MemberName: name,
			Status:     ReasonMemberNotFound,
			Message:    "Member not found: " + name,
		}, nil
	case ctx.Err() != nil:
		return member.Member{}, nil, cancelled(ctx)
	default:
		return member.Member{}, nil, fmt.Errorf("list members: %w", err)
	}
}

func (a *Aggregator) query(ctx context.Context, m member.Member) Result {
	return a.call(ctx, m, a.client.Fetch)
}

func (a *Aggregator) call(ctx context.Context, m member.Member, fn func(context.Context, string) (Snapshot, error)) Result {
	res := Result{MemberName: m.Name, ClusterName: m.ClusterName, Address: m.Address}

	base, err := member.BaseURL(m, a.opts.Scheme, a.opts.DefaultPort)
	if err != nil {
		return a.fail(res, &MemberError{Member: m.Name, Reason: ReasonEndpointNotFound, Err: err})
	}
	res.Endpoint = a.client.endpoint(base)

	ctx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout+a.opts.ReadTimeout)
	defer cancel()

	snap, err := fn(ctx, base)
	if err != nil {
		var me *MemberError
		if !errors.As(err, &me) {
			me = &MemberError{Reason: ReasonConnectionFailed, Err: err}
		}
		me.Member = m.Name
		return a.fail(res, me)
	}

	if snap.MemberName != m.Name {
		a.log.Debug("agent reports a different member name",
			zap.String("member", m.Name), zap.String("reported", snap.MemberName))
	}
	v := snap.CounterValue
	res.Status = StatusSuccess
	res.Counter = &v
	res.CapturedAt = snap.CapturedAt
	telemetry.MemberFetchTotal.WithLabelValues(string(StatusSuccess)).Inc()
	return res
}

func (a *Aggregator) fail(res Result, me *MemberError) Result {
	res.Status = me.Reason
	res.HTTPStatus = me.HTTPStatus
	res.Message = me.Err.Error()
	telemetry.MemberFetchTotal.WithLabelValues(string(me.Reason)).Inc()
	a.log.Warn("member query failed",
		zap.String("member", me.Member),
		zap.String("reason", string(me.Reason)),
		zap.String("endpoint", res.Endpoint),
		zap.Error(me.Err))
	return res
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
