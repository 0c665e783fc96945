package aggregator

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	maxBodyBytes    = 1 << 20
	maxMessageBytes = 256
)

// AgentClient talks to counter agents over HTTP with bounded connect and read
// times. Every error it returns is a *MemberError.
type AgentClient struct {
	hc   *http.Client
	path string
}

func NewAgentClient(opts Options) *AgentClient {
	opts = opts.withDefaults()
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
	if opts.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // development clusters with self-signed agents
	}
	return &AgentClient{
		hc:   &http.Client{Transport: tr, Timeout: opts.ConnectTimeout + opts.ReadTimeout},
		path: "/" + strings.Trim(opts.CounterPath, "/"),
	}
}

// Fetch reads the counter from the agent at baseURL.
func (c *AgentClient) Fetch(ctx context.Context, baseURL string) (Snapshot, error) {
	return c.do(ctx, http.MethodGet, baseURL+c.path)
}

// Reset asks the agent at baseURL to zero its counter and returns the
// post-reset snapshot.
func (c *AgentClient) Reset(ctx context.Context, baseURL string) (Snapshot, error) {
	return c.do(ctx, http.MethodPost, baseURL+c.path+"/reset")
}

func (c *AgentClient) endpoint(baseURL string) string {
	return baseURL + c.path
}

func (c *AgentClient) do(ctx context.Context, method, url string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Snapshot{}, &MemberError{Reason: ReasonEndpointNotFound, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Snapshot{}, &MemberError{Reason: ReasonConnectionFailed, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Snapshot{}, &MemberError{Reason: ReasonConnectionFailed, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, &MemberError{
			Reason:     ReasonRemoteError,
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("agent returned %d: %s", resp.StatusCode, excerpt(body)),
		}
	}

	snap, err := decodeSnapshot(body)
	if err != nil {
		return Snapshot{}, &MemberError{Reason: ReasonBadResponse, Err: err}
	}
	snap.CapturedAt = time.Now()
	return snap, nil
}

// agentPayload accepts both the current "counter" field and the legacy
// "totalRequests" field; anything else in the body is ignored.
type agentPayload struct {
	MemberName    *string `json:"memberName"`
	Counter       *int64  `json:"counter"`
	TotalRequests *int64  `json:"totalRequests"`
}

func decodeSnapshot(body []byte) (Snapshot, error) {
	var p agentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Snapshot{}, fmt.Errorf("decode agent response: %w", err)
	}
	if p.MemberName == nil {
		return Snapshot{}, errors.New("agent response missing memberName")
	}
	v := p.Counter
	if v == nil {
		v = p.TotalRequests
	}
	if v == nil {
		return Snapshot{}, errors.New("agent response missing counter")
	}
	if *v < 0 {
		return Snapshot{}, fmt.Errorf("agent reported negative counter %d", *v)
	}
	return Snapshot{MemberName: *p.MemberName, CounterValue: *v}, nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxMessageBytes {
		s = s[:maxMessageBytes] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}
