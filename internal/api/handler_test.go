package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/clustercounter/pkg/aggregator"
	"github.com/ryandielhenn/clustercounter/pkg/member"
)

type downDirectory struct{}

func (downDirectory) List(context.Context, string) ([]member.Member, error) {
	return nil, member.Unavailable(errors.New("controller unreachable"))
}

func newTestServer(t *testing.T, dir member.Directory) http.Handler {
	t.Helper()
	agg := aggregator.New(dir, aggregator.Options{
		ConnectTimeout: 200 * time.Millisecond,
		ReadTimeout:    200 * time.Millisecond,
	}, nil)
	return NewServer(agg, nil)
}

func agent(t *testing.T, name string, value int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"memberName":%q,"counter":%d,"totalRequests":%d}`, name, value, value)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestCountersPartialFailureIs200(t *testing.T) {
	m1 := agent(t, "m1", 5)
	dir := member.NewStaticDirectory(
		member.Member{Name: "m1", Address: m1.URL, ClusterName: "blue"},
		member.Member{Name: "m2", ClusterName: "blue"},
	)
	h := newTestServer(t, dir)

	rec, body := do(t, h, http.MethodGet, "/counters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["totalMembers"])
	assert.EqualValues(t, 1, body["successCount"])
	assert.EqualValues(t, 1, body["errorCount"])
	assert.NotEmpty(t, body["timestamp"])

	members := body["members"].([]any)
	require.Len(t, members, 2)
	first := members[0].(map[string]any)
	second := members[1].(map[string]any)
	assert.Equal(t, "m1", first["memberName"])
	assert.Equal(t, "success", first["status"])
	assert.EqualValues(t, 5, first["counter"])
	assert.Equal(t, "m2", second["memberName"])
	assert.Equal(t, "endpoint_not_found", second["status"])
}

func TestCountersEmptyDirectory(t *testing.T) {
	h := newTestServer(t, member.NewStaticDirectory())

	rec, body := do(t, h, http.MethodGet, "/counters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["totalMembers"])
	assert.EqualValues(t, 0, body["successCount"])
	assert.EqualValues(t, 0, body["errorCount"])
	assert.Equal(t, aggregator.NoMembersMessage, body["message"])
	assert.Equal(t, []any{}, body["members"])
}

func TestDirectoryUnavailableIs500(t *testing.T) {
	h := newTestServer(t, downDirectory{})

	for _, target := range []string{"/counters", "/counters/m1", "/members", "/cluster?clusterName=x", "/clusters"} {
		t.Run(target, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, target)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, body["error"], "unavailable")
			assert.NotEmpty(t, body["timestamp"])
		})
	}
}

func TestCounterSingleMember(t *testing.T) {
	m1 := agent(t, "m1", 3)
	h := newTestServer(t, member.NewStaticDirectory(member.Member{Name: "m1", Address: m1.URL}))

	rec, body := do(t, h, http.MethodGet, "/counters/m1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 3, body["counter"])

	rec, body = do(t, h, http.MethodGet, "/counters/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Member not found: ghost", body["error"])
}

func TestResetCounter(t *testing.T) {
	methods := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
		fmt.Fprint(w, `{"memberName":"m1","counter":0}`)
	}))
	defer srv.Close()
	h := newTestServer(t, member.NewStaticDirectory(member.Member{Name: "m1", Address: srv.URL}))

	rec, body := do(t, h, http.MethodPost, "/counters/m1/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.MethodPost, <-methods)
	assert.EqualValues(t, 0, body["counter"])

	rec, _ = do(t, h, http.MethodPost, "/counters/ghost/reset")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMembersAndClusters(t *testing.T) {
	dir := member.NewStaticDirectory(
		member.Member{Name: "a", Address: "ha", ClusterName: "blue"},
		member.Member{Name: "b", Address: "hb", Port: 9443, ClusterName: "green"},
	)
	h := newTestServer(t, dir)

	rec, body := do(t, h, http.MethodGet, "/members")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["memberCount"])
	members := body["members"].([]any)
	assert.Equal(t, "a", members[0].(map[string]any)["name"])
	assert.EqualValues(t, 9443, members[1].(map[string]any)["port"])

	rec, body = do(t, h, http.MethodGet, "/clusters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["clusterCount"])
	assert.Equal(t, []any{"blue", "green"}, body["clusters"])
}

func TestClusterEndpoint(t *testing.T) {
	dir := member.NewStaticDirectory(
		member.Member{Name: "a", Address: "ha", ClusterName: "blue"},
		member.Member{Name: "b", Address: "hb", ClusterName: "green"},
		member.Member{Name: "c", Address: "hc", ClusterName: "blue"},
	)
	h := newTestServer(t, dir)

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantCount int
	}{
		{"missing parameter", "/cluster", http.StatusBadRequest, -1},
		{"blank parameter", "/cluster?clusterName=%20", http.StatusBadRequest, -1},
		{"unknown cluster", "/cluster?clusterName=red", http.StatusNotFound, 0},
		{"known cluster", "/cluster?clusterName=blue", http.StatusOK, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCount < 0 {
				assert.Equal(t, "Missing required parameter: clusterName", body["error"])
				return
			}
			assert.EqualValues(t, tt.wantCount, body["memberCount"])
		})
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestServer(t, member.NewStaticDirectory())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	// drive one instrumented request so the vec has a sample
	do(t, h, http.MethodGet, "/counters")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clustercounter_requests_total")
	assert.Contains(t, rec.Body.String(), "clustercounter_aggregator_collect_duration_seconds")
}
