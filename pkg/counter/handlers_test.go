package counter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServerRoutes(t *testing.T) {
	agent := NewAgent("m1")
	h := NewServer(agent, nil).Handler()

	// increment twice
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counter/increment", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counter", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeSnapshot(t, rec)
	assert.Equal(t, "m1", body["memberName"])
	assert.EqualValues(t, 2, body["counter"])
	assert.EqualValues(t, 2, body["totalRequests"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/counter/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeSnapshot(t, rec)
	assert.EqualValues(t, 0, body["counter"])
	assert.Equal(t, "Counter reset successfully", body["message"])
	assert.EqualValues(t, 0, agent.Read().Counter)
}

func TestServerMethodChecks(t *testing.T) {
	h := NewServer(NewAgent("m1"), nil).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"reset requires POST", http.MethodGet, "/counter/reset", http.StatusMethodNotAllowed},
		{"read rejects DELETE", http.MethodDelete, "/counter", http.StatusMethodNotAllowed},
		{"increment accepts POST", http.MethodPost, "/counter/increment", http.StatusOK},
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"info", http.MethodGet, "/info", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
