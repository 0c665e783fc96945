package counter

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/clustercounter/internal/telemetry"
)

// Server serves one Agent over HTTP. The aggregator reads GET /counter and
// forwards resets to POST /counter/reset.
type Server struct {
	agent *Agent
	log   *zap.Logger
}

func NewServer(agent *Agent, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{agent: agent, log: log.Named("agent")}
}

// Handler wires the agent routes onto a fresh mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.Healthz)
	mux.HandleFunc("/info", s.Info)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/counter", telemetry.Instrument("read", http.HandlerFunc(s.Read)))
	mux.Handle("/counter/increment", telemetry.Instrument("increment", http.HandlerFunc(s.Increment)))
	mux.Handle("/counter/reset", telemetry.Instrument("reset", http.HandlerFunc(s.Reset)))
	return mux
}

// Healthz returns 200 OK to indicate the agent is alive.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the process ID, current time and member identity.
func (s *Server) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID    int       `json:"pid"`
		Now    time.Time `json:"now"`
		Member string    `json:"memberName"`
	}
	writeJSON(w, http.StatusOK, resp{PID: os.Getpid(), Now: time.Now(), Member: s.agent.MemberName()})
}

// Read returns the current counter without incrementing it.
func (s *Server) Read(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Read())
}

// Increment counts one request and returns the new value.
func (s *Server) Increment(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
		return
	}
	s.agent.Increment()
	writeJSON(w, http.StatusOK, struct {
		Snapshot
		Message string `json:"message"`
	}{s.agent.Read(), "Counter incremented successfully"})
}

// Reset zeroes the counter and returns the post-reset snapshot.
func (s *Server) Reset(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	snap := s.agent.Reset()
	s.log.Info("counter reset", zap.String("member", snap.MemberName), zap.Uint64("resets", snap.Resets),
		zap.String("remote", req.RemoteAddr))
	writeJSON(w, http.StatusOK, struct {
		Snapshot
		Message string `json:"message"`
	}{snap, "Counter reset successfully"})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
