// Package api exposes the aggregator over REST.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ryandielhenn/clustercounter/internal/telemetry"
	"github.com/ryandielhenn/clustercounter/pkg/aggregator"
	"github.com/ryandielhenn/clustercounter/pkg/member"
)

// Handler serves counter reports and directory listings.
type Handler struct {
	agg *aggregator.Aggregator
	dir member.Directory
	log *zap.Logger
}

func NewHandler(agg *aggregator.Aggregator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{agg: agg, dir: agg.Directory(), log: log.Named("api")}
}

// RegisterRoutes registers all routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/counters", h.Counters, instrument("counters"))
	e.GET("/counters/:member", h.Counter, instrument("counter"))
	e.POST("/counters/:member/reset", h.ResetCounter, instrument("reset"))

	e.GET("/members", h.Members, instrument("members"))
	e.GET("/cluster", h.Cluster, instrument("cluster"))
	e.GET("/clusters", h.Clusters, instrument("clusters"))

	e.GET("/healthz", h.Healthz)
	e.GET("/metrics", echo.WrapHandler(telemetry.MetricsHandler()))
}

func instrument(op string) echo.MiddlewareFunc {
	return echo.WrapMiddleware(func(next http.Handler) http.Handler {
		return telemetry.Instrument(op, next)
	})
}

// Healthz returns 200 while the process is serving.
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Counters collects every member's counter. Per-member failures are embedded
// in a 200 report.
func (h *Handler) Counters(c echo.Context) error {
	rep, err := h.agg.Collect(c.Request().Context(), "")
	if err != nil {
		return h.fail(c, "Failed to query member counters", err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Counter collects one member's counter; 404 when the member is unknown.
func (h *Handler) Counter(c echo.Context) error {
	name := c.Param("member")
	res, err := h.agg.CollectOne(c.Request().Context(), name)
	if err != nil {
		return h.fail(c, "Failed to retrieve data from member: "+name, err)
	}
	if res.Status == aggregator.ReasonMemberNotFound {
		return errorJSON(c, http.StatusNotFound, res.Message)
	}
	return c.JSON(http.StatusOK, res)
}

// ResetCounter forwards a reset to one member's agent.
func (h *Handler) ResetCounter(c echo.Context) error {
	name := c.Param("member")
	res, err := h.agg.Reset(c.Request().Context(), name)
	if err != nil {
		return h.fail(c, "Failed to reset counter on member: "+name, err)
	}
	if res.Status == aggregator.ReasonMemberNotFound {
		return errorJSON(c, http.StatusNotFound, res.Message)
	}
	return c.JSON(http.StatusOK, res)
}

type memberList struct {
	ClusterName string          `json:"clusterName,omitempty"`
	MemberCount int             `json:"memberCount"`
	Members     []member.Member `json:"members"`
	Message     string          `json:"message,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Members passes the directory listing through.
func (h *Handler) Members(c echo.Context) error {
	members, err := h.dir.List(c.Request().Context(), "")
	if err != nil {
		return h.fail(c, "Failed to list members", err)
	}
	return c.JSON(http.StatusOK, memberList{
		MemberCount: len(members),
		Members:     nonNil(members),
		Timestamp:   time.Now(),
	})
}

// Cluster lists one cluster's members. clusterName is required; an empty
// cluster is a 404.
func (h *Handler) Cluster(c echo.Context) error {
	name := strings.TrimSpace(c.QueryParam("clusterName"))
	if name == "" {
		return errorJSON(c, http.StatusBadRequest, "Missing required parameter: clusterName")
	}
	members, err := h.dir.List(c.Request().Context(), name)
	if err != nil {
		return h.fail(c, "Failed to get cluster members", err)
	}
	body := memberList{
		ClusterName: name,
		MemberCount: len(members),
		Members:     nonNil(members),
		Timestamp:   time.Now(),
	}
	if len(members) == 0 {
		body.Message = "No members found for cluster: " + name
		return c.JSON(http.StatusNotFound, body)
	}
	return c.JSON(http.StatusOK, body)
}

// Clusters lists the known cluster names.
func (h *Handler) Clusters(c echo.Context) error {
	clusters, err := member.Clusters(c.Request().Context(), h.dir)
	if err != nil {
		return h.fail(c, "Failed to list clusters", err)
	}
	if clusters == nil {
		clusters = []string{}
	}
	return c.JSON(http.StatusOK, struct {
		ClusterCount int       `json:"clusterCount"`
		Clusters     []string  `json:"clusters"`
		Timestamp    time.Time `json:"timestamp"`
	}{len(clusters), clusters, time.Now()})
}

// fail maps whole-call failures. Directory outages and anything unexpected
// are 500s; a cancelled call gets 503 since the caller has usually gone.
func (h *Handler) fail(c echo.Context, msg string, err error) error {
	code := http.StatusInternalServerError
	if errors.Is(err, aggregator.ErrCancelled) {
		code = http.StatusServiceUnavailable
		h.log.Info(msg, zap.Error(err))
	} else {
		h.log.Error(msg, zap.Error(err), zap.Bool("directory_unavailable", errors.Is(err, member.ErrDirectoryUnavailable)))
	}
	return errorJSON(c, code, msg+": "+err.Error())
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]any{
		"error":     msg,
		"timestamp": time.Now(),
	})
}

func nonNil(ms []member.Member) []member.Member {
	if ms == nil {
		return []member.Member{}
	}
	return ms
}
