package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/util"
	"github.com/SakuyaIzayoi/openpnp/internal/web"
)

// Controller 是 API 对正在运行的任务的控制面
type Controller interface {
	Abort(ctx context.Context)
	Summary() event.RunSummary
}

// Server 提供任务状态查询、中止、指标和实时状态推送
type Server struct {
	tracker    *web.StateTracker
	hub        *web.Hub
	controller Controller
	logger     *slog.Logger

	abortTimeout time.Duration
}

// NewServer 创建控制 API；hub 可以为 nil（不提供 /ws）
func NewServer(tracker *web.StateTracker, hub *web.Hub, controller Controller, logger *slog.Logger) *Server {
	return &Server{
		tracker:      tracker,
		hub:          hub,
		controller:   controller,
		logger:       logger.With("component", "api"),
		abortTimeout: 30 * time.Second,
	}
}

// Routes 返回 HTTP 路由
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeWs)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.state)
		r.Get("/job/summary", s.summary)
		r.Post("/job/abort", s.abort)
	})
	return r
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.GetStateSnapshot())
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Summary())
}

// abort 立即返回 202；Abort 会等待当前阶段结束，因此在后台执行
func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	traceID := r.Header.Get(util.TraceHeader)
	if traceID == "" {
		traceID = util.NewTraceID()
	}
	s.logger.Warn("收到中止请求", "trace_id", traceID, "remote_addr", r.RemoteAddr)

	ctx := util.ContextWithTraceID(context.Background(), traceID)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, s.abortTimeout)
		defer cancel()
		s.controller.Abort(ctx)
	}()

	w.Header().Set(util.TraceHeader, traceID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting", "trace_id": traceID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
