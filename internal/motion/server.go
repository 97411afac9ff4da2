package motion

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/SakuyaIzayoi/openpnp/internal/util"
)

// Server 将模拟机器暴露为远程运动控制服务，协议与 RemoteMachine 对应
type Server struct {
	machine *SimMachine
	logger  *slog.Logger
}

// NewServer 创建远程运动控制服务
func NewServer(machine *SimMachine, logger *slog.Logger) *Server {
	return &Server{machine: machine, logger: logger.With("component", "motion-server")}
}

// Routes 返回 HTTP 路由
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/nozzles/{id}", func(r chi.Router) {
		r.Post("/move", s.nozzleMove)
		r.Post("/safe-z", s.nozzleSafeZ)
		r.Get("/location", s.nozzleLocation)
	})
	r.Route("/heads/{id}", func(r chi.Router) {
		r.Post("/safe-z", s.headSafeZ)
		r.Post("/park", s.headPark)
	})
	return r
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	logger := s.logger.With("target", chi.URLParam(r, "id"))
	if traceID := r.Header.Get(util.TraceHeader); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}
	return logger
}

func (s *Server) findNozzle(id string) (*SimNozzle, bool) {
	for _, h := range s.machine.heads {
		if n, ok := h.Nozzle(id); ok {
			return n, true
		}
	}
	return nil, false
}

func (s *Server) withNozzle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, n *SimNozzle) error) {
	logger := s.requestLogger(r)
	n, ok := s.findNozzle(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, remoteResponse{Error: "nozzle not found"})
		return
	}
	if err := fn(r.Context(), n); err != nil {
		logger.Warn("运动失败", "error", err)
		writeJSON(w, http.StatusOK, remoteResponse{Success: false, Error: err.Error()})
		return
	}
	loc, _ := n.Location(r.Context())
	writeJSON(w, http.StatusOK, remoteResponse{Success: true, Location: loc})
}

func (s *Server) nozzleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.requestLogger(r).Warn("解析请求失败", "error", err)
		writeJSON(w, http.StatusBadRequest, remoteResponse{Error: err.Error()})
		return
	}
	s.withNozzle(w, r, func(ctx context.Context, n *SimNozzle) error {
		if req.SafeZ {
			return n.MoveToLocationAtSafeZ(ctx, req.Location)
		}
		return n.MoveTo(ctx, req.Location)
	})
}

func (s *Server) nozzleSafeZ(w http.ResponseWriter, r *http.Request) {
	s.withNozzle(w, r, func(ctx context.Context, n *SimNozzle) error {
		return n.MoveToSafeZ(ctx)
	})
}

func (s *Server) nozzleLocation(w http.ResponseWriter, r *http.Request) {
	s.withNozzle(w, r, func(ctx context.Context, n *SimNozzle) error { return nil })
}

func (s *Server) withHead(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, h *SimHead) error) {
	h, ok := s.machine.Head(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, remoteResponse{Error: "head not found"})
		return
	}
	if err := fn(r.Context(), h); err != nil {
		s.requestLogger(r).Warn("运动头动作失败", "error", err)
		writeJSON(w, http.StatusOK, remoteResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, remoteResponse{Success: true, Location: types.Location{Z: h.safeZ}})
}

func (s *Server) headSafeZ(w http.ResponseWriter, r *http.Request) {
	s.withHead(w, r, func(ctx context.Context, h *SimHead) error { return h.MoveToSafeZ(ctx) })
}

func (s *Server) headPark(w http.ResponseWriter, r *http.Request) {
	s.withHead(w, r, func(ctx context.Context, h *SimHead) error {
		s.requestLogger(r).Info("停靠运动头")
		return h.Park(ctx)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
