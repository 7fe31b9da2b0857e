// Package api serves the dockyardd HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/system"
	"github.com/gammadia/dockyard/provisioner/dockercloud"
	"github.com/gammadia/dockyard/scheduler"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

const pingTimeout = 10 * time.Second

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	Demand(expression string, workload int) error
	Nodes() []scheduler.NodeInfo
}

// Cloud is the part of a docker cloud the API exposes.
type Cloud interface {
	Name() string
	Config() dockercloud.Config
	Ping(ctx context.Context) (system.Info, error)
}

var (
	_ Scheduler = (*scheduler.Scheduler)(nil)
	_ Cloud     = (*dockercloud.Cloud)(nil)
)

type DemandRequest struct {
	Label    string `json:"label"`
	Workload int    `json:"workload"`
}

type PingResponse struct {
	Cloud             string `json:"cloud"`
	Engine            string `json:"engine"`
	ServerVersion     string `json:"serverVersion"`
	ContainersRunning int    `json:"containersRunning"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	router    *mux.Router
	scheduler Scheduler
	clouds    []Cloud
	log       *slog.Logger
}

func NewServer(scheduler Scheduler, clouds []Cloud, logger *slog.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		scheduler: scheduler,
		clouds:    clouds,
		log:       lo.Ternary(logger != nil, logger, slog.Default()).With("component", "api"),
	}
	s.setupRoutes()
	return s
}

// Router returns the handler to serve.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/demand", s.demand).Methods(http.MethodPost)
	v1.HandleFunc("/nodes", s.nodes).Methods(http.MethodGet)
	v1.HandleFunc("/clouds", s.listClouds).Methods(http.MethodGet)
	v1.HandleFunc("/clouds/{name}/ping", s.ping).Methods(http.MethodGet)

	s.router.Use(s.logging)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) demand(w http.ResponseWriter, r *http.Request) {
	var req DemandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Workload < 0 {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("workload must not be negative"))
		return
	}

	if err := s.scheduler.Demand(req.Label, req.Workload); errors.Is(err, scheduler.ErrStopped) {
		s.respondError(w, http.StatusServiceUnavailable, err)
		return
	} else if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, req)
}

func (s *Server) nodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.scheduler.Nodes()
	if nodes == nil {
		nodes = []scheduler.NodeInfo{}
	}
	s.respondJSON(w, http.StatusOK, nodes)
}

func (s *Server) listClouds(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, lo.Map(s.clouds, func(c Cloud, _ int) dockercloud.Config {
		return c.Config()
	}))
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	cloud, ok := lo.Find(s.clouds, func(c Cloud) bool {
		return c.Name() == name || c.Name() == dockercloud.IDPrefix+name
	})
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("unknown cloud '%s'", name))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	info, err := cloud.Ping(ctx)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err)
		return
	}

	s.respondJSON(w, http.StatusOK, PingResponse{
		Cloud:             cloud.Name(),
		Engine:            info.Name,
		ServerVersion:     info.ServerVersion,
		ContainersRunning: info.ContainersRunning,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.log.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "status", status, "error", err)
	}
	s.respondJSON(w, status, ErrorResponse{Error: err.Error()})
}
