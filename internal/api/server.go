package api

import (
	"OFSniff/internal/config"
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/pkg/logging"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var log = logging.For("api")

// ServiceName is the gRPC health service reported alongside the overall status.
const ServiceName = "ofsniff"

// Engine is the capture control and query contract. *manager.Manager
// implements it.
type Engine interface {
	StartSniffLoop(iface string, port int) bool
	StopSniffLoop()
	IsSniffing() bool
	LastError() error
	GetEndpoints() []uint64
	Summary(ep endpoint.Endpoint, metric statistic.Metric, port uint32) (statistic.Summary, error)
}

var metricPaths = map[string]statistic.Metric{
	"echo-rtt":  statistic.EchoRTT,
	"pktin-rtt": statistic.PktInRTT,
}

// Server exposes an Engine over HTTP and reports its state through the gRPC
// health service.
type Server struct {
	cfg    config.APIConfig
	engine Engine
	router *mux.Router
	health *health.Server

	httpServer *http.Server
	grpcServer *grpc.Server
	stop       chan struct{}
	wg         sync.WaitGroup
}

// NewServer builds the routes. Listeners are opened by Start.
func NewServer(cfg config.APIConfig, engine Engine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		router: mux.NewRouter(),
		health: health.NewServer(),
		stop:   make(chan struct{}),
	}

	r := s.router.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/sniff/start", s.startHandler).Methods("POST")
	r.HandleFunc("/sniff/stop", s.stopHandler).Methods("POST")
	r.HandleFunc("/sniff/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/endpoints", s.endpointsHandler).Methods("GET")
	r.HandleFunc("/endpoints/{id}/{metric:echo-rtt|pktin-rtt}/{stat:avg|var|med}", s.metricHandler).Methods("GET")
	r.HandleFunc("/endpoints/{id}/link-lat/{port}/{stat:avg|var|med}", s.linkHandler).Methods("GET")
	r.HandleFunc("/endpoints/{id}/dp2ctrl-rtt", s.dp2ctrlHandler).Methods("GET")

	s.SyncHealth()
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the gRPC health service.
func (s *Server) Health() *health.Server {
	return s.health
}

// SyncHealth publishes SERVING while capture runs and NOT_SERVING otherwise.
func (s *Server) SyncHealth() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.engine.IsSniffing() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start opens the HTTP and gRPC listeners and follows the capture state.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.cfg.ListenAddr, Handler: s.router}
	go func() {
		log.Infof("API server starting on %s", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen on %s: %v", s.cfg.ListenAddr, err)
		}
	}()

	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCAddr, err)
		}
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		go func() {
			log.Infof("gRPC health service listening on %s", s.cfg.GRPCAddr)
			if err := s.grpcServer.Serve(lis); err != nil {
				log.Errorf("gRPC server stopped: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.watch(time.Second)
	return nil
}

// watch catches sessions that end on their own, such as a failed source.
func (s *Server) watch(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SyncHealth()
		case <-s.stop:
			return
		}
	}
}

// Shutdown stops both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	s.wg.Wait()
	s.health.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, fields map[string]interface{}) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to build response: %v", err), http.StatusInternalServerError)
		return
	}
	jsonBytes, err := protojson.Marshal(msg)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}

// startHandler handles {"iface": "...", "ofp_port": 6633}. A null or missing
// iface selects every interface.
func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	var req structpb.Struct
	if len(body) > 0 {
		if err := protojson.Unmarshal(body, &req); err != nil {
			http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
			return
		}
	}
	fields := req.GetFields()
	iface := fields["iface"].GetStringValue()
	port := 0
	if v, ok := fields["ofp_port"]; ok {
		n := v.GetNumberValue()
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum || n != float64(int(n)) {
			http.Error(w, "ofp_port must be an integer", http.StatusBadRequest)
			return
		}
		port = int(n)
	}

	started := s.engine.StartSniffLoop(iface, port)
	s.SyncHealth()
	resp := map[string]interface{}{"started": started}
	if err := s.engine.LastError(); err != nil && !started {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.engine.StopSniffLoop()
	s.SyncHealth()
	writeJSON(w, http.StatusOK, map[string]interface{}{"running": s.engine.IsSniffing()})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"running":   s.engine.IsSniffing(),
		"endpoints": len(s.engine.GetEndpoints()),
	}
	if err := s.engine.LastError(); err != nil {
		resp["last_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) endpointsHandler(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.GetEndpoints()
	list := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		ep, err := endpoint.FromUint64(id)
		if err != nil {
			continue
		}
		list = append(list, map[string]interface{}{"id": id, "address": ep.String()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoints": list})
}

func (s *Server) metricHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.writeStat(w, vars["id"], metricPaths[vars["metric"]], 0, vars["stat"])
}

func (s *Server) linkHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	port, err := strconv.ParseUint(vars["port"], 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid port %q", vars["port"]), http.StatusBadRequest)
		return
	}
	s.writeStat(w, vars["id"], statistic.LinkLat, uint32(port), vars["stat"])
}

func (s *Server) dp2ctrlHandler(w http.ResponseWriter, r *http.Request) {
	s.writeStat(w, mux.Vars(r)["id"], statistic.Dp2CtrlRTT, 0, "avg")
}

func (s *Server) writeStat(w http.ResponseWriter, id string, metric statistic.Metric, port uint32, stat string) {
	ep, err := endpoint.ParseID(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum, err := s.engine.Summary(ep, metric, port)
	if errors.Is(err, statistic.ErrNoSample) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"value": nil, "no_sample": true})
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query %s: %v", metric.LogName(port), err), http.StatusInternalServerError)
		return
	}

	value := sum.Mean
	switch stat {
	case "var":
		value = sum.Variance
	case "med":
		value = sum.Median
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint": ep.ID(),
		"metric":   metric.LogName(port),
		"stat":     stat,
		"value":    value,
		"count":    sum.Count,
	})
}
