// Package httpapi is the HTTP transport (C8): a gorilla/mux router exposing
// the agent surface (JWT bearer auth), the client surface (apiKey-in-body
// auth) and the management surface (static bearer token), all translating
// broker errors into the JSON error envelope and wiring the agent WebSocket
// heartbeat and the Prometheus/health endpoints.
package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/AlexGrek/offloadmq/pkg/broker"
	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/log"
	"github.com/AlexGrek/offloadmq/pkg/metrics"
)

// Server wires a Broker and a management token to an http.Handler.
type Server struct {
	broker          *broker.Broker
	managementToken string
	router          *mux.Router
}

// New builds the full route table.
func New(b *broker.Broker, managementToken string) *Server {
	s := &Server{broker: b, managementToken: managementToken, router: mux.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(instrumentMiddleware)

	r.HandleFunc("/agent/register", s.handleAgentRegister).Methods(http.MethodPost)
	r.HandleFunc("/agent/auth", s.handleAgentAuth).Methods(http.MethodPost)
	// The agent WebSocket authenticates via ?token= itself, so it is
	// registered ahead of the Bearer-header subrouter below.
	r.HandleFunc("/private/agent/ws", s.handleAgentWS)

	private := r.PathPrefix("/private/agent").Subrouter()
	private.Use(s.agentAuthMiddleware)
	private.HandleFunc("/info/update", s.handleAgentInfoUpdate).Methods(http.MethodPost)
	private.HandleFunc("/task/poll_urgent", s.handlePollUrgent).Methods(http.MethodGet)
	private.HandleFunc("/task/poll", s.handlePoll).Methods(http.MethodGet)
	private.HandleFunc("/take/{cap}/{id}", s.handleTake).Methods(http.MethodPost)
	private.HandleFunc("/task/resolve/{cap}/{id}", s.handleResolve).Methods(http.MethodPost)
	private.HandleFunc("/task/progress/{cap}/{id}", s.handleProgress).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/task/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/task/submit_blocking", s.handleSubmitBlocking).Methods(http.MethodPost)
	api.HandleFunc("/task/poll/{cap}/{id}", s.handlePollStatus).Methods(http.MethodPost)
	api.HandleFunc("/capabilities/online", s.handleCapabilitiesOnline).Methods(http.MethodPost)

	mgmt := r.PathPrefix("/management").Subrouter()
	mgmt.Use(s.managementAuthMiddleware)
	mgmt.Handle("/metrics", metrics.Handler())
	mgmt.HandleFunc("/health", metrics.HealthHandler())
	mgmt.HandleFunc("/ready", metrics.ReadyHandler())
	mgmt.HandleFunc("/live", metrics.LivenessHandler())
}

func instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		metrics.APIRequestsTotal.WithLabelValues(route, statusClass(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the wrapped writer's http.Hijacker so the agent WebSocket
// upgrade works through the instrumentation middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpapi: response writer does not support hijacking")
	}
	return h.Hijack()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	env := brokererr.ToEnvelope(err)
	if be, ok := brokererr.As(err); ok && be.ShouldLog() {
		log.Error(be.Error())
	}
	writeJSON(w, env.Error.Status, env)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return brokererr.NewBadRequest("malformed request body: %v", err)
	}
	return nil
}

// requestTimeout bounds how long a blocking submission can hold an HTTP
// connection open; comfortably above the urgent task TTL.
const requestTimeout = 90 * time.Second
