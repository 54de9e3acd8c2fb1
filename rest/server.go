// Package rest exposes the command submission and query HTTP API.
//
// Command endpoints translate JSON requests into domain commands and block
// until the resulting events are committed. Business rejections that are
// recorded as events (denied withdrawals, operations on unknown accounts)
// still succeed at the HTTP level - the outcome is in the event stream, not
// in the status code.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventsourcing"
	"github.com/eventfold/bank-cqrs-go/projection"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Server struct {
	dispatcher *eventsourcing.Dispatcher
	view       *projection.AccountView
	log        *logrus.Entry
	router     *mux.Router
}

func NewServer(dispatcher *eventsourcing.Dispatcher, view *projection.AccountView, log *logrus.Entry) *Server {
	s := &Server{
		dispatcher: dispatcher,
		view:       view,
		log:        log,
		router:     mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/accounts", s.createAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts", s.listAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", s.getAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/events", s.getEvents).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/deposit", s.deposit).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/withdraw", s.withdraw).Methods(http.MethodPut)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, r.Method, "/health")
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.log.WithError(err).Error("failed to write response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	s.respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

// respondDomainError maps domain errors onto HTTP status codes. Append
// conflicts are reported as 409 so the caller can retry the command.
func (s *Server) respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	switch err {
	case account.Exists:
		s.respondError(w, http.StatusConflict, err.Error(), method, endpoint)
	case account.NotFound:
		s.respondError(w, http.StatusNotFound, err.Error(), method, endpoint)
	case account.ClosedAccount:
		s.respondError(w, http.StatusConflict, err.Error(), method, endpoint)
	case account.NegativeDeposit, account.NegativeWithdrawal:
		s.respondError(w, http.StatusBadRequest, err.Error(), method, endpoint)
	case account.ConcurrentModification:
		s.respondError(w, http.StatusConflict, err.Error(), method, endpoint)
	default:
		s.log.WithError(err).Error("unhandled error serving request")
		s.respondError(w, http.StatusInternalServerError, "internal server error", method, endpoint)
	}
}
