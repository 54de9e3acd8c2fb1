package rest

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eventfold/bank-cqrs-go/account"
)

type createAccountRequest struct {
	ID           string `json:"id"`
	CustomerName string `json:"customerName"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

// eventDescriptor names an event for API consumers - the Go type alone is
// not visible through JSON.
type eventDescriptor struct {
	Type  string        `json:"type"`
	Event account.Event `json:"event"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, "/accounts"))
	defer timer.ObserveDuration()

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed JSON body", r.Method, "/accounts")
		return
	}
	if req.ID == "" || req.CustomerName == "" {
		s.respondError(w, http.StatusBadRequest, "id and customerName are required", r.Method, "/accounts")
		return
	}

	cmd := account.CreateAccount{ID: uuid.New(), AccountID: account.ID(req.ID), CustomerName: req.CustomerName}
	if err := s.dispatcher.SendAndWait(r.Context(), cmd); err != nil {
		s.respondDomainError(w, err, r.Method, "/accounts")
		return
	}

	w.Header().Set("Location", "/api/v1/accounts/"+req.ID)
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": req.ID}, r.Method, "/accounts")
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, "/accounts/{id}/deposit"))
	defer timer.ObserveDuration()

	id := account.ID(mux.Vars(r)["id"])
	amount, ok := s.parseAmount(w, r, "/accounts/{id}/deposit")
	if !ok {
		return
	}

	cmd := account.DepositAmount{ID: uuid.New(), AccountID: id, Amount: amount}
	if err := s.dispatcher.SendAndWait(r.Context(), cmd); err != nil {
		s.respondDomainError(w, err, r.Method, "/accounts/{id}/deposit")
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil, r.Method, "/accounts/{id}/deposit")
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, "/accounts/{id}/withdraw"))
	defer timer.ObserveDuration()

	id := account.ID(mux.Vars(r)["id"])
	amount, ok := s.parseAmount(w, r, "/accounts/{id}/withdraw")
	if !ok {
		return
	}

	cmd := account.WithdrawAmount{ID: uuid.New(), AccountID: id, Amount: amount}
	if err := s.dispatcher.SendAndWait(r.Context(), cmd); err != nil {
		s.respondDomainError(w, err, r.Method, "/accounts/{id}/withdraw")
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil, r.Method, "/accounts/{id}/withdraw")
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id := account.ID(mux.Vars(r)["id"])

	acc, ok := s.view.GetAccount(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, account.NotFound.Error(), r.Method, "/accounts/{id}")
		return
	}
	s.respondJSON(w, http.StatusOK, acc, r.Method, "/accounts/{id}")
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.view.ListAccounts(), r.Method, "/accounts")
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	id := account.ID(mux.Vars(r)["id"])

	events, err := s.dispatcher.Events(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err, r.Method, "/accounts/{id}/events")
		return
	}
	if len(events) == 0 {
		s.respondError(w, http.StatusNotFound, account.NotFound.Error(), r.Method, "/accounts/{id}/events")
		return
	}

	descriptors := make([]eventDescriptor, 0, len(events))
	for _, e := range events {
		descriptors = append(descriptors, eventDescriptor{Type: eventName(e), Event: e})
	}
	s.respondJSON(w, http.StatusOK, descriptors, r.Method, "/accounts/{id}/events")
}

func (s *Server) parseAmount(w http.ResponseWriter, r *http.Request, endpoint string) (int64, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed JSON body", r.Method, endpoint)
		return 0, false
	}
	return req.Amount, true
}

func eventName(e account.Event) string {
	switch e.(type) {
	case account.AccountCreatedEvent:
		return "AccountCreated"
	case account.AmountDepositedEvent:
		return "AmountDeposited"
	case account.AmountWithdrawnEvent:
		return "AmountWithdrawn"
	case account.WithdrawalDeniedEvent:
		return "WithdrawalDenied"
	case account.AccountNotExistingEvent:
		return "AccountNotExisting"
	case account.AccountClosedEvent:
		return "AccountClosed"
	default:
		return "Unknown"
	}
}
