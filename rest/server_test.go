package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/bank-cqrs-go/eventbus"
	"github.com/eventfold/bank-cqrs-go/eventsourcing"
	"github.com/eventfold/bank-cqrs-go/eventstore"
	"github.com/eventfold/bank-cqrs-go/projection"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestServer() *Server {
	store := eventstore.NewNotifyingStore(eventstore.NewInMemoryStore())
	bus := eventbus.New("test-node")
	store.Subscribe(bus.Publish)

	view := projection.NewAccountView(testLogger())
	bus.Subscribe(view)

	dispatcher := eventsourcing.NewDispatcher(store, 0, testLogger())
	return NewServer(dispatcher, view, testLogger())
}

func request(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, httptest.NewRequest(method, path, reader))
	return recorder
}

func createAccount(t *testing.T, server *Server, id, name string) {
	t.Helper()
	res := request(t, server, http.MethodPost, "/api/v1/accounts", `{"id":"`+id+`","customerName":"`+name+`"}`)
	require.Equal(t, http.StatusCreated, res.Code)
}

func TestCreateAccount(t *testing.T) {
	server := newTestServer()

	res := request(t, server, http.MethodPost, "/api/v1/accounts", `{"id":"A1","customerName":"kermit the frog"}`)

	assert.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, "/api/v1/accounts/A1", res.Header().Get("Location"))
	assert.JSONEq(t, `{"id":"A1"}`, res.Body.String())
}

func TestCreateAccountValidatesRequest(t *testing.T) {
	server := newTestServer()

	assert.Equal(t, http.StatusBadRequest, request(t, server, http.MethodPost, "/api/v1/accounts", `{"id":"A1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, request(t, server, http.MethodPost, "/api/v1/accounts", `not json`).Code)
}

func TestCreateDuplicateAccountConflicts(t *testing.T) {
	server := newTestServer()
	createAccount(t, server, "A1", "kermit the frog")

	res := request(t, server, http.MethodPost, "/api/v1/accounts", `{"id":"A1","customerName":"john the law"}`)

	assert.Equal(t, http.StatusConflict, res.Code)
	assert.JSONEq(t, `{"error":"account already exists"}`, res.Body.String())
}

func TestDepositUpdatesReadModel(t *testing.T) {
	server := newTestServer()
	createAccount(t, server, "A1", "kermit the frog")

	res := request(t, server, http.MethodPut, "/api/v1/accounts/A1/deposit", `{"amount":100}`)
	require.Equal(t, http.StatusNoContent, res.Code)

	res = request(t, server, http.MethodGet, "/api/v1/accounts/A1", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"id":"A1","customerName":"kermit the frog","balance":100}`, res.Body.String())
}

func TestDeniedWithdrawalIsRecordedNotFailed(t *testing.T) {
	server := newTestServer()
	createAccount(t, server, "A1", "kermit the frog")
	require.Equal(t, http.StatusNoContent, request(t, server, http.MethodPut, "/api/v1/accounts/A1/deposit", `{"amount":100}`).Code)

	res := request(t, server, http.MethodPut, "/api/v1/accounts/A1/withdraw", `{"amount":150}`)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = request(t, server, http.MethodGet, "/api/v1/accounts/A1", "")
	assert.JSONEq(t, `{"id":"A1","customerName":"kermit the frog","balance":100}`, res.Body.String())

	assert.Equal(t, []string{"AccountCreated", "AmountDeposited", "WithdrawalDenied"}, eventTypes(t, server, "A1"))
}

func TestWithdrawalFromUnknownAccountIsRecorded(t *testing.T) {
	server := newTestServer()

	res := request(t, server, http.MethodPut, "/api/v1/accounts/A9/withdraw", `{"amount":10}`)
	assert.Equal(t, http.StatusNoContent, res.Code)

	assert.Equal(t, []string{"AccountNotExisting"}, eventTypes(t, server, "A9"))
}

func TestNegativeDepositRejected(t *testing.T) {
	server := newTestServer()
	createAccount(t, server, "A1", "kermit the frog")

	res := request(t, server, http.MethodPut, "/api/v1/accounts/A1/deposit", `{"amount":-5}`)

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.JSONEq(t, `{"error":"can not deposit negative or zero amount"}`, res.Body.String())
}

func TestGetUnknownAccount(t *testing.T) {
	server := newTestServer()

	res := request(t, server, http.MethodGet, "/api/v1/accounts/A1", "")

	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"error":"account not found"}`, res.Body.String())
}

func TestListAccountsOrderedByIdentifier(t *testing.T) {
	server := newTestServer()
	createAccount(t, server, "A2", "john the law")
	createAccount(t, server, "A1", "kermit the frog")

	res := request(t, server, http.MethodGet, "/api/v1/accounts", "")

	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[
		{"id":"A1","customerName":"kermit the frog","balance":0},
		{"id":"A2","customerName":"john the law","balance":0}
	]`, res.Body.String())
}

func TestEventsForUnknownAccount(t *testing.T) {
	server := newTestServer()

	res := request(t, server, http.MethodGet, "/api/v1/accounts/A1/events", "")

	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHealth(t *testing.T) {
	server := newTestServer()

	res := request(t, server, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
}

func eventTypes(t *testing.T, server *Server, id string) []string {
	t.Helper()
	res := request(t, server, http.MethodGet, "/api/v1/accounts/"+id+"/events", "")
	require.Equal(t, http.StatusOK, res.Code)

	var descriptors []struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &descriptors))

	types := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		types = append(types, d.Type)
	}
	return types
}
