// Package test wires the command and query stacks together the way main.go
// does, against the in-memory event store, and exercises the assembled
// system end to end.
package test

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/eventfold/bank-cqrs-go/eventbus"
	"github.com/eventfold/bank-cqrs-go/eventsourcing"
	"github.com/eventfold/bank-cqrs-go/eventstore"
	"github.com/eventfold/bank-cqrs-go/projection"
	"github.com/eventfold/bank-cqrs-go/saga"
)

// Environment is one node's full in-process stack: store, bus, read model,
// workflows and command dispatcher.
type Environment struct {
	Store      *eventstore.NotifyingStore
	Bus        *eventbus.Bus
	View       *projection.AccountView
	Workflows  *saga.Manager
	Dispatcher *eventsourcing.Dispatcher
}

func NewEnvironment(origin string, snapshotFrequency, denialLimit int) *Environment {
	return NewEnvironmentWithStore(eventstore.NewNotifyingStore(eventstore.NewInMemoryStore()), origin, snapshotFrequency, denialLimit)
}

func NewEnvironmentWithStore(store *eventstore.NotifyingStore, origin string, snapshotFrequency, denialLimit int) *Environment {
	log := DiscardLogger()

	bus := eventbus.New(origin)
	store.Subscribe(bus.Publish)

	view := projection.NewAccountView(log)
	bus.Subscribe(view)

	workflows := saga.NewManager(log)
	workflows.Register(saga.NewCloseAccountSaga(denialLimit, bus, log))
	bus.Subscribe(workflows)

	return &Environment{
		Store:      store,
		Bus:        bus,
		View:       view,
		Workflows:  workflows,
		Dispatcher: eventsourcing.NewDispatcher(store, snapshotFrequency, log),
	}
}

func DiscardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
