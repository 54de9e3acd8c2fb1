package eventsourcing

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/eventfold/bank-cqrs-go/account"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_total",
		Help: "Number of dispatched commands by type",
	}, []string{"type"})
	commandConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "command_conflicts_total",
		Help: "Number of commands that lost an append race",
	})
)

// Dispatcher routes a command to the aggregate owning its target identifier.
// Commands for one identifier are serialized - the load/validate/append
// cycle never interleaves for a single account - while commands for
// distinct identifiers proceed in parallel.
//
// A command is handled at most once: redelivering a command whose ID was
// already committed for the aggregate is a no-op. Append conflicts are
// surfaced as account.ConcurrentModification and are retryable by the
// caller; the dispatcher itself never retries.
type Dispatcher struct {
	store             EventStore
	snapshotFrequency int
	log               *logrus.Entry

	locksMutex sync.Mutex
	locks      map[account.ID]*sync.Mutex

	inFlight sync.WaitGroup
}

func NewDispatcher(store EventStore, snapshotFrequency int, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		store:             store,
		snapshotFrequency: snapshotFrequency,
		log:               log,
		locks:             map[account.ID]*sync.Mutex{},
	}
}

// SendAndWait dispatches the command and blocks until its events are
// committed or it is rejected.
func (d *Dispatcher) SendAndWait(ctx context.Context, cmd account.Command) error {
	lock := d.lockFor(cmd.TargetID())
	lock.Lock()
	defer lock.Unlock()

	return d.dispatch(ctx, cmd)
}

// Send dispatches the command asynchronously. Errors are logged, not
// returned - callers that care about the outcome use SendAndWait. Wait
// blocks until all commands sent so far have finished.
func (d *Dispatcher) Send(ctx context.Context, cmd account.Command) {
	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()
		if err := d.SendAndWait(ctx, cmd); err != nil {
			d.log.WithError(err).WithField("account", cmd.TargetID()).Warn("command rejected")
		}
	}()
}

// Wait is the in-flight barrier for fire-and-forget sends.
func (d *Dispatcher) Wait() {
	d.inFlight.Wait()
}

// Events exposes the raw stream for one identifier, for diagnostics and the
// events query endpoint.
func (d *Dispatcher) Events(ctx context.Context, id account.ID) ([]account.Event, error) {
	sequenced, err := d.store.Events(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	events := make([]account.Event, 0, len(sequenced))
	for _, e := range sequenced {
		events = append(events, e.Event)
	}
	return events, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd account.Command) error {
	id := cmd.TargetID()

	handled, err := d.store.TransactionExists(ctx, id, cmd.CommandID())
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	es := newEventStream(d.store, d.snapshotFrequency)
	a, err := es.replay(ctx, id)
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case account.CreateAccount:
		err = a.Create(c.AccountID, c.CustomerName)
		commandsTotal.WithLabelValues("create_account").Inc()
	case account.DepositAmount:
		err = a.Deposit(c.AccountID, c.Amount)
		commandsTotal.WithLabelValues("deposit_amount").Inc()
	case account.WithdrawAmount:
		err = a.Withdraw(c.AccountID, c.Amount)
		commandsTotal.WithLabelValues("withdraw_amount").Inc()
	default:
		return fmt.Errorf("no handler for command %T", cmd)
	}
	if err != nil {
		return err
	}

	if err := es.commit(ctx, cmd.CommandID()); err != nil {
		if err == account.ConcurrentModification {
			commandConflicts.Inc()
		}
		return err
	}
	return nil
}

func (d *Dispatcher) lockFor(id account.ID) *sync.Mutex {
	d.locksMutex.Lock()
	defer d.locksMutex.Unlock()

	lock, ok := d.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[id] = lock
	}
	return lock
}
