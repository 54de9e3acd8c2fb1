package test

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventsourcing"
)

// ConsistencyTestSuite hammers one event store through two independent
// dispatchers, as if two nodes shared the database. The per-identifier
// command lock only serializes within a node, so cross-node races must be
// resolved by the store's optimistic version check alone.
type ConsistencyTestSuite struct {
	suite.Suite
	dispatchers     []*eventsourcing.Dispatcher
	operationCount  int
	concurrentUsers int
}

func NewConsistencyTestSuite(opCount, concurrentUsers, snapshotFrequency int, store eventsourcing.EventStore) *ConsistencyTestSuite {
	log := DiscardLogger()
	return &ConsistencyTestSuite{
		Suite: suite.Suite{},
		dispatchers: []*eventsourcing.Dispatcher{
			eventsourcing.NewDispatcher(store, snapshotFrequency, log),
			eventsourcing.NewDispatcher(store, snapshotFrequency, log),
		},
		operationCount:  opCount,
		concurrentUsers: concurrentUsers,
	}
}

func (s *ConsistencyTestSuite) doConcurrently(command func() account.Command) {
	for i := 0; i < s.operationCount; i++ {
		wg := sync.WaitGroup{}
		wg.Add(s.concurrentUsers)
		for j := 0; j < s.concurrentUsers; j++ {
			go s.withRetryOnConcurrentModification(&wg, i, j, s.dispatchers[j%len(s.dispatchers)], command())
		}
		wg.Wait()
	}
}

func (s *ConsistencyTestSuite) doConcurrentlyRedelivered(command func() account.Command) {
	for i := 0; i < s.operationCount; i++ {
		cmd := command()
		wg := sync.WaitGroup{}
		wg.Add(s.concurrentUsers)
		for j := 0; j < s.concurrentUsers; j++ {
			go s.withRetryOnConcurrentModification(&wg, i, j, s.dispatchers[j%len(s.dispatchers)], cmd)
		}
		wg.Wait()
	}
}

func (s *ConsistencyTestSuite) withRetryOnConcurrentModification(wg *sync.WaitGroup, iteration, threadNo int, dispatcher *eventsourcing.Dispatcher, cmd account.Command) {
	for {
		err := dispatcher.SendAndWait(context.Background(), cmd)
		if err == nil {
			break
		}
		if err != account.ConcurrentModification {
			s.T().Errorf(
				"Expecting only concurrent modification errors, got %v, threadNo %v, iteration %v",
				err, threadNo, iteration,
			)
			break
		}
	}
	wg.Done()
}

func (s *ConsistencyTestSuite) balance(id account.ID) int64 {
	events, err := s.dispatchers[0].Events(context.Background(), id)
	s.NoError(err)

	var balance int64
	for _, e := range events {
		switch event := e.(type) {
		case account.AmountDepositedEvent:
			balance += event.Amount
		case account.AmountWithdrawnEvent:
			balance -= event.Amount
		}
	}
	return balance
}

func (s *ConsistencyTestSuite) TestConcurrentDeposits() {
	id := account.ID(uuid.New().String())
	err := s.dispatchers[0].SendAndWait(context.Background(), account.CreateAccount{ID: uuid.New(), AccountID: id, CustomerName: "kermit the frog"})
	s.NoError(err)

	s.doConcurrently(func() account.Command {
		return account.DepositAmount{ID: uuid.New(), AccountID: id, Amount: 1}
	})

	s.Equal(int64(s.operationCount*s.concurrentUsers), s.balance(id))
}

func (s *ConsistencyTestSuite) TestConcurrentlyRedeliveredCommandsApplyOnce() {
	id := account.ID(uuid.New().String())
	err := s.dispatchers[0].SendAndWait(context.Background(), account.CreateAccount{ID: uuid.New(), AccountID: id, CustomerName: "john the law"})
	s.NoError(err)

	s.doConcurrentlyRedelivered(func() account.Command {
		return account.DepositAmount{ID: uuid.New(), AccountID: id, Amount: 1}
	})

	s.Equal(int64(s.operationCount), s.balance(id))
}
