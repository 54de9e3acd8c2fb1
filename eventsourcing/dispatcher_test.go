package eventsourcing_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventsourcing"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type DispatcherTestSuite struct {
	suite.Suite
	dispatcher *eventsourcing.Dispatcher
	store      eventsourcing.EventStore
}

func TestDispatcherInMemory(t *testing.T) {
	store := eventstore.NewInMemoryStore()
	testSuite := DispatcherTestSuite{
		Suite:      suite.Suite{},
		dispatcher: eventsourcing.NewDispatcher(store, 0, testLogger()),
		store:      store,
	}

	suite.Run(t, &testSuite)
}

func TestDispatcherInMemoryWithSnapshotting(t *testing.T) {
	store := eventstore.NewInMemoryStore()
	testSuite := DispatcherTestSuite{
		Suite:      suite.Suite{},
		dispatcher: eventsourcing.NewDispatcher(store, 2, testLogger()),
		store:      store,
	}

	suite.Run(t, &testSuite)
}

func (suite *DispatcherTestSuite) expectEvents(id account.ID, expected []eventstore.SequencedEvent) {
	actual, err := suite.store.Events(context.Background(), id, 0)
	suite.NoError(err)
	suite.Equal(expected, actual, "events do not match")
}

func (suite *DispatcherTestSuite) TestCreateAccount() {
	err := suite.dispatcher.SendAndWait(context.Background(),
		account.CreateAccount{ID: uuid.New(), AccountID: "A1", CustomerName: "kermit the frog"})

	suite.NoError(err)
	suite.expectEvents("A1", []eventstore.SequencedEvent{
		{AggregateID: "A1", Seq: 1, Event: account.AccountCreatedEvent{AccountID: "A1", CustomerName: "kermit the frog"}},
	})
}

func (suite *DispatcherTestSuite) TestCanNotCreateDuplicateAccount() {
	ctx := context.Background()
	suite.NoError(suite.dispatcher.SendAndWait(ctx,
		account.CreateAccount{ID: uuid.New(), AccountID: "D1", CustomerName: "kermit the frog"}))

	err := suite.dispatcher.SendAndWait(ctx,
		account.CreateAccount{ID: uuid.New(), AccountID: "D1", CustomerName: "kermit the frog"})
	suite.EqualError(err, "account already exists")
}

func (suite *DispatcherTestSuite) TestDepositThenDeniedWithdrawal() {
	ctx := context.Background()
	suite.NoError(suite.dispatcher.SendAndWait(ctx,
		account.CreateAccount{ID: uuid.New(), AccountID: "S1", CustomerName: "kermit the frog"}))
	suite.NoError(suite.dispatcher.SendAndWait(ctx,
		account.DepositAmount{ID: uuid.New(), AccountID: "S1", Amount: 100}))
	suite.NoError(suite.dispatcher.SendAndWait(ctx,
		account.WithdrawAmount{ID: uuid.New(), AccountID: "S1", Amount: 150}))

	suite.expectEvents("S1", []eventstore.SequencedEvent{
		{AggregateID: "S1", Seq: 1, Event: account.AccountCreatedEvent{AccountID: "S1", CustomerName: "kermit the frog"}},
		{AggregateID: "S1", Seq: 2, Event: account.AmountDepositedEvent{AccountID: "S1", Amount: 100}},
		{AggregateID: "S1", Seq: 3, Event: account.WithdrawalDeniedEvent{AccountID: "S1", Amount: 150, Balance: 100}},
	})
}

func (suite *DispatcherTestSuite) TestWithdrawalFromUnknownAccount() {
	err := suite.dispatcher.SendAndWait(context.Background(),
		account.WithdrawAmount{ID: uuid.New(), AccountID: "W404", Amount: 5})

	suite.NoError(err)
	suite.expectEvents("W404", []eventstore.SequencedEvent{
		{AggregateID: "W404", Seq: 1, Event: account.AccountNotExistingEvent{AccountID: "W404"}},
	})
}

func (suite *DispatcherTestSuite) TestRedeliveredCommandIsHandledOnce() {
	ctx := context.Background()
	suite.NoError(suite.dispatcher.SendAndWait(ctx,
		account.CreateAccount{ID: uuid.New(), AccountID: "R1", CustomerName: "kermit the frog"}))

	deposit := account.DepositAmount{ID: uuid.New(), AccountID: "R1", Amount: 10}
	suite.NoError(suite.dispatcher.SendAndWait(ctx, deposit))
	suite.NoError(suite.dispatcher.SendAndWait(ctx, deposit))

	suite.expectEvents("R1", []eventstore.SequencedEvent{
		{AggregateID: "R1", Seq: 1, Event: account.AccountCreatedEvent{AccountID: "R1", CustomerName: "kermit the frog"}},
		{AggregateID: "R1", Seq: 2, Event: account.AmountDepositedEvent{AccountID: "R1", Amount: 10}},
	})
}

func (suite *DispatcherTestSuite) TestConcurrentDepositsSerializePerIdentifier() {
	ctx := context.Background()
	suite.NoError(suite.dispatcher.SendAndWait(ctx,
		account.CreateAccount{ID: uuid.New(), AccountID: "C1", CustomerName: "kermit the frog"}))

	wg := sync.WaitGroup{}
	for _, amount := range []int64{50, 30} {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			suite.NoError(suite.dispatcher.SendAndWait(ctx,
				account.DepositAmount{ID: uuid.New(), AccountID: "C1", Amount: amount}))
		}(amount)
	}
	wg.Wait()

	events, err := suite.store.Events(ctx, "C1", 0)
	suite.NoError(err)
	var balance int64
	for _, e := range events {
		if deposited, ok := e.Event.(account.AmountDepositedEvent); ok {
			balance += deposited.Amount
		}
	}
	suite.Equal(int64(80), balance)
}

func (suite *DispatcherTestSuite) TestFireAndForgetBarrier() {
	ctx := context.Background()
	suite.dispatcher.Send(ctx, account.CreateAccount{ID: uuid.New(), AccountID: "F1", CustomerName: "john the law"})
	suite.dispatcher.Wait()

	suite.dispatcher.Send(ctx, account.DepositAmount{ID: uuid.New(), AccountID: "F1", Amount: 7})
	suite.dispatcher.Wait()

	events, err := suite.store.Events(ctx, "F1", 0)
	suite.NoError(err)
	suite.Len(events, 2)
}
