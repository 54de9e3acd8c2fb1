package saga

import (
	"github.com/sirupsen/logrus"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

// TerminalPublisher publishes a workflow's terminal event onto the local
// event bus. Satisfied by *eventbus.Bus.
type TerminalPublisher interface {
	Publish(e eventstore.SequencedEvent)
}

// CloseAccountSaga closes an account that keeps attempting withdrawals it
// can not cover. An instance starts on the first WithdrawalDenied for an
// account and counts subsequent denials; when the denial limit is reached
// it publishes AccountClosed for that account and terminates. Seeing
// AccountClosed from elsewhere (another node already closed the account)
// terminates the instance without action.
type CloseAccountSaga struct {
	denialLimit int
	publisher   TerminalPublisher
	log         *logrus.Entry
}

func NewCloseAccountSaga(denialLimit int, publisher TerminalPublisher, log *logrus.Entry) *CloseAccountSaga {
	if denialLimit < 1 {
		panic("denial limit must be at least 1")
	}
	return &CloseAccountSaga{denialLimit: denialLimit, publisher: publisher, log: log}
}

func (s *CloseAccountSaga) Name() string {
	return "close-account"
}

func (s *CloseAccountSaga) Correlate(e account.Event) (account.ID, bool) {
	switch event := e.(type) {
	case account.WithdrawalDeniedEvent:
		return event.AccountID, true
	case account.AccountClosedEvent:
		return event.AccountID, true
	}
	return "", false
}

func (s *CloseAccountSaga) NewInstance(id account.ID) Instance {
	return &closeAccountInstance{saga: s, id: id}
}

type closeAccountInstance struct {
	saga    *CloseAccountSaga
	id      account.ID
	denials int
}

func (i *closeAccountInstance) Advance(e eventstore.SequencedEvent) bool {
	switch e.Event.(type) {
	case account.WithdrawalDeniedEvent:
		i.denials++
		if i.denials < i.saga.denialLimit {
			return false
		}
		i.saga.log.WithFields(logrus.Fields{"account": i.id, "denials": i.denials}).Info("closing account")
		i.saga.publisher.Publish(eventstore.SequencedEvent{
			AggregateID: i.id,
			Event:       account.AccountClosedEvent{AccountID: i.id},
		})
		return true
	case account.AccountClosedEvent:
		return true
	}
	return false
}
