// Package projection maintains the eventually consistent account read
// model. It is updated solely by consuming events from the event bus and
// may transiently lag the event store - reads never block command handling.
package projection

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventbus"
)

// Account is one read model record. Readers always receive a copy, never a
// reference into the live mapping.
type Account struct {
	ID           account.ID `json:"id"`
	CustomerName string     `json:"customerName"`
	Balance      int64      `json:"balance"`
}

type record struct {
	Account
	appliedSeq int
}

// AccountView folds the same event types as the aggregate, asynchronously
// and independently. Updates are idempotent: an event at or below the
// record's applied stream position is dropped, so at-least-once delivery
// can not double-apply a deposit.
type AccountView struct {
	log *logrus.Entry

	mutex    sync.RWMutex
	accounts map[account.ID]*record
}

func NewAccountView(log *logrus.Entry) *AccountView {
	return &AccountView{
		log:      log,
		accounts: map[account.ID]*record{},
	}
}

// Handle implements eventbus.Subscriber.
func (v *AccountView) Handle(msg eventbus.Message) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	seq := msg.Event.Seq
	switch e := msg.Event.Event.(type) {
	case account.AccountCreatedEvent:
		if v.alreadyApplied(e.AccountID, seq) {
			return
		}
		v.accounts[e.AccountID] = &record{
			Account:    Account{ID: e.AccountID, CustomerName: e.CustomerName},
			appliedSeq: seq,
		}
		v.log.WithFields(logrus.Fields{"account": e.AccountID, "customer": e.CustomerName}).Info("account created")
	case account.AmountDepositedEvent:
		rec, ok := v.apply(e.AccountID, seq)
		if !ok {
			return
		}
		rec.Balance += e.Amount
		v.log.WithFields(logrus.Fields{"account": e.AccountID, "amount": e.Amount}).Info("amount deposited")
	case account.AmountWithdrawnEvent:
		rec, ok := v.apply(e.AccountID, seq)
		if !ok {
			return
		}
		rec.Balance -= e.Amount
		v.log.WithFields(logrus.Fields{"account": e.AccountID, "amount": e.Amount}).Info("amount withdrawn")
	case account.WithdrawalDeniedEvent:
		if _, ok := v.apply(e.AccountID, seq); !ok {
			return
		}
		v.log.WithFields(logrus.Fields{
			"account": e.AccountID,
			"amount":  e.Amount,
			"balance": e.Balance,
		}).Warn("withdrawal denied")
	case account.AccountNotExistingEvent:
		v.log.WithField("account", e.AccountID).Warn("account not existing")
	case account.AccountClosedEvent:
		// Closing is bus-published without a stream position and is
		// naturally idempotent - removing an absent record is a no-op.
		delete(v.accounts, e.AccountID)
		v.log.WithField("account", e.AccountID).Info("account closed")
	}
}

// GetAccount returns the most recently applied record for id.
func (v *AccountView) GetAccount(id account.ID) (Account, bool) {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	rec, ok := v.accounts[id]
	if !ok {
		return Account{}, false
	}
	return rec.Account, true
}

// ListAccounts returns a stable-ordered snapshot of all records.
func (v *AccountView) ListAccounts() []Account {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	accounts := make([]Account, 0, len(v.accounts))
	for _, rec := range v.accounts {
		accounts = append(accounts, rec.Account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts
}

func (v *AccountView) alreadyApplied(id account.ID, seq int) bool {
	rec, ok := v.accounts[id]
	return ok && seq != 0 && seq <= rec.appliedSeq
}

// apply looks up the record and advances its applied position, dropping
// redelivered events. Events without a stream position (seq 0) pass through.
func (v *AccountView) apply(id account.ID, seq int) (*record, bool) {
	rec, ok := v.accounts[id]
	if !ok {
		return nil, false
	}
	if seq != 0 {
		if seq <= rec.appliedSeq {
			return nil, false
		}
		rec.appliedSeq = seq
	}
	return rec, true
}
