package account

import "fmt"

// Event is an immutable domain fact. Folding a stream of events yields the
// aggregate's current state; applying the same stream twice yields the same
// state.
type Event interface {
	Apply(a *Account)
}

type AccountCreatedEvent struct {
	AccountID    ID
	CustomerName string
}

func (e AccountCreatedEvent) Apply(a *Account) {
	a.applyAccountCreated(e)
}

func (e AccountCreatedEvent) String() string {
	return fmt.Sprintf("AccountCreated{account: %s, customer: %s}", e.AccountID, e.CustomerName)
}

type AmountDepositedEvent struct {
	AccountID ID
	Amount    int64
}

func (e AmountDepositedEvent) Apply(a *Account) {
	a.applyAmountDeposited(e)
}

type AmountWithdrawnEvent struct {
	AccountID ID
	Amount    int64
}

func (e AmountWithdrawnEvent) Apply(a *Account) {
	a.applyAmountWithdrawn(e)
}

// WithdrawalDeniedEvent records a withdrawal rejected for insufficient funds.
// Balance is the balance at the moment of denial; the fold ignores it.
type WithdrawalDeniedEvent struct {
	AccountID ID
	Amount    int64
	Balance   int64
}

func (e WithdrawalDeniedEvent) Apply(a *Account) {}

// AccountNotExistingEvent records a command against an identifier with no
// prior AccountCreated. The fold ignores it - it never brings an account
// into existence.
type AccountNotExistingEvent struct {
	AccountID ID
}

func (e AccountNotExistingEvent) Apply(a *Account) {}

type AccountClosedEvent struct {
	AccountID ID
}

func (e AccountClosedEvent) Apply(a *Account) {
	a.applyAccountClosed(e)
}

// Snapshot captures the folded state at some stream version so that replay
// can resume from there instead of the stream start.
type Snapshot struct {
	AccountID    ID
	CustomerName string
	Balance      int64
	Status       Status
}

func (s Snapshot) Apply(a *Account) {
	a.applySnapshot(s)
}
