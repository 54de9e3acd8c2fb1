package account

// ID uniquely names one account. It is an opaque business key, stable for
// the account's lifetime, and doubles as the aggregate stream key.
type ID string

func (id ID) String() string {
	return string(id)
}

// Status of the aggregate state machine.
type Status int

const (
	Uninitialized Status = iota
	Active
	Closed
)

// EventStream collects the events an aggregate emits while handling a
// command. Implementations apply the event to the aggregate immediately and
// stage it for an atomic append.
type EventStream interface {
	Append(e Event, a *Account, id ID)
}

// Account is the command validation boundary for one account identifier.
// It is reconstructed by folding the identifier's event stream and exists
// only in memory for the duration of command handling - the stream remains
// the source of truth.
type Account struct {
	es           EventStream
	id           ID
	customerName string
	balance      int64
	status       Status
}

func New(es EventStream) *Account {
	return &Account{es: es}
}

func (a *Account) ID() ID {
	return a.id
}

func (a *Account) Balance() int64 {
	return a.balance
}

func (a *Account) Status() Status {
	return a.status
}

func (a *Account) Snapshot() Snapshot {
	return Snapshot{AccountID: a.id, CustomerName: a.customerName, Balance: a.balance, Status: a.status}
}

// Create opens a fresh account. Valid only when no AccountCreated event was
// folded yet.
func (a *Account) Create(id ID, customerName string) error {
	if a.status != Uninitialized {
		return Exists
	}

	a.es.Append(AccountCreatedEvent{AccountID: id, CustomerName: customerName}, a, id)
	return nil
}

// Deposit credits the account. A deposit against an unknown identifier is a
// business rejection, recorded as a durable AccountNotExistingEvent rather
// than surfaced as an error.
func (a *Account) Deposit(id ID, amount int64) error {
	if amount <= 0 {
		return NegativeDeposit
	}
	switch a.status {
	case Uninitialized:
		a.es.Append(AccountNotExistingEvent{AccountID: id}, a, id)
		return nil
	case Closed:
		return ClosedAccount
	}

	a.es.Append(AmountDepositedEvent{AccountID: a.id, Amount: amount}, a, a.id)
	return nil
}

// Withdraw debits the account. Unknown identifiers yield
// AccountNotExistingEvent, insufficient balance yields WithdrawalDeniedEvent
// carrying the balance at the moment of denial. Neither changes the balance.
func (a *Account) Withdraw(id ID, amount int64) error {
	if amount <= 0 {
		return NegativeWithdrawal
	}
	switch a.status {
	case Uninitialized:
		a.es.Append(AccountNotExistingEvent{AccountID: id}, a, id)
		return nil
	case Closed:
		return ClosedAccount
	}

	if amount > a.balance {
		a.es.Append(WithdrawalDeniedEvent{AccountID: a.id, Amount: amount, Balance: a.balance}, a, a.id)
		return nil
	}
	a.es.Append(AmountWithdrawnEvent{AccountID: a.id, Amount: amount}, a, a.id)
	return nil
}

func (a *Account) applyAccountCreated(event AccountCreatedEvent) {
	a.id = event.AccountID
	a.customerName = event.CustomerName
	a.balance = 0
	a.status = Active
}

func (a *Account) applyAmountDeposited(event AmountDepositedEvent) {
	a.balance += event.Amount
}

func (a *Account) applyAmountWithdrawn(event AmountWithdrawnEvent) {
	a.balance -= event.Amount
}

func (a *Account) applyAccountClosed(event AccountClosedEvent) {
	a.status = Closed
}

func (a *Account) applySnapshot(snapshot Snapshot) {
	a.id = snapshot.AccountID
	a.customerName = snapshot.CustomerName
	a.balance = snapshot.Balance
	a.status = snapshot.Status
}
