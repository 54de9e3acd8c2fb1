package account

import "github.com/google/uuid"

// Command is a request to mutate one account. Commands are never persisted -
// only the events they produce are durable. Each command carries an ID so
// that redelivered commands can be detected and applied at most once.
type Command interface {
	TargetID() ID
	CommandID() uuid.UUID
}

type CreateAccount struct {
	ID           uuid.UUID
	AccountID    ID
	CustomerName string
}

func (c CreateAccount) TargetID() ID { return c.AccountID }
func (c CreateAccount) CommandID() uuid.UUID { return c.ID }

type DepositAmount struct {
	ID        uuid.UUID
	AccountID ID
	Amount    int64
}

func (c DepositAmount) TargetID() ID { return c.AccountID }
func (c DepositAmount) CommandID() uuid.UUID { return c.ID }

type WithdrawAmount struct {
	ID        uuid.UUID
	AccountID ID
	Amount    int64
}

func (c WithdrawAmount) TargetID() ID { return c.AccountID }
func (c WithdrawAmount) CommandID() uuid.UUID { return c.ID }
