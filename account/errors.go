package account

type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	Exists                 Error = "account already exists"
	NotFound               Error = "account not found"
	ClosedAccount          Error = "account closed"
	NegativeDeposit        Error = "can not deposit negative or zero amount"
	NegativeWithdrawal     Error = "can not withdraw negative or zero amount"
	ConcurrentModification Error = "concurrent modification error"
)
