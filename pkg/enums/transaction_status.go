package enums

import "fmt"

// TransactionStatus tracks the lifecycle of a cashback transaction.
type TransactionStatus string

const (
	TransactionStatusPending        TransactionStatus = "pending"
	TransactionStatusConfirmed      TransactionStatus = "confirmed"
	TransactionStatusAwaitingPayout TransactionStatus = "awaiting_payout"
	TransactionStatusPaid           TransactionStatus = "paid"
	TransactionStatusRejected       TransactionStatus = "rejected"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusConfirmed,
	TransactionStatusAwaitingPayout,
	TransactionStatusPaid,
	TransactionStatusRejected,
}

// String implements fmt.Stringer.
func (t TransactionStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionStatus.
func (t TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
