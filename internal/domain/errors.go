package domain

import (
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidMessage     = fmt.Errorf("invalid message")
	ErrUnknownMessageType = fmt.Errorf("unknown message type")
	ErrAgentNotFound      = fmt.Errorf("agent not found")
	ErrOrderNotFound      = fmt.Errorf("order not found")
	ErrRateLimited        = fmt.Errorf("rate limit exceeded")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrAuthFailed         = fmt.Errorf("authentication failed")
	ErrLedgerWrite        = fmt.Errorf("ledger write failed")
	ErrLedgerRead         = fmt.Errorf("ledger read failed")
	ErrNotifyFailed       = fmt.Errorf("notification delivery failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Book.Settle")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
