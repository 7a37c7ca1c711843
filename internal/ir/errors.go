package ir

import (
	"errors"
	"fmt"
)

// ReplicationError is a classified failure of a replication operation.
//
// Conflicts between concurrent writes are never errors; they are resolved by
// the merge rule. Everything here aborts the operation as a whole.
type ReplicationError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Table and Column locate schema violations.
	Table  string
	Column string

	// Site identifies the peer involved, when known.
	Site SiteID

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes replication errors.
type ErrorCode string

const (
	// ErrCodeSchemaViolation indicates an unknown table/column or a malformed record.
	// Retrying the same batch cannot succeed.
	ErrCodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"

	// ErrCodeMonotonicity indicates a cursor moving backward or a db_version gap.
	// Signals a transport or ordering bug upstream, never a conflict.
	ErrCodeMonotonicity ErrorCode = "MONOTONICITY_VIOLATION"

	// ErrCodeStorage indicates the underlying store failed or aborted.
	// The operation was rolled back and may be retried as-is.
	ErrCodeStorage ErrorCode = "STORAGE_FAILURE"

	// ErrCodeTransport indicates a peer was unreachable or answered badly.
	// Treated as "no new information this cycle".
	ErrCodeTransport ErrorCode = "TRANSPORT_FAILURE"
)

// Error implements the error interface.
func (e *ReplicationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Table != "" && e.Column != "" {
		msg = fmt.Sprintf("%s (table=%s, column=%s)", msg, e.Table, e.Column)
	} else if e.Table != "" {
		msg = fmt.Sprintf("%s (table=%s)", msg, e.Table)
	}
	if !e.Site.IsZero() {
		msg = fmt.Sprintf("%s (site=%s)", msg, e.Site.Short())
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReplicationError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var re *ReplicationError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsSchemaError returns true if err is (or wraps) a schema violation.
func IsSchemaError(err error) bool { return hasCode(err, ErrCodeSchemaViolation) }

// IsMonotonicityError returns true if err is (or wraps) a monotonicity violation.
func IsMonotonicityError(err error) bool { return hasCode(err, ErrCodeMonotonicity) }

// IsStorageError returns true if err is (or wraps) a storage failure.
func IsStorageError(err error) bool { return hasCode(err, ErrCodeStorage) }

// IsTransportError returns true if err is (or wraps) a transport failure.
func IsTransportError(err error) bool { return hasCode(err, ErrCodeTransport) }

// NewSchemaError creates a ReplicationError for a schema violation.
func NewSchemaError(table, column, message string) *ReplicationError {
	return &ReplicationError{
		Code:    ErrCodeSchemaViolation,
		Message: message,
		Table:   table,
		Column:  column,
	}
}

// NewMonotonicityError creates a ReplicationError for a cursor that would
// move backward or a batch that would skip db_versions.
func NewMonotonicityError(site SiteID, stored, proposed int64, message string) *ReplicationError {
	return &ReplicationError{
		Code:    ErrCodeMonotonicity,
		Message: message,
		Site:    site,
		Details: map[string]string{
			"stored":   fmt.Sprintf("%d", stored),
			"proposed": fmt.Sprintf("%d", proposed),
		},
	}
}

// NewStorageError wraps a store failure for the named operation.
func NewStorageError(op string, err error) *ReplicationError {
	return &ReplicationError{
		Code:    ErrCodeStorage,
		Message: op,
		Err:     err,
	}
}

// NewTransportError wraps a peer communication failure.
func NewTransportError(site SiteID, op string, err error) *ReplicationError {
	return &ReplicationError{
		Code:    ErrCodeTransport,
		Message: op,
		Site:    site,
		Err:     err,
	}
}
