package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrorCode categorizes domain errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates there is no usable store connection or
	// the requested stores are inconsistent.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeProvenance indicates a remote store carries no clone marker.
	ErrCodeProvenance ErrorCode = "PROVENANCE"

	// ErrCodeConstraintConflict indicates a duplicate key or foreign key
	// violation while applying a row.
	ErrCodeConstraintConflict ErrorCode = "CONSTRAINT_CONFLICT"

	// ErrCodeStore indicates any other store failure.
	ErrCodeStore ErrorCode = "STORE"

	// ErrCodeAbortRequested indicates the user asked to stop a sync run.
	ErrCodeAbortRequested ErrorCode = "ABORT_REQUESTED"

	// ErrCodeCancelled indicates a task observed its cancel flag.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// Error is the domain error returned across package boundaries. Message is
// safe for direct display; Detail holds the first line of the driver error.
type Error struct {
	Code    ErrorCode
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a domain error without an underlying cause.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrNoConnection is returned when an operation needs a store that was never
// opened.
var ErrNoConnection = &Error{Code: ErrCodeConfiguration, Message: "no active store connection"}

// ErrNotAClone is returned when a remote store has no provenance marker.
var ErrNotAClone = &Error{Code: ErrCodeProvenance, Message: "Does not seem to be a clone."}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConstraintConflict reports whether err is a constraint violation.
func IsConstraintConflict(err error) bool { return CodeOf(err) == ErrCodeConstraintConflict }

// IsProvenance reports whether err is a missing clone marker.
func IsProvenance(err error) bool { return CodeOf(err) == ErrCodeProvenance }

// IsAbort reports whether err is a user requested abort.
func IsAbort(err error) bool { return CodeOf(err) == ErrCodeAbortRequested }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return CodeOf(err) == ErrCodeConfiguration }

// IsCancelled reports whether err is a cooperative cancel.
func IsCancelled(err error) bool {
	return CodeOf(err) == ErrCodeCancelled || errors.Is(err, context.Canceled)
}

// classify wraps a driver error as a domain error. Constraint violations
// from either engine become ErrCodeConstraintConflict, everything else
// becomes ErrCodeStore. Context errors and existing domain errors pass
// through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	code := ErrCodeStore
	var sqliteErr sqlite3.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &sqliteErr):
		if sqliteErr.Code == sqlite3.ErrConstraint {
			code = ErrCodeConstraintConflict
		}
	case errors.As(err, &pgErr):
		if pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			code = ErrCodeConstraintConflict
		}
	}
	return &Error{Code: code, Message: op + " failed", Detail: firstLine(err.Error()), Err: err}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
