package codex

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by record-type operations.
var (
	// ErrNoRevisions is returned when a revision operation is invoked on a
	// record type that was initialized without HasRevisions.
	ErrNoRevisions = errors.New("record type does not track revisions")

	// ErrNotConnected is returned when operating on a closed connection.
	ErrNotConnected = errors.New("database is not connected")

	// ErrUnsavedRecord is returned when an operation requires a persisted
	// record but the instance has never been saved.
	ErrUnsavedRecord = errors.New("record has not been saved")
)

// NotFoundError is returned when a record does not exist.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: record not found", e.Table)
	}
	return fmt.Sprintf("%s: record %q not found", e.Table, e.ID)
}

// InvalidIdentifierError is returned when a supplied primary key is not a
// valid identifier. It is raised before any query reaches storage, so
// malformed keys never surface as low-level syntax errors.
type InvalidIdentifierError struct {
	ID string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier format: %q", e.ID)
}

// ValidationError is returned when a field value fails schema validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// ConstraintKind classifies storage-level constraint violations.
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintNotNull    ConstraintKind = "not_null"
)

// ConstraintError is returned when the storage engine rejects a write due to
// a unique, foreign-key, check, or not-null constraint.
type ConstraintError struct {
	Kind       ConstraintKind
	Constraint string // constraint name when the engine reports one
	err        error
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s constraint %q violated: %v", e.Kind, e.Constraint, e.err)
	}
	return fmt.Sprintf("%s constraint violated: %v", e.Kind, e.err)
}

func (e *ConstraintError) Unwrap() error { return e.err }

// ConnectionError is returned when the storage engine is unreachable or the
// connection is unusable.
type ConnectionError struct {
	err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("connection error: %v", e.err) }
func (e *ConnectionError) Unwrap() error { return e.err }

// TransactionError is returned when beginning, committing, or rolling back a
// transaction fails.
type TransactionError struct {
	Op  string // "begin", "commit", "rollback"
	err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.err)
}
func (e *TransactionError) Unwrap() error { return e.err }

// QueryError wraps any storage failure not recognized as a more specific
// taxonomy member. Public operations never surface a raw driver error.
type QueryError struct {
	err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query failed: %v", e.err) }
func (e *QueryError) Unwrap() error { return e.err }

// RegistrationError is returned when a manifest cannot be initialized or a
// record type is re-registered with a different definition.
type RegistrationError struct {
	Table  string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("cannot register %q: %s", e.Table, e.Reason)
}

// RevisionDeletedError is returned by GetNotStaleOrDeleted when the row
// exists but its chain has been deleted.
type RevisionDeletedError struct {
	Table string
	ID    string
}

func (e *RevisionDeletedError) Error() string {
	return fmt.Sprintf("%s: record %q is deleted", e.Table, e.ID)
}

// RevisionStaleError is returned by GetNotStaleOrDeleted when the row exists
// but has been superseded by a newer revision.
type RevisionStaleError struct {
	Table     string
	ID        string
	CurrentID string // chain id the stale row points back to
}

func (e *RevisionStaleError) Error() string {
	return fmt.Sprintf("%s: record %q is a stale revision of %q", e.Table, e.ID, e.CurrentID)
}

// taxonomy reports whether err is already one of the structured error kinds,
// so translation never double-wraps.
func taxonomy(err error) bool {
	switch err.(type) {
	case *NotFoundError, *InvalidIdentifierError, *ValidationError, *ConstraintError,
		*ConnectionError, *TransactionError, *QueryError, *RegistrationError,
		*RevisionDeletedError, *RevisionStaleError:
		return true
	}
	return errors.Is(err, ErrNoRevisions) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrUnsavedRecord)
}

// translateErr maps a native storage error onto the taxonomy. SQLSTATE class
// 23 becomes ConstraintError, class 08 ConnectionError; anything unrecognized
// is wrapped as QueryError rather than rethrown raw.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if taxonomy(err) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &QueryError{err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &ConstraintError{Kind: ConstraintUnique, Constraint: pgErr.ConstraintName, err: err}
		case "23503":
			return &ConstraintError{Kind: ConstraintForeignKey, Constraint: pgErr.ConstraintName, err: err}
		case "23514":
			return &ConstraintError{Kind: ConstraintCheck, Constraint: pgErr.ConstraintName, err: err}
		case "23502":
			return &ConstraintError{Kind: ConstraintNotNull, Constraint: pgErr.ConstraintName, err: err}
		case "22P02": // invalid text representation, e.g. a malformed uuid literal
			return &InvalidIdentifierError{ID: pgErr.Message}
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return &ConnectionError{err: err}
		}
		return &QueryError{err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ConnectionError{err: err}
	}
	return &QueryError{err: err}
}
