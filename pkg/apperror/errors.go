package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient_store"
	KindFanout     Kind = "fanout_delivery"
	KindDivergence Kind = "reconciliation_divergence"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

var (
	ErrValidation = &AppError{Kind: KindValidation, Message: "validation failed"}
	ErrConflict   = &AppError{Kind: KindConflict, Message: "conflict"}
	ErrTransient  = &AppError{Kind: KindTransient, Message: "transient store error"}
	ErrFanout     = &AppError{Kind: KindFanout, Message: "fan-out delivery failed"}
	ErrDivergence = &AppError{Kind: KindDivergence, Message: "counter diverged"}
	ErrNotFound   = &AppError{Kind: KindNotFound, Message: "resource not found"}
)

// AppError carries a Kind next to the message and the wrapped cause.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any AppError of the same kind, so errors.Is(err, ErrValidation)
// works for every validation failure.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *AppError {
	return &AppError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Transient(err error) *AppError {
	return &AppError{Kind: KindTransient, Message: "transient store error", Err: err}
}

func Fanout(consumer string, err error) *AppError {
	return &AppError{Kind: KindFanout, Message: "deliver to " + consumer, Err: err}
}

func Divergence(format string, args ...any) *AppError {
	return &AppError{Kind: KindDivergence, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first AppError in the chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// retryable SQLSTATE codes: serialization_failure, deadlock_detected,
// lock_not_available, query_canceled (statement timeout).
var transientSQLStates = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
	"57014": {},
}

// IsTransient reports whether err is safe to retry by re-running the whole
// command. A racing unique insert counts: the retry observes the winner's row.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindTransient {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientSQLStates[pgErr.Code]
		return ok
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Classify wraps retryable driver errors as KindTransient and leaves
// everything else untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return err
	}
	if IsTransient(err) {
		return Transient(err)
	}
	return err
}

// HTTPStatus maps an error to the status code the command surface returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
