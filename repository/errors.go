package repository

import (
	"database/sql"
	"strings"

	"github.com/goliatone/go-errors"
)

// NewRecordNotFound builds the error returned when a lookup comes back
// empty. Callers attach identifying metadata before returning it.
func NewRecordNotFound() *errors.Error {
	return errors.New("record not found", errors.CategoryNotFound).
		WithTextCode("RECORD_NOT_FOUND").
		WithCode(errors.CodeNotFound)
}

// IsRecordNotFound reports whether err represents an empty lookup,
// either ours or the driver's sql.ErrNoRows.
func IsRecordNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich.Category == errors.CategoryNotFound
	}
	return false
}

// constraint violation fragments emitted by the drivers we run on
var constraintFragments = []string{
	"duplicate key value violates unique constraint", // postgres
	"UNIQUE constraint failed",                       // sqlite
	"constraint failed",
}

// WrapConstraintViolation translates a driver-level uniqueness failure
// into a conflict error. Other errors pass through wrapped as internal.
func WrapConstraintViolation(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsConstraintViolation(err) {
		return errors.Wrap(err, errors.CategoryConflict, msg).
			WithTextCode("RECORD_ALREADY_EXISTS").
			WithCode(errors.CodeConflict)
	}
	return errors.Wrap(err, errors.CategoryInternal, msg)
}

// IsConstraintViolation reports whether err originated from a
// uniqueness constraint at commit time. The store is the authoritative
// race guard, so callers must treat this as "already exists" even when
// their own pre-flight existence check passed.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var rich *errors.Error
	if errors.As(err, &rich) && rich.Category == errors.CategoryConflict {
		return true
	}
	msg := err.Error()
	for _, fragment := range constraintFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
