package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Class is the persistence-level outcome of a failed statement. Callers
// switch on it instead of inspecting driver error shapes.
type Class int

const (
	ClassNone Class = iota
	ClassOther
	ClassNotFound
	ClassTransient
	ClassCheckViolation
	ClassUniqueViolation
	ClassRejectedByTrigger
	ClassOutOfRange
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNotFound:
		return "not_found"
	case ClassTransient:
		return "transient"
	case ClassCheckViolation:
		return "check_violation"
	case ClassUniqueViolation:
		return "unique_violation"
	case ClassRejectedByTrigger:
		return "rejected_by_trigger"
	case ClassOutOfRange:
		return "out_of_range"
	default:
		return "other"
	}
}

// SQLSTATE codes the fulfillment core reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeCheckViolation       = "23514"
	codeUniqueViolation      = "23505"
	codeRaiseException       = "P0001"
	codeNumericOutOfRange    = "22003"
)

// Classify maps err to a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ClassNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return ClassTransient
		case codeCheckViolation:
			return ClassCheckViolation
		case codeUniqueViolation:
			return ClassUniqueViolation
		case codeRaiseException:
			return ClassRejectedByTrigger
		case codeNumericOutOfRange:
			return ClassOutOfRange
		}
	}
	return ClassOther
}

// ConstraintName returns the violated constraint, or "" when err carries none.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
