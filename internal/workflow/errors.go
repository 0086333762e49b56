package workflow

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	CodeNotFound         = "NOT_FOUND"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNoTransition     = "NO_TRANSITION_AVAILABLE"
	CodeStageConflict    = "STAGE_CONFLICT"
	CodePersistence      = "PERSISTENCE_ERROR"
)

var (
	ErrNotFound = apperrors.New("service order not found", apperrors.CategoryBadInput).
			WithTextCode(CodeNotFound)
	ErrValidationFailed = apperrors.New("validation failed", apperrors.CategoryValidation).
				WithTextCode(CodeValidationFailed)
	ErrNoTransition = apperrors.New("no transition available", apperrors.CategoryConflict).
			WithTextCode(CodeNoTransition)
	ErrStageConflict = apperrors.New("order stage changed concurrently", apperrors.CategoryConflict).
				WithTextCode(CodeStageConflict)
	ErrPersistence = apperrors.New("order store unavailable", apperrors.CategoryExternal).
			WithTextCode(CodePersistence)
)

// Fail returns a copy of base carrying message and, optionally, the underlying cause.
func Fail(base *apperrors.Error, message string, source error) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	return err
}

// Invalid builds a ValidationFailed error whose message is shown to the user as-is.
func Invalid(message string) *apperrors.Error {
	return Fail(ErrValidationFailed, message, nil)
}

// Persistence wraps a store failure. The cause stays reachable through Source.
func Persistence(op string, source error) *apperrors.Error {
	return Fail(ErrPersistence, op, source)
}

// Code returns the stable text code of err, or "" when err is not a workflow error.
func Code(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsCode(err error, code string) bool { return err != nil && Code(err) == code }

// Retryable reports whether the caller may safely retry without changing anything.
func Retryable(err error) bool { return IsCode(err, CodePersistence) }
