package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrIntegrity         = errors.New("integrity error")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrTimeout           = errors.New("timed out")
	ErrTransient         = errors.New("transient external failure")
	ErrPermanent         = errors.New("permanent external failure")
	ErrInvalidInput      = errors.New("invalid input")
	ErrCancelled         = errors.New("cancelled")
	ErrAlreadyInFlight   = errors.New("already in flight")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify ensures context failures carry the matching marker. Errors that
// already carry a marker are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// Retryable reports whether err may succeed when attempted again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, ErrPermanent) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
}

var kinds = []struct {
	marker error
	name   string
}{
	{ErrCancelled, "cancelled"},
	{ErrAlreadyInFlight, "already_in_flight"},
	{ErrIllegalTransition, "illegal_transition"},
	{ErrIntegrity, "integrity"},
	{ErrAlreadyExists, "already_exists"},
	{ErrNotFound, "not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrTimeout, "timed_out"},
	{ErrPermanent, "permanent_external"},
	{ErrTransient, "transient_external"},
}

// KindOf returns the short name of the first marker found on err, or "" when
// the error carries none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.name
		}
	}
	return ""
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
