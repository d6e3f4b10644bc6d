package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidLink        = errors.New("invalid link")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrAlreadyTracking    = errors.New("already tracking")
	ErrAlreadyRunning     = errors.New("poll cycle already running")
	ErrSchedulerStopping  = errors.New("scheduler is stopping")

	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrRetentionSweepFailed       = errors.New("retention sweep failed")
	ErrPersistence                = errors.New("persistence failure")
)

// AlreadyTrackingError is returned when a subscriber adds a product they
// already track. Unified reports whether the link only matched through
// catalog identity rather than its literal canonical URL.
type AlreadyTrackingError struct {
	ProductID int64
	Unified   bool
}

func (e *AlreadyTrackingError) Error() string {
	return fmt.Sprintf("already tracking product %d (unified=%t)", e.ProductID, e.Unified)
}

func (e *AlreadyTrackingError) Is(target error) bool {
	return target == ErrAlreadyTracking
}

func NewNotFound(format string, a ...interface{}) error {
	return fmt.Errorf("NOT FOUND: "+format+": %w", append(a, ErrNotFound)...)
}

// NewPersistence wraps a store failure so callers can match ErrPersistence
// while keeping the driver error in the chain.
func NewPersistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsInvalidLink(err error) bool {
	return errors.Is(err, ErrInvalidLink)
}

func IsAlreadyTracking(err error) bool {
	return errors.Is(err, ErrAlreadyTracking)
}

func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}

func IsSchedulerStopping(err error) bool {
	return errors.Is(err, ErrSchedulerStopping)
}
