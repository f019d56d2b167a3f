package vigil

import (
	"errors"
	"fmt"

	"github.com/aisp-go/vigil/internal/detector"
)

// Core sentinel errors. Configuration and dimension errors are integration
// mistakes and are never retried.
var (
	// ErrConfiguration is returned for invalid vote percentages, detector
	// parameters or classifier options.
	ErrConfiguration = detector.ErrConfiguration

	// ErrNoTrainingData is returned when no sample carried the label or a
	// feature gram has no rows or columns.
	ErrNoTrainingData = detector.ErrNoTrainingData

	// ErrDimensionMismatch is returned when a feature vector or the number of
	// grams differs from what the classifier was trained on.
	ErrDimensionMismatch = detector.ErrDimensionMismatch

	// ErrDegenerateDistribution marks a zero or undefined spread. Detectors
	// absorb it by skipping adaptation.
	ErrDegenerateDistribution = detector.ErrDegenerateDistribution
)

// Collaborator errors.
var (
	// ErrModelNotFound is returned when a stored model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelCorrupt is returned when a stored model cannot be decoded.
	ErrModelCorrupt = errors.New("model corrupt")

	// ErrBackendClosed is returned by operations on a closed backend.
	ErrBackendClosed = errors.New("storage backend is closed")

	// ErrExportFailed is returned when scores could not be pushed.
	ErrExportFailed = errors.New("score export failed")
)

// StoreErrorType categorizes store errors.
type StoreErrorType int

const (
	// StoreErrorTypeUnknown is an unclassified store error.
	StoreErrorTypeUnknown StoreErrorType = iota
	// StoreErrorTypeRead indicates a read failure.
	StoreErrorTypeRead
	// StoreErrorTypeWrite indicates a write failure.
	StoreErrorTypeWrite
	// StoreErrorTypeCorrupt indicates undecodable data.
	StoreErrorTypeCorrupt
	// StoreErrorTypeNotFound indicates a missing key.
	StoreErrorTypeNotFound
)

// StoreError describes a model store or sample log failure.
type StoreError struct {
	Type    StoreErrorType
	Message string
	Key     string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Message, e.Key, e.Cause)
		}
		return fmt.Sprintf("%s [%s]", e.Message, e.Key)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StoreError.
func (e *StoreError) Is(target error) bool {
	switch e.Type {
	case StoreErrorTypeCorrupt:
		return target == ErrModelCorrupt
	case StoreErrorTypeNotFound:
		return target == ErrModelNotFound
	}
	return false
}

func newStoreError(errType StoreErrorType, message, key string, cause error) *StoreError {
	return &StoreError{
		Type:    errType,
		Message: message,
		Key:     key,
		Cause:   cause,
	}
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
