package pose

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider setup and per-frame failures.
var (
	// ErrModelNotFound is returned when a model file is missing on disk.
	ErrModelNotFound = errors.New("pose: model file not found")

	// ErrAssetUnavailable is returned when a model asset could not be fetched
	// from any mirror. The failure is remembered for the process lifetime.
	ErrAssetUnavailable = errors.New("pose: model asset unavailable")

	// ErrHelperNotFound is returned when the MediaPipe helper script is missing.
	ErrHelperNotFound = errors.New("pose: mediapipe helper not found")

	// ErrHelperExited is returned by Detect once the MediaPipe helper has
	// died. The helper is not restarted mid-session.
	ErrHelperExited = errors.New("pose: mediapipe helper exited")

	// ErrEmptyFrame is returned for nil or empty frames.
	ErrEmptyFrame = errors.New("pose: empty frame")
)

// ProviderError records why a backend could not be initialized.
type ProviderError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("pose [%s]: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
