package util

import "errors"

var (
	ErrInvalidRegion        = errors.New("invalid region: zero-area or negative-origin rectangle")
	ErrEmptyComment         = errors.New("annotation comment must not be empty")
	ErrInvalidCompetency    = errors.New("competency must be between 1 and 5")
	ErrInvalidScore         = errors.New("score must be one of 0, 40, 80, 120, 160, 200")
	ErrInvalidOrigin        = errors.New("invalid origin table")
	ErrInvalidSlot          = errors.New("corrector slot must be 1 or 2")
	ErrMissingJustification = errors.New("devolution requires a non-empty justification")
	ErrCorrectionClosed     = errors.New("correction already finalized or returned")
	ErrEssayNotFound        = errors.New("essay not found")
	ErrAnnotationNotFound   = errors.New("annotation not found")
	ErrRenderFailed         = errors.New("essay render failed")
	ErrRenderNotReady       = errors.New("essay image not rendered yet")
	ErrPermissionDenied     = errors.New("permission denied")
)

type PersistenceCause string

const (
	PersistTransient  PersistenceCause = "transient"
	PersistValidation PersistenceCause = "validation"
)

// PersistenceError 区分可重试的瞬时故障与需要调用方修正输入的校验故障
type PersistenceError struct {
	Cause PersistenceCause
	Err   error
}

func (e *PersistenceError) Error() string {
	return "persistence error (" + string(e.Cause) + "): " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func NewTransientError(err error) error {
	return &PersistenceError{Cause: PersistTransient, Err: err}
}

func NewValidationError(err error) error {
	return &PersistenceError{Cause: PersistValidation, Err: err}
}

// IsTransient 仅瞬时持久化故障可自动重试
func IsTransient(err error) bool {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Cause == PersistTransient
	}
	return false
}
