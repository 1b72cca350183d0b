package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("already in target state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrExternal          = errors.New("external dependency failed")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock held by another holder")
)
