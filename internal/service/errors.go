package service

import "errors"

var (
	ErrNotFound          = errors.New("verification not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReasonRequired    = errors.New("rejection reason is required")
	ErrVerificationBusy  = errors.New("verification is being processed")
)
