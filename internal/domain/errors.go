package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrQueueFull           = errors.New("render queue full")
	ErrUserBusy            = errors.New("too many outstanding renders")
	ErrBalanceUnavailable  = errors.New("credit balance unavailable")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUnknownModel        = errors.New("unknown model key")
	ErrNotCancelable       = errors.New("render not cancelable")
)
