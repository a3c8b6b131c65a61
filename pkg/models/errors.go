package models

import "errors"

// Sentinel errors for the governance taxonomy. Callers classify with
// errors.Is; packages wrap these with operation context.
var (
	ErrNotAuthorized      = errors.New("not authorized")
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyDecided     = errors.New("already decided")
	ErrExpired            = errors.New("expired")
	ErrIntegrityViolation = errors.New("audit chain integrity violation")
	ErrTransientStore     = errors.New("transient store error")
	ErrSystemLocked       = errors.New("system locked")
)
