package domain

import "errors"

// Sentinel error kinds surfaced by the core. Every layer wraps these with
// github.com/pkg/errors so errors.Is still resolves the sentinel.
var (
	ErrValidation        = errors.New("validation error")
	ErrDuplicateInstance = errors.New("duplicate task instance")
	ErrTransientStore    = errors.New("transient store error")
	ErrTransientPublish  = errors.New("transient publish error")
	ErrPermanentDecode   = errors.New("permanent decode error")
	ErrLeaseLost         = errors.New("lease lost")
	ErrNotFound          = errors.New("task not found")
)
