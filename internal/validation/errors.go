package validation

import "errors"

// Engine errors.
var (
	ErrBoardNotFound        = errors.New("validation board not found")
	ErrSystemNotFound       = errors.New("system not found")
	ErrValidationInProgress = errors.New("validation already in progress")
	ErrUnknownMethod        = errors.New("unknown validation method")
	ErrInvalidCriticality   = errors.New("invalid criticality")
	ErrEngineStopped        = errors.New("validation engine stopped")
)
