package workflow

import "errors"

// Session errors.
var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidStep     = errors.New("invalid workflow step")
)

// Persistence errors.
var (
	ErrUnsupportedSchema = errors.New("unsupported session state schema version")
)

// Patch errors.
var (
	ErrInvalidScenario = errors.New("invalid scenario")
)
