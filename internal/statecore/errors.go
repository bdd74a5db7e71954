package statecore

import "errors"

// Sentinel errors per spec.md §7's taxonomy, shared across packages that
// operate on State.
var (
	ErrNotRegistered      = errors.New("panel kind not registered")
	ErrDuplicateFixedID   = errors.New("duplicate fixed panel id")
	ErrInvalidPattern     = errors.New("invalid watcher pattern")
	ErrMaxCostReached     = errors.New("max cost reached")
	ErrModuleIsCore       = errors.New("module is core and cannot be deactivated")
	ErrModuleHasDependents = errors.New("module has active dependents")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrToolDisabled       = errors.New("tool disabled")
)
