package sending

import "errors"

// Sentinel errors for the sending service layer.
var (
	ErrRunInProgress = errors.New("a dispatch is already running for this OA")
	ErrNotActive     = errors.New("run is not active on this instance")
	ErrShuttingDown  = errors.New("dispatcher is shutting down")
)
