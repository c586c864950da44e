package round

import "errors"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrRoundNotFound    = errors.New("round not found")
	ErrRoundNotStarted  = errors.New("round has not started")
	ErrRoundFinalized   = errors.New("round already finalized")
	ErrNotEnoughContent = errors.New("not enough content for round")
	// ErrPersistFatal marks a failed critical write. The operation is aborted
	// and the caller is expected to retry.
	ErrPersistFatal = errors.New("round state could not be persisted")
)
