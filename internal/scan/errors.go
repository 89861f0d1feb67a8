package scan

import "errors"

var (
	ErrNoAssets          = errors.New("no scannable assets")
	ErrInvalidAsset      = errors.New("invalid asset")
	ErrEngineUnavailable = errors.New("scanning engine unavailable")
	ErrNotFound          = errors.New("scan not found")
	ErrForbidden         = errors.New("access denied")
	ErrInvalidState      = errors.New("scan is already finished")
	ErrTimeout           = errors.New("scan timed out")
	ErrShuttingDown      = errors.New("scanner is shutting down")
)

// cancellation causes
var (
	errCancelledByUser = errors.New("cancelled by user")
	errShutdown        = errors.New("interrupted by shutdown")
)
