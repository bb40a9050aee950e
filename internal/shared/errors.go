package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Storage errors are non-retryable within a check cycle; the
	// affected playlist is skipped and picked up next cycle.
	ErrStorage = fmt.Errorf("storage operation failed")

	// Fetch errors are isolated per playlist and retried next cycle.
	ErrFetch            = fmt.Errorf("playlist fetch failed")
	ErrPlaylistNotFound = fmt.Errorf("playlist not found")
	ErrTrackNotFound    = fmt.Errorf("track not found")

	// Download outcome classes
	ErrDownloadRetryable = fmt.Errorf("download failed")
	ErrDownloadTerminal  = fmt.Errorf("download permanently failed")
	ErrTimeout           = fmt.Errorf("operation timed out")

	// ErrCheckRunning signals a coalesced trigger: a check cycle was
	// requested while one is already in flight.
	ErrCheckRunning = fmt.Errorf("check cycle already running")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
