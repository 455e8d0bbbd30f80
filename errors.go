package interius

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("interius: no store configured")
	ErrStoreClosed     = errors.New("interius: store closed")
	ErrMigrationFailed = errors.New("interius: migration failed")

	// Not found errors.
	ErrRunNotFound        = errors.New("interius: run not found")
	ErrCheckpointNotFound = errors.New("interius: checkpoint not found")
	ErrEventNotFound      = errors.New("interius: event not found")
	ErrExecutorNotFound   = errors.New("interius: stage executor not registered")

	// Input errors.
	ErrInvalidInput  = errors.New("interius: invalid input")
	ErrPromptTooLong = errors.New("interius: prompt exceeds maximum length")

	// Conflict errors.
	ErrRunAlreadyExists   = errors.New("interius: run already exists")
	ErrEventAlreadyExists = errors.New("interius: event sequence already recorded")

	// State errors.
	ErrInvalidState  = errors.New("interius: invalid state transition")
	ErrRunNotRunning = errors.New("interius: run is not running")
	ErrRunTerminal   = errors.New("interius: run already terminal")

	// Execution errors.
	ErrStageExecution = errors.New("interius: stage execution failed")
	ErrStageTimeout   = errors.New("interius: stage timed out")

	// Admission errors.
	ErrTooManyRuns = errors.New("interius: too many concurrent runs")

	// Transport errors.
	ErrTransportInterrupted = errors.New("interius: transport interrupted")
)
