package sdr

import (
	"fmt"
)

// ConfigurationError is returned before the pipeline is built when the
// configuration is invalid or contradictory.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// FramingViolation is raised when a stage changes the number of frames it
// was given. It is fatal: frequency tagging can no longer be trusted.
type FramingViolation struct {
	Stage string
	Want  int
	Got   int
}

func (e *FramingViolation) Error() string {
	return fmt.Sprintf("stage %q changed framing: want %d frames, got %d", e.Stage, e.Want, e.Got)
}

// SourceFailure wraps errors of the sample source.
type SourceFailure struct {
	Source string
	Err    error
}

func (e *SourceFailure) Error() string {
	return fmt.Sprintf("source %s failed: %s", e.Source, e.Err)
}

func (e *SourceFailure) Unwrap() error { return e.Err }

// SinkFailure wraps errors of an output sink. It never stops the scheduler.
type SinkFailure struct {
	Sink string
	Err  error
}

func (e *SinkFailure) Error() string {
	return fmt.Sprintf("sink %s failed: %s", e.Sink, e.Err)
}

func (e *SinkFailure) Unwrap() error { return e.Err }
