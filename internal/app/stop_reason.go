package app

import (
	"os"
	"syscall"
)

// StopReason is logged on shutdown and picks the process exit code.
type StopReason string

const (
	StopCompleted   StopReason = "completed"
	StopFailures    StopReason = "completed_with_failures"
	StopSIGINT      StopReason = "sigint"
	StopSIGTERM     StopReason = "sigterm"
	StopFatalError  StopReason = "fatal_error"
	StopInterrupted StopReason = "interrupted"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitStartup     = 1
	ExitFailures    = 2
	ExitInterrupted = 130
)

// ExitCode maps a stop reason to the process exit status.
func (r StopReason) ExitCode() int {
	switch r {
	case StopCompleted:
		return ExitOK
	case StopFailures:
		return ExitFailures
	case StopSIGINT, StopSIGTERM, StopInterrupted:
		return ExitInterrupted
	default:
		return ExitStartup
	}
}

// ReasonForSignal names the stop reason of a received signal.
func ReasonForSignal(sig os.Signal) StopReason {
	if sig == syscall.SIGTERM {
		return StopSIGTERM
	}
	return StopSIGINT
}
