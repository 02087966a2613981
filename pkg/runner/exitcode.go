package runner

import (
	"context"
	"errors"
)

// Process exit codes. Signal exits follow the 128+signal convention.
const (
	ExitOK          = 0
	ExitUsage       = -1
	ExitConfig      = 2
	ExitModelInit   = 3
	ExitOpenDir     = 4
	ExitInterrupted = 130
)

// Fatal run errors, each mapped to its own exit code
var (
	ErrUsage     = errors.New("usage error")
	ErrConfig    = errors.New("configuration error")
	ErrModelInit = errors.New("model initialisation failed")
	ErrOpenDir   = errors.New("failed to open directory")
)

// ExitCode maps a run error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrModelInit):
		return ExitModelInit
	case errors.Is(err, ErrOpenDir):
		return ExitOpenDir
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return 1
	}
}
