package failure

import "strconv"

// Process exit codes reported by the CLI.
const (
	ExitOK             = 0
	ExitInternal       = 1
	ExitFailed         = 2
	ExitTimedOut       = 3
	ExitProvisionError = 4
	ExitCancelled      = 5
	ExitBuildFailure   = 10
	ExitAuthFailure    = 11
	ExitPublishFailure = 12
	ExitDegraded       = 13
)

// ExitCode maps an error kind to the CLI exit code.
func ExitCode(kind Kind) int {
	switch kind {
	case KindTimeoutExceeded, KindRolloutTimedOut:
		return ExitTimedOut
	case KindProvisionError, KindProvisionTimeout:
		return ExitProvisionError
	case KindCancelled:
		return ExitCancelled
	case KindBuildFailure:
		return ExitBuildFailure
	case KindAuthFailure:
		return ExitAuthFailure
	case KindPublishFailure, KindPublishRejected:
		return ExitPublishFailure
	case KindRolloutDegraded:
		return ExitDegraded
	case KindInvalidDefinition:
		return ExitInternal
	default:
		return ExitFailed
	}
}

// ExitError carries a process exit code through cobra's error return.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

