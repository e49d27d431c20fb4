package tank

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument matches every *InvalidArgumentError.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrExecutionFault matches every *ExecutionFaultError.
	ErrExecutionFault = errors.New("execution fault")
)

// Condition identifies which validation check failed.
type Condition string

const (
	InvalidCommand       Condition = "invalid_command"
	MissingConfiguration Condition = "missing_configuration"
	MissingExecutable    Condition = "missing_executable"
	LookupFailure        Condition = "lookup_failure"
)

// InvalidArgumentError is returned by Verify.
type InvalidArgumentError struct {
	Condition Condition
	Command   string // set for InvalidCommand
	Path      string // offending path, when there is one
	Err       error  // underlying filesystem fault for LookupFailure
}

func (e *InvalidArgumentError) Error() string {
	switch e.Condition {
	case InvalidCommand:
		return fmt.Sprintf("invalid tank command %q: must start with %q", e.Command, CommandPrefix)
	case MissingConfiguration:
		return "could not find the tank configuration on disk: " + e.Path
	case MissingExecutable:
		return "could not find the tank command on disk: " + e.Path
	default:
		return fmt.Sprintf("error finding the tank command on disk: %v", e.Err)
	}
}

func (e *InvalidArgumentError) Unwrap() error { return e.Err }

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// ExecutionFaultError wraps a failure to launch or observe the child.
type ExecutionFaultError struct {
	Script string
	Err    error
}

func (e *ExecutionFaultError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Script, e.Err)
}

func (e *ExecutionFaultError) Unwrap() error { return e.Err }

func (e *ExecutionFaultError) Is(target error) bool { return target == ErrExecutionFault }
