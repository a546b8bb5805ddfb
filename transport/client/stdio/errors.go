package stdio

import "fmt"

// ParseError reports a stdout line that is not a JSON-RPC message. AfterMessage is
// set once the process has written at least one valid message.
type ParseError struct {
	Line         string
	Err          error
	AfterMessage bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse process output %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExitError reports an unexpected process termination.
type ExitError struct {
	Command string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Connection terminated: process %v exited: %v", e.Command, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// SpawnError reports a process that could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %v: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
