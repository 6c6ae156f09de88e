package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if initialization failed or if the Dialer handed back
	// no Transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and as the cause of a TransportError for commands
	// submitted after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still serving the same Modem.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrTransport matches every TransportError: the command never produced
	// a reply because it timed out, was cancelled or the port went away.
	ErrTransport = errors.New("transport failure")

	// ErrCommandFailed matches every CommandError: the device executed the
	// command and answered with a non-success result code.
	ErrCommandFailed = errors.New("command failed")
)

// TransportError reports a command that did not complete on the wire.
//
// It matches both ErrTransport and its cause with errors.Is, so callers can
// test for context.DeadlineExceeded or context.Canceled directly.
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Command, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// CommandError reports a non-success final result code such as ERROR or
// "+CME ERROR: 10". Response holds any information lines that preceded it.
type CommandError struct {
	Command  string
	Result   string
	Response string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCommandFailed, e.Command, e.Result)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}
