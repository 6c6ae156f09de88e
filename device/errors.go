package device

import (
	"errors"
	"fmt"

	"i4.energy/across/modemd/mode"
)

var (
	// ErrParse matches every ParseError: the device answered, but not in
	// the grammar expected for the command.
	ErrParse = errors.New("unexpected response")

	// ErrUnsupportedRequest matches every ModeError.
	ErrUnsupportedRequest = errors.New("unsupported request")

	// ErrMissingCredential is returned when a PIN replay is requested and no
	// PIN is cached. The device is not contacted.
	ErrMissingCredential = errors.New("no cached PIN found")

	// ErrNotSupported is returned by operations a vendor does not provide.
	ErrNotSupported = errors.New("operation not supported")

	// ErrUnknownVendor is returned when a vendor name matches no variant.
	ErrUnknownVendor = errors.New("unknown vendor")
)

// ParseError carries the literal device text that failed to parse.
type ParseError struct {
	Command  string
	Response string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s: '%s'", ErrParse, e.Reason, e.Response)
	}
	return fmt.Sprintf("%s: %s: %s: '%s'", ErrParse, e.Command, e.Reason, e.Response)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// ModeError reports an (allowed, preferred) pair that has no vendor code.
type ModeError struct {
	Allowed   mode.Mode
	Preferred mode.Mode
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("requested mode (allowed: '%s', preferred: '%s') not supported by the modem",
		e.Allowed, e.Preferred)
}

func (e *ModeError) Unwrap() error {
	return ErrUnsupportedRequest
}
