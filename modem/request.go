package modem

import (
	"time"

	"i4.energy/across/modemd/at"
)

// Request describes one command for the exchange.
type Request struct {
	// Command is the literal vendor command. The "AT" prefix is optional.
	Command string
	// Timeout bounds the wait for the reply once the command is written.
	// Zero means the configured AT timeout.
	Timeout time.Duration
	// Priority puts the command at the front of the queue, ahead of
	// everything not yet written. Used for recovery commands.
	Priority bool
	// AllowCached answers from the last successful reply to the same
	// command text, if there is one, without touching the device.
	AllowCached bool
	// Raw sends Command exactly as given, e.g. a PDU body after a prompt.
	Raw bool
}

func (r Request) wire() string {
	if r.Raw {
		return r.Command
	}
	return at.WithPrefix(r.Command)
}
