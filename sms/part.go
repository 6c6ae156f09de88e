// Package sms reassembles multipart short messages from the parts the
// device stores, and converts parts from and to PDU mode.
package sms

import "time"

// Concat is the concatenation header of one part of a multipart message.
type Concat struct {
	// Reference groups the parts of one message.
	Reference uint16
	// Max is the declared number of parts, at least 1.
	Max uint8
	// Sequence is the 1-based position of the part.
	Sequence uint8
}

// Part is one stored fragment of a message.
type Part struct {
	// Index is the storage index assigned by the device, unique per session.
	Index uint32
	// Concat is nil for single part messages.
	Concat *Concat

	Number    string
	Timestamp time.Time
	Text      string
}

// ShouldConcat reports whether the part belongs to a multipart message.
func (p *Part) ShouldConcat() bool {
	return p.Concat != nil
}

func (p *Part) validate() error {
	if p.Concat == nil {
		return nil
	}
	if p.Concat.Max < 1 {
		return &PartError{Index: p.Index, Reason: "concatenation max count is zero", Err: ErrInvalidPart}
	}
	if p.Concat.Sequence < 1 || p.Concat.Sequence > p.Concat.Max {
		return &PartError{Index: p.Index, Reason: "sequence out of range", Err: ErrInvalidPart}
	}
	return nil
}
