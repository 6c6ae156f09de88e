package sms

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is a single part message, or a multipart message with the parts
// taken so far.
type Message struct {
	id        uuid.UUID
	multipart bool
	reference uint16
	max       uint8
	// parts are kept in sequence order
	parts []Part
}

func newSingle(p Part) *Message {
	return &Message{id: uuid.New(), parts: []Part{p}}
}

func newMultipart(p Part) *Message {
	return &Message{
		id:        uuid.New(),
		multipart: true,
		reference: p.Concat.Reference,
		max:       p.Concat.Max,
		parts:     []Part{p},
	}
}

func (m *Message) ID() uuid.UUID { return m.id }

func (m *Message) IsMultipart() bool { return m.multipart }

// Reference is the concatenation reference of a multipart message.
func (m *Message) Reference() uint16 { return m.reference }

// Max is the declared part count; 1 for single part messages.
func (m *Message) Max() int {
	if !m.multipart {
		return 1
	}
	return int(m.max)
}

// IsComplete reports whether every declared part has been taken.
func (m *Message) IsComplete() bool {
	return len(m.parts) == m.Max()
}

func (m *Message) HasPartIndex(index uint32) bool {
	for _, p := range m.parts {
		if p.Index == index {
			return true
		}
	}
	return false
}

// Parts returns the parts in sequence order.
func (m *Message) Parts() []Part {
	return slices.Clone(m.parts)
}

// Indexes returns the storage indexes of the parts.
func (m *Message) Indexes() []uint32 {
	indexes := make([]uint32, len(m.parts))
	for i, p := range m.parts {
		indexes[i] = p.Index
	}
	return indexes
}

// Text joins the text of the parts taken so far.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Number is the sender of the first part.
func (m *Message) Number() string {
	return m.parts[0].Number
}

// Timestamp is the service centre time of the first part.
func (m *Message) Timestamp() time.Time {
	return m.parts[0].Timestamp
}

func (m *Message) takePart(p Part) error {
	switch {
	case int(p.Concat.Max) != int(m.max):
		return &PartError{Index: p.Index, Reason: "max count differs from the message", Err: ErrPartConflict}
	case m.IsComplete():
		return &PartError{Index: p.Index, Reason: "message already holds all its parts", Err: ErrPartConflict}
	case m.HasPartIndex(p.Index):
		return &PartError{Index: p.Index, Reason: "index already taken", Err: ErrDuplicateIndex}
	}

	pos, found := slices.BinarySearchFunc(m.parts, p.Concat.Sequence, func(q Part, seq uint8) int {
		return int(q.Concat.Sequence) - int(seq)
	})
	if found {
		return &PartError{Index: p.Index, Reason: "sequence already taken", Err: ErrPartConflict}
	}
	m.parts = slices.Insert(m.parts, pos, p)
	return nil
}

func (m *Message) clone() Message {
	c := *m
	c.parts = slices.Clone(m.parts)
	return c
}
