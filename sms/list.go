package sms

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// EventKind is the lifecycle step a message went through.
type EventKind int

const (
	Added EventKind = iota
	Completed
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Completed:
		return "completed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is published to listeners when a message is added, completed or
// deleted. Received is only meaningful for Added: it tells a message that
// just arrived from one loaded from storage.
type Event struct {
	Kind     EventKind
	ID       uuid.UUID
	Received bool
}

// Listener receives list events. It is called synchronously, after the
// list lock is released, and must not block or change the list.
type Listener func(Event)

// List holds the messages of a session, most recent first.
//
// A storage index is held by at most one message of the list.
type List struct {
	// emitMu keeps events in the order the list changed
	emitMu sync.Mutex

	mu        sync.Mutex
	messages  []*Message
	listeners map[int]Listener
	nextID    int
	logger    *slog.Logger
}

func NewList(logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &List{
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Subscribe registers l and returns a function that removes it.
func (l *List) Subscribe(listener Listener) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = listener
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners, id)
	}
}

// TakePart adds a part to the list. Single parts become a new message.
// Multipart parts join the message with the same reference, or start one.
//
// Added is emitted for a new message, Completed whenever the message holds
// all its parts after the part was taken. On error the list is unchanged
// and nothing is emitted.
func (l *List) TakePart(part Part, received bool) error {
	if err := part.validate(); err != nil {
		return err
	}
	if part.Concat != nil {
		c := *part.Concat
		part.Concat = &c
	}

	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	events, err := l.takePart(part, received)
	if err != nil {
		return err
	}
	l.emit(events)
	return nil
}

func (l *List) takePart(part Part, received bool) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.messages {
		if m.HasPartIndex(part.Index) {
			return nil, &PartError{
				Index:  part.Index,
				Reason: fmt.Sprintf("a part with index %d was already taken", part.Index),
				Err:    ErrDuplicateIndex,
			}
		}
	}

	var events []Event

	if !part.ShouldConcat() {
		m := newSingle(part)
		l.messages = slices.Insert(l.messages, 0, m)
		l.logger.Debug("message added", "id", m.id, "index", part.Index)
		events = append(events, Event{Kind: Added, ID: m.id, Received: received})
		return l.appendCompleted(events, m), nil
	}

	m := l.findMultipart(part.Concat.Reference)
	if m != nil {
		if err := m.takePart(part); err != nil {
			return nil, err
		}
		l.logger.Debug("part taken", "id", m.id, "index", part.Index,
			"sequence", part.Concat.Sequence, "max", part.Concat.Max)
	} else {
		m = newMultipart(part)
		l.messages = slices.Insert(l.messages, 0, m)
		l.logger.Debug("multipart message added", "id", m.id, "index", part.Index,
			"reference", part.Concat.Reference, "max", part.Concat.Max)
		events = append(events, Event{Kind: Added, ID: m.id, Received: received})
	}

	return l.appendCompleted(events, m), nil
}

// appendCompleted only reports multipart completion; a single part message
// is complete from the start and has no completion step.
func (l *List) appendCompleted(events []Event, m *Message) []Event {
	if m.multipart && m.IsComplete() {
		l.logger.Debug("multipart message completed", "id", m.id, "reference", m.reference)
		events = append(events, Event{Kind: Completed, ID: m.id})
	}
	return events
}

func (l *List) findMultipart(reference uint16) *Message {
	for _, m := range l.messages {
		if m.multipart && m.reference == reference {
			return m
		}
	}
	return nil
}

// Delete removes a message and emits Deleted.
func (l *List) Delete(id uuid.UUID) error {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	l.mu.Lock()
	i := slices.IndexFunc(l.messages, func(m *Message) bool { return m.id == id })
	if i < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.messages = slices.Delete(l.messages, i, i+1)
	l.mu.Unlock()

	l.emit([]Event{{Kind: Deleted, ID: id}})
	return nil
}

// Get returns a copy of the message with the given ID.
func (l *List) Get(id uuid.UUID) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.id == id {
			return m.clone(), true
		}
	}
	return Message{}, false
}

// Messages returns copies of all messages, most recent first.
func (l *List) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = m.clone()
	}
	return out
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func (l *List) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	listeners := make([]Listener, 0, len(l.listeners))
	ids := make([]int, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, l.listeners[id])
	}
	l.mu.Unlock()

	for _, e := range events {
		for _, listener := range listeners {
			listener(e)
		}
	}
}
