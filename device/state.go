package device

import (
	"sync"

	"i4.energy/across/modemd/mode"
)

// Dialect selects which access technology query is tried.
type Dialect int

const (
	DialectPrimary Dialect = iota
	DialectSecondary
)

func (d Dialect) String() string {
	switch d {
	case DialectPrimary:
		return "primary"
	case DialectSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// State is the sticky, session scoped memory of a device: the access
// technology dialect, the sleep command once decided, the last PIN that
// worked and the supported modes. It is created on attach and dropped on
// detach.
type State struct {
	mu sync.Mutex

	dialect Dialect

	sleepCommand string
	sleepDecided bool

	pin    string
	hasPIN bool

	supported mode.Mode
}

// NewState returns the state of a freshly attached device.
func NewState() *State {
	return &State{dialect: DialectPrimary}
}

func (s *State) Dialect() Dialect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialect
}

func (s *State) SetDialect(d Dialect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialect = d
}

// SleepCommand returns the decided sleep command. An empty command with ok
// set means the device has none.
func (s *State) SleepCommand() (cmd string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleepCommand, s.sleepDecided
}

// DecideSleepCommand records cmd unless a command was already decided, and
// returns the command in effect.
func (s *State) DecideSleepCommand(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sleepDecided {
		s.sleepCommand = cmd
		s.sleepDecided = true
	}
	return s.sleepCommand
}

func (s *State) PIN() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin, s.hasPIN
}

func (s *State) SetPIN(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin = pin
	s.hasPIN = true
}

func (s *State) ClearPIN() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin = ""
	s.hasPIN = false
}

func (s *State) SupportedModes() mode.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supported
}

func (s *State) SetSupportedModes(m mode.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supported = m
}
