package modem_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/modemd/modem"
)

// MockSequenceBuilder collects ordered Write/Read expectations of a command
// exchange on a MockTransport, one reply per command.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Reply expects wire to be written and answers it with resp in one read.
func (b *MockSequenceBuilder) Reply(wire, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(wire)).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

// AT answers the wake-up command while echo is still on.
func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Reply("AT\r", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Reply("ATE0\r", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Reply("AT+CMEE=2\r", "OK\r\n")
}

// NotResponding answers the wake-up command with ERROR.
func (b *MockSequenceBuilder) NotResponding() *MockSequenceBuilder {
	return b.Reply("AT\r", "ERROR\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls returns the transport calls of a successful init sequence.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOff().
		VerboseErrors().
		Build()
}
