package device_test

import (
	"testing"

	"go.uber.org/mock/gomock"

	"i4.energy/across/modemd/device"
	"i4.energy/across/modemd/modem"
)

// command matches a modem.Request by its command text.
type command string

func (c command) Matches(x any) bool {
	r, ok := x.(modem.Request)
	return ok && r.Command == string(c)
}

func (c command) String() string {
	return "request " + string(c)
}

var _ gomock.Matcher = command("")

func newMockExchange(t *testing.T) *device.MockExchange {
	t.Helper()
	return device.NewMockExchange(gomock.NewController(t))
}

func newVariant(t *testing.T, name string) (device.Capabilities, *device.MockExchange, *device.State) {
	t.Helper()
	ex := newMockExchange(t)
	state := device.NewState()
	caps, err := device.New(ex, state, device.Options{Name: name})
	if err != nil {
		t.Fatalf("unexpected error selecting %s: %v", name, err)
	}
	return caps, ex, state
}
