package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/modemd/device"
	"i4.energy/across/modemd/modem"
	"i4.energy/across/modemd/session"
	"i4.energy/across/modemd/sms"
)

const (
	pduSingle = "07911326040000F0040B911346610089F60000208062917314080CC8F71D14969741F977FD07"
	pduPart1  = "00440B911346610089F6000420806291731408080500030702016869"
	pduPart2  = "00440B911346610089F6000420806291731408080500030702027969"
)

// command matches a modem.Request by its command text.
type command string

func (c command) Matches(x any) bool {
	r, ok := x.(modem.Request)
	return ok && r.Command == string(c)
}

func (c command) String() string { return "request " + string(c) }

// rawPrefix matches a raw request starting with the given text.
type rawPrefix string

func (p rawPrefix) Matches(x any) bool {
	r, ok := x.(modem.Request)
	return ok && r.Raw && strings.HasPrefix(r.Command, string(p))
}

func (p rawPrefix) String() string { return "raw request " + string(p) }

func fastPoll() session.PollConfig {
	return session.PollConfig{Interval: time.Millisecond, Timeout: 100 * time.Millisecond}
}

// expectAttach expects the generic attach sequence with the given stored
// message listing.
func expectAttach(ex *device.MockExchange, stored string) {
	gomock.InOrder(
		ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: READY", nil),
		ex.EXPECT().Submit(gomock.Any(), command("AT+CMGF=0")).Return("", nil),
		ex.EXPECT().Submit(gomock.Any(), command("AT+CNMI=2,1")).Return("", nil),
		ex.EXPECT().Submit(gomock.Any(), command("+CMGL=4")).Return(stored, nil),
	)
}

func attach(t *testing.T, stored string, listeners ...sms.Listener) (*session.Session, *device.MockExchange) {
	t.Helper()
	ex := device.NewMockExchange(gomock.NewController(t))
	expectAttach(ex, stored)

	s, err := session.Attach(context.Background(), ex, session.Config{Listeners: listeners, SIMPoll: fastPoll()})
	require.NoError(t, err)
	return s, ex
}

func TestAttach(t *testing.T) {
	t.Run("Loads stored messages", func(t *testing.T) {
		var events []sms.Event
		stored := strings.Join([]string{
			"+CMGL: 1,1,,24",
			pduSingle,
			"+CMGL: 2,1,,26",
			pduPart1,
			"+CMGL: 3,1,,26",
			"not a pdu",
		}, "\n")

		s, _ := attach(t, stored, func(e sms.Event) { events = append(events, e) })

		assert.Equal(t, "generic", s.Vendor())
		assert.Equal(t, 2, s.Messages().Len())
		require.Len(t, events, 2)
		for _, e := range events {
			assert.Equal(t, sms.Added, e.Kind)
			assert.False(t, e.Received)
		}
	})

	t.Run("Fills the given message list", func(t *testing.T) {
		ex := device.NewMockExchange(gomock.NewController(t))
		expectAttach(ex, "+CMGL: 1,1,,24\n"+pduSingle)

		list := sms.NewList(nil)
		var events []sms.Event
		list.Subscribe(func(e sms.Event) { events = append(events, e) })

		s, err := session.Attach(context.Background(), ex, session.Config{Messages: list, SIMPoll: fastPoll()})
		require.NoError(t, err)

		assert.Same(t, list, s.Messages())
		require.Len(t, events, 1)
		assert.Equal(t, sms.Added, events[0].Kind)
		assert.False(t, events[0].Received)
	})

	t.Run("Unlocks the SIM with the configured PIN", func(t *testing.T) {
		ex := device.NewMockExchange(gomock.NewController(t))
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: SIM PIN", nil),
			ex.EXPECT().Submit(gomock.Any(), command(`+CPIN="1234"`)).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: SIM PIN", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: READY", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CMGF=0")).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CNMI=2,1")).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("+CMGL=4")).Return("", nil),
		)

		_, err := session.Attach(context.Background(), ex, session.Config{PIN: "1234", SIMPoll: fastPoll()})
		require.NoError(t, err)
	})

	t.Run("SIM PIN required without PIN", func(t *testing.T) {
		ex := device.NewMockExchange(gomock.NewController(t))
		ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: SIM PIN", nil)

		_, err := session.Attach(context.Background(), ex, session.Config{})
		assert.ErrorIs(t, err, session.ErrSIMPinRequired)
	})

	t.Run("PUK is not handled", func(t *testing.T) {
		ex := device.NewMockExchange(gomock.NewController(t))
		ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: SIM PUK", nil)

		_, err := session.Attach(context.Background(), ex, session.Config{PIN: "1234"})
		assert.ErrorContains(t, err, "unsupported SIM state")
	})

	t.Run("Vendor setup failure aborts", func(t *testing.T) {
		ex := device.NewMockExchange(gomock.NewController(t))
		ex.EXPECT().Submit(gomock.Any(), command(`\Q3`)).
			Return("", &modem.CommandError{Command: `\Q3`, Result: "ERROR"})

		_, err := session.Attach(context.Background(), ex, session.Config{Vendor: "cinterion"})
		assert.ErrorIs(t, err, modem.ErrCommandFailed)
		assert.ErrorContains(t, err, "vendor setup")
	})

	t.Run("Unknown vendor", func(t *testing.T) {
		ex := device.NewMockExchange(gomock.NewController(t))

		_, err := session.Attach(context.Background(), ex, session.Config{Vendor: "nokia"})
		assert.ErrorIs(t, err, device.ErrUnknownVendor)
	})
}

func TestHandleURC(t *testing.T) {
	t.Run("New message parts complete a message", func(t *testing.T) {
		var events []sms.Event
		s, ex := attach(t, "", func(e sms.Event) { events = append(events, e) })
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command("+CMGR=4")).Return("+CMGR: 0,,26\n"+pduPart2, nil),
			ex.EXPECT().Submit(gomock.Any(), command("+CMGR=5")).Return("+CMGR: 0,,26\n"+pduPart1, nil),
		)

		require.NoError(t, s.HandleURC(context.Background(), `+CMTI: "SM",4`))
		require.NoError(t, s.HandleURC(context.Background(), `+CMTI: "ME", 5`))

		require.Len(t, events, 2)
		assert.Equal(t, sms.Event{Kind: sms.Added, ID: events[0].ID, Received: true}, events[0])
		assert.Equal(t, sms.Event{Kind: sms.Completed, ID: events[0].ID}, events[1])

		msg, ok := s.Messages().Get(events[0].ID)
		require.True(t, ok)
		assert.Equal(t, "hiyo", msg.Text())
	})

	t.Run("Same index twice is rejected", func(t *testing.T) {
		s, ex := attach(t, "")
		ex.EXPECT().Submit(gomock.Any(), command("+CMGR=4")).Return("+CMGR: 0,,24\n"+pduSingle, nil).Times(2)

		require.NoError(t, s.HandleURC(context.Background(), `+CMTI: "SM",4`))
		err := s.HandleURC(context.Background(), `+CMTI: "SM",4`)
		assert.ErrorIs(t, err, sms.ErrDuplicateIndex)
		assert.Equal(t, 1, s.Messages().Len())
	})

	t.Run("Other URCs are ignored", func(t *testing.T) {
		s, _ := attach(t, "")
		assert.NoError(t, s.HandleURC(context.Background(), "+CIEV: psinfo,6"))
	})

	t.Run("Malformed indication", func(t *testing.T) {
		s, _ := attach(t, "")
		assert.Error(t, s.HandleURC(context.Background(), `+CMTI: "SM"`))
	})
}

func TestDeleteMessage(t *testing.T) {
	t.Run("Deletes every part", func(t *testing.T) {
		var events []sms.Event
		stored := "+CMGL: 2,1,,26\n" + pduPart1 + "\n+CMGL: 3,1,,26\n" + pduPart2
		s, ex := attach(t, stored, func(e sms.Event) { events = append(events, e) })
		require.Len(t, events, 2)
		id := events[0].ID

		ex.EXPECT().Submit(gomock.Any(), command("+CMGD=2")).Return("", nil)
		ex.EXPECT().Submit(gomock.Any(), command("+CMGD=3")).Return("", nil)

		require.NoError(t, s.DeleteMessage(context.Background(), id))
		assert.Equal(t, sms.Event{Kind: sms.Deleted, ID: id}, events[2])
		assert.Zero(t, s.Messages().Len())
	})

	t.Run("Failed delete keeps the message", func(t *testing.T) {
		var events []sms.Event
		s, ex := attach(t, "+CMGL: 1,1,,24\n"+pduSingle, func(e sms.Event) { events = append(events, e) })
		ex.EXPECT().Submit(gomock.Any(), command("+CMGD=1")).
			Return("", &modem.CommandError{Command: "+CMGD=1", Result: "+CMS ERROR: 321"})

		err := s.DeleteMessage(context.Background(), events[0].ID)
		assert.ErrorIs(t, err, modem.ErrCommandFailed)
		assert.Equal(t, 1, s.Messages().Len())
	})
}

func TestSendMessage(t *testing.T) {
	t.Run("Sends a PDU after the prompt", func(t *testing.T) {
		s, ex := attach(t, "")
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req modem.Request) (string, error) {
					assert.True(t, strings.HasPrefix(req.Command, "+CMGS="))
					return "> ", nil
				}),
			ex.EXPECT().Submit(gomock.Any(), rawPrefix("00")).DoAndReturn(
				func(_ context.Context, req modem.Request) (string, error) {
					assert.True(t, strings.HasSuffix(req.Command, "\x1a"))
					return "+CMGS: 42", nil
				}),
		)

		refs, err := s.SendMessage(context.Background(), "+31641600986", "hello")
		require.NoError(t, err)
		assert.Equal(t, []int{42}, refs)
	})

	t.Run("Missing prompt", func(t *testing.T) {
		s, ex := attach(t, "")
		ex.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", nil)

		_, err := s.SendMessage(context.Background(), "+31641600986", "hello")
		assert.ErrorContains(t, err, "did not receive SMS prompt")
	})

	t.Run("Requires number and text", func(t *testing.T) {
		s, _ := attach(t, "")
		_, err := s.SendMessage(context.Background(), "", "hello")
		assert.Error(t, err)
	})
}

func TestPowerCycle(t *testing.T) {
	t.Run("Sierra replays the PIN after power up", func(t *testing.T) {
		ex := device.NewMockExchange(gomock.NewController(t))
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: SIM PIN", nil),
			ex.EXPECT().Submit(gomock.Any(), command(`+CPIN="0000"`)).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: READY", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CMGF=0")).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CNMI=2,1")).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("+CMGL=4")).Return("", nil),

			ex.EXPECT().Submit(gomock.Any(), command("+CFUN=4")).Return("", nil),

			ex.EXPECT().Submit(gomock.Any(), command("+CFUN=1")).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: SIM PIN", nil),
			ex.EXPECT().Submit(gomock.Any(), command(`+CPIN="0000"`)).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: READY", nil),
		)

		s, err := session.Attach(context.Background(), ex, session.Config{
			VendorID: device.VendorIDSierra,
			PIN:      "0000",
			SIMPoll:  fastPoll(),
		})
		require.NoError(t, err)
		assert.Equal(t, "sierra", s.Vendor())

		require.NoError(t, s.PowerDown(context.Background()))
		require.NoError(t, s.PowerUp(context.Background()))
	})

	t.Run("Generic cannot replay", func(t *testing.T) {
		s, ex := attach(t, "")
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command("+CFUN=1")).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: SIM PIN", nil),
		)

		err := s.PowerUp(context.Background())
		assert.ErrorIs(t, err, device.ErrMissingCredential)
	})

	t.Run("Ready SIM needs nothing", func(t *testing.T) {
		s, ex := attach(t, "")
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command("+CFUN=1")).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("AT+CPIN?")).Return("+CPIN: READY", nil),
		)

		require.NoError(t, s.PowerUp(context.Background()))
	})
}

func TestDetach(t *testing.T) {
	s, _ := attach(t, "")
	s.Detach()
	s.Detach()

	_, _, err := s.LoadModes(context.Background())
	assert.ErrorIs(t, err, session.ErrDetached)
	assert.True(t, errors.Is(s.PowerDown(context.Background()), session.ErrDetached))
	_, err = s.SendMessage(context.Background(), "+31641600986", "hello")
	assert.ErrorIs(t, err, session.ErrDetached)
}

func TestSessionPassThrough(t *testing.T) {
	s, ex := attach(t, "")
	ex.EXPECT().Submit(gomock.Any(), command("+COPS?")).Return(`+COPS: 0,0,"Op",7`, nil)
	ex.EXPECT().Submit(gomock.Any(), command("+CCID")).Return("+CCID: 89014103211118510720", nil)

	_, err := s.LoadAccessTechnology(context.Background())
	require.NoError(t, err)
	iccid, err := s.LoadIdentifier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "89014103211118510720", iccid)

	assert.ErrorIs(t, s.SetModes(context.Background(), 0, 0), device.ErrNotSupported)
	_, err = s.LoadSupportedModes(context.Background())
	assert.ErrorIs(t, err, device.ErrNotSupported)
}
