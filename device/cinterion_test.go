package device_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/modemd/device"
	"i4.energy/across/modemd/mode"
	"i4.energy/across/modemd/modem"
)

const (
	sindWithPsinfo = "^SIND: battchg,1,5\n^SIND: signal,1,99\n^SIND: psinfo,0,6\n^SIND: simstatus,1,5"
	sindNoPsinfo   = "^SIND: battchg,1,5\n^SIND: signal,1,99\n^SIND: simstatus,1,5"
	smongTable     = "GPRS Monitor\nBCCH  G  PBCCH  PAT MCC  MNC  NOM  TA      RAC    # Cell #\n0776  3  -      -   214   03  2    00      01"
)

func TestCinterionAccessTechnology(t *testing.T) {
	t.Run("Starts with the psinfo indicator", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		ex.EXPECT().Submit(gomock.Any(), command("^SIND?")).Return(sindWithPsinfo, nil)

		tech, err := caps.LoadAccessTechnology(context.Background())
		require.NoError(t, err)
		assert.Equal(t, mode.TechUMTS, tech)
		assert.Equal(t, device.DialectPrimary, state.Dialect())
	})

	t.Run("Missing psinfo switches the next call to SMONG", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command("^SIND?")).Return(sindNoPsinfo, nil),
			ex.EXPECT().Submit(gomock.Any(), command("^SMONG")).Return(smongTable, nil),
			ex.EXPECT().Submit(gomock.Any(), command("^SIND?")).Return(sindWithPsinfo, nil),
		)

		_, err := caps.LoadAccessTechnology(context.Background())
		assert.ErrorIs(t, err, device.ErrParse)
		assert.Equal(t, device.DialectSecondary, state.Dialect())

		tech, err := caps.LoadAccessTechnology(context.Background())
		require.NoError(t, err)
		assert.Equal(t, mode.TechEDGE, tech)
		assert.Equal(t, device.DialectPrimary, state.Dialect())

		tech, err = caps.LoadAccessTechnology(context.Background())
		require.NoError(t, err)
		assert.Equal(t, mode.TechUMTS, tech)
	})

	t.Run("Unparsable SMONG keeps the dialect", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		state.SetDialect(device.DialectSecondary)
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command("^SMONG")).Return("garbage", nil),
			ex.EXPECT().Submit(gomock.Any(), command("^SMONG")).Return(smongTable, nil),
		)

		_, err := caps.LoadAccessTechnology(context.Background())
		assert.ErrorIs(t, err, device.ErrParse)
		assert.Equal(t, device.DialectSecondary, state.Dialect())

		_, err = caps.LoadAccessTechnology(context.Background())
		require.NoError(t, err)
	})

	t.Run("Exchange failures never change the dialect", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		cancelled := &modem.TransportError{Command: "^SIND?", Err: context.Canceled}
		ex.EXPECT().Submit(gomock.Any(), command("^SIND?")).Return("", cancelled)

		_, err := caps.LoadAccessTechnology(context.Background())
		assert.ErrorIs(t, err, modem.ErrTransport)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, device.DialectPrimary, state.Dialect())

		state.SetDialect(device.DialectSecondary)
		rejected := &modem.CommandError{Command: "^SMONG", Result: "ERROR"}
		ex.EXPECT().Submit(gomock.Any(), command("^SMONG")).Return("", rejected)

		_, err = caps.LoadAccessTechnology(context.Background())
		assert.ErrorIs(t, err, modem.ErrCommandFailed)
		assert.Equal(t, device.DialectSecondary, state.Dialect())
	})

	t.Run("Out of table codes fail without switching", func(t *testing.T) {
		for _, resp := range []string{
			"^SIND: psinfo,0,9",
			"^SIND: psinfo,0,10",
			"^SIND: psinfo,0,",
		} {
			caps, ex, state := newVariant(t, "cinterion")
			ex.EXPECT().Submit(gomock.Any(), command("^SIND?")).Return(resp, nil)

			_, err := caps.LoadAccessTechnology(context.Background())
			assert.ErrorIs(t, err, device.ErrParse, resp)
			assert.Equal(t, device.DialectPrimary, state.Dialect(), resp)
		}

		caps, ex, state := newVariant(t, "cinterion")
		state.SetDialect(device.DialectSecondary)
		ex.EXPECT().Submit(gomock.Any(), command("^SMONG")).
			Return("GPRS Monitor\nBCCH  G  PBCCH\n0776  5  -", nil)

		_, err := caps.LoadAccessTechnology(context.Background())
		assert.ErrorIs(t, err, device.ErrParse)
		assert.Equal(t, device.DialectSecondary, state.Dialect())
	})

	t.Run("Decodes every psinfo tier", func(t *testing.T) {
		expected := map[string]mode.AccessTechnology{
			"0": mode.TechUnknown,
			"1": mode.TechGPRS, "2": mode.TechGPRS,
			"3": mode.TechEDGE, "4": mode.TechEDGE,
			"5": mode.TechUMTS, "6": mode.TechUMTS,
			"7": mode.TechHSDPA, "8": mode.TechHSDPA,
		}
		for code, want := range expected {
			caps, ex, _ := newVariant(t, "cinterion")
			ex.EXPECT().Submit(gomock.Any(), command("^SIND?")).Return("^SIND: psinfo,0,"+code, nil)

			tech, err := caps.LoadAccessTechnology(context.Background())
			require.NoError(t, err, code)
			assert.Equal(t, want, tech, code)
		}
	})
}

func TestCinterionPowerDown(t *testing.T) {
	t.Run("Probes once and reuses the command", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		ex.EXPECT().Submit(gomock.Any(), command("+CFUN=?")).Return("+CFUN: (0,1,4),(0,1)", nil).Times(1)
		ex.EXPECT().SubmitIgnoreReply(command("+CFUN=4")).Times(2)

		require.NoError(t, caps.PowerDown(context.Background()))
		require.NoError(t, caps.PowerDown(context.Background()))

		cmd, ok := state.SleepCommand()
		assert.True(t, ok)
		assert.Equal(t, "+CFUN=4", cmd)
	})

	t.Run("Falls back to cyclic sleep", func(t *testing.T) {
		caps, ex, _ := newVariant(t, "cinterion")
		ex.EXPECT().Submit(gomock.Any(), command("+CFUN=?")).Return("+CFUN: (0,1,7,8,9),(0,1)", nil)
		ex.EXPECT().SubmitIgnoreReply(command("+CFUN=7"))

		require.NoError(t, caps.PowerDown(context.Background()))
	})

	t.Run("No sleep level sends nothing", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		ex.EXPECT().Submit(gomock.Any(), command("+CFUN=?")).Return("+CFUN: (0,1),(0,1)", nil).Times(1)

		require.NoError(t, caps.PowerDown(context.Background()))
		require.NoError(t, caps.PowerDown(context.Background()))

		cmd, ok := state.SleepCommand()
		assert.True(t, ok)
		assert.Empty(t, cmd)
	})

	t.Run("Failed probe decides on no command", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		ex.EXPECT().Submit(gomock.Any(), command("+CFUN=?")).
			Return("", &modem.CommandError{Command: "+CFUN=?", Result: "ERROR"})

		require.NoError(t, caps.PowerDown(context.Background()))

		cmd, ok := state.SleepCommand()
		assert.True(t, ok)
		assert.Empty(t, cmd)
	})

	t.Run("Cancelled probe records nothing", func(t *testing.T) {
		caps, ex, state := newVariant(t, "cinterion")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ex.EXPECT().Submit(gomock.Any(), command("+CFUN=?")).
			Return("", &modem.TransportError{Command: "+CFUN=?", Err: context.Canceled})

		require.NoError(t, caps.PowerDown(ctx))

		_, ok := state.SleepCommand()
		assert.False(t, ok)
	})
}

func TestCinterionSupportedModes(t *testing.T) {
	tests := []struct {
		response string
		expected mode.Mode
	}{
		{"+WS46: (12,22,25)", mode.Mode2G | mode.Mode3G},
		{"(12)", mode.Mode2G},
		{"+WS46: (22)", mode.Mode3G},
		{"+WS46: (25)", mode.Mode2G | mode.Mode3G},
	}
	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			caps, ex, state := newVariant(t, "cinterion")
			ex.EXPECT().Submit(gomock.Any(), command("+WS46=?")).Return(tt.response, nil)

			supported, err := caps.LoadSupportedModes(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, supported)
			assert.Equal(t, tt.expected, state.SupportedModes())
		})
	}

	t.Run("No known network is a parse error", func(t *testing.T) {
		caps, ex, _ := newVariant(t, "cinterion")
		ex.EXPECT().Submit(gomock.Any(), command("+WS46=?")).Return("+WS46: (28,29)", nil)

		_, err := caps.LoadSupportedModes(context.Background())
		assert.ErrorIs(t, err, device.ErrParse)
	})
}

func TestCinterionSetup(t *testing.T) {
	t.Run("Enables flow control and indicators", func(t *testing.T) {
		caps, ex, _ := newVariant(t, "cinterion")
		gomock.InOrder(
			ex.EXPECT().Submit(gomock.Any(), command(`\Q3`)).Return("", nil),
			ex.EXPECT().Submit(gomock.Any(), command("+CMER=3,0,0,2")).Return("", nil),
		)

		require.NoError(t, caps.Setup(context.Background()))
	})

	t.Run("Flow control failure is fatal", func(t *testing.T) {
		caps, ex, _ := newVariant(t, "cinterion")
		ex.EXPECT().Submit(gomock.Any(), command(`\Q3`)).
			Return("", &modem.CommandError{Command: `\Q3`, Result: "ERROR"})

		err := caps.Setup(context.Background())
		assert.ErrorIs(t, err, modem.ErrCommandFailed)
		assert.ErrorContains(t, err, "enable flow control")
	})
}
