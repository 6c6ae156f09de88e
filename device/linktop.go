package device

import (
	"context"
	"fmt"

	"i4.energy/across/modemd/at"
	"i4.energy/across/modemd/mode"
	"i4.energy/across/modemd/modem"
)

// Linktop selects its radio with the +CFUN functionality level.
type Linktop struct {
	base  *Generic
	modes *mode.Translator
}

var _ Capabilities = (*Linktop)(nil)

// linktopModes is the +CFUN level table. None of the levels has a
// preferred technology.
var linktopModes = mode.NewTranslator(
	mode.Setting{Code: 1, Allowed: mode.Mode2G | mode.Mode3G, Preferred: mode.None},
	mode.Setting{Code: 5, Allowed: mode.Mode2G, Preferred: mode.None},
	mode.Setting{Code: 6, Allowed: mode.Mode3G, Preferred: mode.None},
)

func NewLinktop(base *Generic) *Linktop {
	return &Linktop{base: base, modes: linktopModes}
}

func (l *Linktop) Name() string { return "linktop" }

func (l *Linktop) Setup(ctx context.Context) error {
	return l.base.Setup(ctx)
}

// LoadModes reads +CFUN?. Undocumented levels read back as any mode.
func (l *Linktop) LoadModes(ctx context.Context) (mode.Mode, mode.Mode, error) {
	const cmd = "+CFUN?"
	resp, err := l.base.ex.Submit(ctx, modem.Request{Command: cmd, Timeout: queryTimeout})
	if err != nil {
		return mode.None, mode.None, err
	}

	value, ok := at.StripTag(resp, "+CFUN:")
	if !ok {
		value, _ = at.StripTag(resp, "CFUN:")
	}
	code, err := at.ParseUint(value)
	if err != nil {
		return mode.None, mode.None, &ParseError{Command: cmd, Response: resp, Reason: "couldn't parse CFUN? response"}
	}

	allowed, preferred := l.modes.Decode(int(code))
	l.base.logger.Debug("loaded modes", "code", code, "allowed", allowed, "preferred", preferred)
	return allowed, preferred, nil
}

// SetModes writes the +CFUN level for an exact (allowed, preferred) pair.
// A pair without a level fails before anything is sent.
func (l *Linktop) SetModes(ctx context.Context, allowed, preferred mode.Mode) error {
	code, ok := l.modes.Encode(allowed, preferred)
	if !ok {
		return &ModeError{Allowed: allowed, Preferred: preferred}
	}
	if _, err := l.base.ex.Submit(ctx, modem.Request{Command: fmt.Sprintf("+CFUN=%d", code), Timeout: queryTimeout}); err != nil {
		return fmt.Errorf("set modes: %w", err)
	}
	return nil
}

func (l *Linktop) LoadSupportedModes(context.Context) (mode.Mode, error) {
	supported := l.modes.Supported()
	l.base.state.SetSupportedModes(supported)
	return supported, nil
}

func (l *Linktop) LoadAccessTechnology(ctx context.Context) (mode.AccessTechnology, error) {
	return l.base.LoadAccessTechnology(ctx)
}

func (l *Linktop) PowerDown(ctx context.Context) error {
	return l.base.PowerDown(ctx)
}

func (l *Linktop) SubmitPIN(ctx context.Context, pin string) error {
	return l.base.SubmitPIN(ctx, pin)
}

func (l *Linktop) LoadIdentifier(ctx context.Context) (string, error) {
	return l.base.LoadIdentifier(ctx)
}
