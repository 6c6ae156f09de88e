package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"i4.energy/across/modemd/at"
	"i4.energy/across/modemd/mode"
	"i4.energy/across/modemd/modem"
)

// Generic implements the 3GPP TS 27.007 behaviour every vendor falls back
// to. The other variants hold one and delegate to it.
type Generic struct {
	ex     Exchange
	state  *State
	logger *slog.Logger
}

var _ Capabilities = (*Generic)(nil)

func NewGeneric(ex Exchange, state *State, logger *slog.Logger) *Generic {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generic{ex: ex, state: state, logger: logger}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) Setup(context.Context) error { return nil }

func (g *Generic) LoadModes(context.Context) (mode.Mode, mode.Mode, error) {
	return mode.None, mode.None, ErrNotSupported
}

func (g *Generic) SetModes(context.Context, mode.Mode, mode.Mode) error {
	return ErrNotSupported
}

func (g *Generic) LoadSupportedModes(context.Context) (mode.Mode, error) {
	return mode.None, ErrNotSupported
}

// LoadAccessTechnology reads the AcT field of "+COPS: <mode>,<format>,<oper>,<AcT>".
// A reply without an operator means the device is not registered.
func (g *Generic) LoadAccessTechnology(ctx context.Context) (mode.AccessTechnology, error) {
	const cmd = "+COPS?"
	resp, err := g.ex.Submit(ctx, modem.Request{Command: cmd, Timeout: queryTimeout})
	if err != nil {
		return mode.TechUnknown, err
	}

	value, ok := at.StripTag(resp, "+COPS:")
	if !ok {
		return mode.TechUnknown, &ParseError{Command: cmd, Response: resp, Reason: "missing +COPS tag"}
	}

	// The operator name is quoted and may contain commas, so AcT is taken
	// from the end.
	fields := strings.Split(value, ",")
	if len(fields) < 4 {
		return mode.TechUnknown, nil
	}
	act, err := at.ParseUint(fields[len(fields)-1])
	if err != nil {
		return mode.TechUnknown, &ParseError{Command: cmd, Response: resp, Reason: "invalid AcT"}
	}
	tech, ok := actTechnologies[act]
	if !ok {
		return mode.TechUnknown, &ParseError{Command: cmd, Response: resp, Reason: fmt.Sprintf("unknown AcT %d", act)}
	}
	return tech, nil
}

// actTechnologies maps the 27.007 <AcT> values.
var actTechnologies = map[uint]mode.AccessTechnology{
	0:  mode.TechGSM,
	1:  mode.TechGSM,
	2:  mode.TechUMTS,
	3:  mode.TechEDGE,
	4:  mode.TechHSDPA,
	5:  mode.TechHSUPA,
	6:  mode.TechHSPA,
	7:  mode.TechLTE,
	8:  mode.TechGSM,
	9:  mode.TechLTE,
	10: mode.TechLTE,
	11: mode.Tech5GNR,
	12: mode.Tech5GNR,
	13: mode.TechLTE | mode.Tech5GNR,
}

// PowerDown switches the radio off with +CFUN=4.
func (g *Generic) PowerDown(ctx context.Context) error {
	if _, err := g.ex.Submit(ctx, modem.Request{Command: "+CFUN=4", Timeout: sleepTimeout}); err != nil {
		return fmt.Errorf("power down: %w", err)
	}
	return nil
}

func (g *Generic) SubmitPIN(ctx context.Context, pin string) error {
	if pin == "" {
		return ErrMissingCredential
	}
	cmd := fmt.Sprintf("+CPIN=\"%s\"", pin)
	if _, err := g.ex.Submit(ctx, modem.Request{Command: cmd, Timeout: pinTimeout}); err != nil {
		// Never log or return the PIN itself
		return fmt.Errorf("send PIN: %w", redactPIN(err))
	}
	return nil
}

// LoadIdentifier reads the ICCID with +CCID. Some firmware omits the tag.
func (g *Generic) LoadIdentifier(ctx context.Context) (string, error) {
	const cmd = "+CCID"
	resp, err := g.ex.Submit(ctx, modem.Request{Command: cmd, Timeout: queryTimeout, AllowCached: true})
	if err != nil {
		return "", err
	}
	value, _ := at.StripTag(resp, "+CCID:")
	iccid, err := ParseICCID(value)
	if err != nil {
		return "", withCommand(err, cmd)
	}
	return iccid, nil
}

// redactPIN drops the command text, which carries the PIN, from exchange
// errors.
func redactPIN(err error) error {
	switch e := err.(type) {
	case *modem.TransportError:
		return &modem.TransportError{Command: "+CPIN", Err: e.Err}
	case *modem.CommandError:
		return &modem.CommandError{Command: "+CPIN", Result: e.Result, Response: e.Response}
	default:
		return err
	}
}

func withCommand(err error, cmd string) error {
	if pe, ok := err.(*ParseError); ok {
		pe.Command = cmd
	}
	return err
}
