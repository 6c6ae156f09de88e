package device

import (
	"context"

	"i4.energy/across/modemd/at"
	"i4.energy/across/modemd/mode"
	"i4.energy/across/modemd/modem"
)

// Sierra devices ask for the PIN again after some power transitions, so
// the PIN is cached and can be replayed with an empty pin. The ICCID is
// read with !ICCID?.
type Sierra struct {
	base *Generic
	pin  *PINCache
}

var _ Capabilities = (*Sierra)(nil)

func NewSierra(base *Generic) *Sierra {
	return &Sierra{
		base: base,
		pin:  NewPINCache(base.state, base.SubmitPIN),
	}
}

func (s *Sierra) Name() string { return "sierra" }

func (s *Sierra) Setup(ctx context.Context) error {
	return s.base.Setup(ctx)
}

func (s *Sierra) LoadModes(ctx context.Context) (mode.Mode, mode.Mode, error) {
	return s.base.LoadModes(ctx)
}

func (s *Sierra) SetModes(ctx context.Context, allowed, preferred mode.Mode) error {
	return s.base.SetModes(ctx, allowed, preferred)
}

func (s *Sierra) LoadSupportedModes(ctx context.Context) (mode.Mode, error) {
	return s.base.LoadSupportedModes(ctx)
}

func (s *Sierra) LoadAccessTechnology(ctx context.Context) (mode.AccessTechnology, error) {
	return s.base.LoadAccessTechnology(ctx)
}

func (s *Sierra) PowerDown(ctx context.Context) error {
	return s.base.PowerDown(ctx)
}

func (s *Sierra) SubmitPIN(ctx context.Context, pin string) error {
	return s.pin.Submit(ctx, pin)
}

func (s *Sierra) LoadIdentifier(ctx context.Context) (string, error) {
	const cmd = "!ICCID?"
	resp, err := s.base.ex.Submit(ctx, modem.Request{Command: cmd, Timeout: queryTimeout})
	if err != nil {
		return "", err
	}
	value, ok := at.StripTag(resp, "!ICCID:")
	if !ok {
		return "", &ParseError{Command: cmd, Response: resp, Reason: "failed to parse !ICCID response"}
	}
	iccid, err := ParseICCID(value)
	if err != nil {
		return "", withCommand(err, cmd)
	}
	s.base.logger.Debug("loaded SIM identifier", "iccid", iccid)
	return iccid, nil
}
