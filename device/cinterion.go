package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"i4.energy/across/modemd/mode"
	"i4.energy/across/modemd/modem"
)

// Cinterion reads the access technology with one of two query dialects:
// the psinfo indicator of ^SIND? (primary, 3G firmware) or the GPRS status
// column of ^SMONG (secondary). The dialect that works is remembered in
// State. Power down uses whichever sleep level +CFUN=? offers.
type Cinterion struct {
	base *Generic
}

var _ Capabilities = (*Cinterion)(nil)

const (
	cmdSIND      = "^SIND?"
	cmdSMONG     = "^SMONG"
	cmdCFUNRange = "+CFUN=?"
	cmdWS46Range = "+WS46=?"
)

var (
	// ^SIND: psinfo,<mode>,<indicator>
	sindPsinfo = regexp.MustCompile(`(?m)^\^SIND:\s*psinfo,\s*(\d*),\s*(\d*)`)

	// GPRS Monitor
	// BCCH  G  PBCCH  PAT MCC  MNC  NOM  TA      RAC    # Cell #
	// 0776  1  -      -   214   03  2    00      01
	smongTable = regexp.MustCompile(`(?m)GPRS Monitor\s*\n\s*BCCH\s*G.*\n\s*(\d*)\s*(\d*)`)
)

// psinfoTechnologies maps the psinfo indicator.
var psinfoTechnologies = map[byte]mode.AccessTechnology{
	'0': mode.TechUnknown,
	'1': mode.TechGPRS,
	'2': mode.TechGPRS,
	'3': mode.TechEDGE,
	'4': mode.TechEDGE,
	'5': mode.TechUMTS,
	'6': mode.TechUMTS,
	'7': mode.TechHSDPA,
	'8': mode.TechHSDPA,
}

// smongTechnologies maps the GPRS status column of ^SMONG.
var smongTechnologies = map[byte]mode.AccessTechnology{
	'0': mode.TechUnknown,
	'1': mode.TechGPRS,
	'2': mode.TechGPRS,
	'3': mode.TechEDGE,
	'4': mode.TechEDGE,
}

func NewCinterion(base *Generic) *Cinterion {
	return &Cinterion{base: base}
}

func (c *Cinterion) Name() string { return "cinterion" }

// Setup enables RTS/CTS flow control, which cyclic sleep needs, and the
// indicator events.
func (c *Cinterion) Setup(ctx context.Context) error {
	if _, err := c.base.ex.Submit(ctx, modem.Request{Command: `\Q3`, Timeout: queryTimeout}); err != nil {
		return fmt.Errorf("enable flow control: %w", err)
	}
	if _, err := c.base.ex.Submit(ctx, modem.Request{Command: "+CMER=3,0,0,2", Timeout: queryTimeout}); err != nil {
		return fmt.Errorf("enable indicator events: %w", err)
	}
	return nil
}

func (c *Cinterion) LoadModes(ctx context.Context) (mode.Mode, mode.Mode, error) {
	return c.base.LoadModes(ctx)
}

func (c *Cinterion) SetModes(ctx context.Context, allowed, preferred mode.Mode) error {
	return c.base.SetModes(ctx, allowed, preferred)
}

// LoadSupportedModes reads the network modes listed by +WS46=?. Some
// firmware drops the +WS46 tag, so the IDs are searched in the whole reply.
func (c *Cinterion) LoadSupportedModes(ctx context.Context) (mode.Mode, error) {
	resp, err := c.base.ex.Submit(ctx, modem.Request{Command: cmdWS46Range, Timeout: queryTimeout})
	if err != nil {
		return mode.None, err
	}

	supported := mode.None
	if strings.Contains(resp, "12") {
		supported |= mode.Mode2G
	}
	if strings.Contains(resp, "22") {
		supported |= mode.Mode3G
	}
	if strings.Contains(resp, "25") {
		supported |= mode.Mode2G | mode.Mode3G
	}
	if supported == mode.None {
		return mode.None, &ParseError{Command: cmdWS46Range, Response: resp, Reason: "invalid list of supported networks"}
	}

	c.base.state.SetSupportedModes(supported)
	c.base.logger.Debug("loaded supported modes", "modes", supported)
	return supported, nil
}

// LoadAccessTechnology queries the dialect recorded in State.
//
// A primary reply without the psinfo indicator switches later calls to the
// secondary dialect; this call still fails. A secondary reply that parses
// switches back to primary. Exchange failures never change the dialect.
func (c *Cinterion) LoadAccessTechnology(ctx context.Context) (mode.AccessTechnology, error) {
	if c.base.state.Dialect() == DialectSecondary {
		return c.loadFromSMONG(ctx)
	}
	return c.loadFromSIND(ctx)
}

func (c *Cinterion) loadFromSIND(ctx context.Context) (mode.AccessTechnology, error) {
	resp, err := c.base.ex.Submit(ctx, modem.Request{Command: cmdSIND, Timeout: queryTimeout})
	if err != nil {
		return mode.TechUnknown, err
	}

	match := sindPsinfo.FindStringSubmatch(resp)
	if match == nil {
		c.base.state.SetDialect(DialectSecondary)
		c.base.logger.Debug("no psinfo indicator, switching to ^SMONG")
		return mode.TechUnknown, &ParseError{Command: cmdSIND, Response: resp, Reason: "no psinfo indicator"}
	}
	return decodeIndicator(psinfoTechnologies, match[2], cmdSIND, resp, "invalid psinfo value")
}

func (c *Cinterion) loadFromSMONG(ctx context.Context) (mode.AccessTechnology, error) {
	resp, err := c.base.ex.Submit(ctx, modem.Request{Command: cmdSMONG, Timeout: queryTimeout})
	if err != nil {
		return mode.TechUnknown, err
	}

	match := smongTable.FindStringSubmatch(resp)
	if match == nil {
		return mode.TechUnknown, &ParseError{Command: cmdSMONG, Response: resp, Reason: "invalid SMONG reply"}
	}
	tech, err := decodeIndicator(smongTechnologies, match[2], cmdSMONG, resp, "invalid GPRS status value")
	if err != nil {
		return mode.TechUnknown, err
	}

	c.base.state.SetDialect(DialectPrimary)
	return tech, nil
}

// decodeIndicator maps a single character status through table.
func decodeIndicator(table map[byte]mode.AccessTechnology, value, cmd, resp, reason string) (mode.AccessTechnology, error) {
	if len(value) == 1 {
		if tech, ok := table[value[0]]; ok {
			return tech, nil
		}
	}
	return mode.TechUnknown, &ParseError{Command: cmd, Response: resp, Reason: fmt.Sprintf("%s '%s'", reason, value)}
}

// PowerDown sends the sleep command, probing for it on first use. It never
// fails: the caller cannot recover from a failed power down.
func (c *Cinterion) PowerDown(ctx context.Context) error {
	cmd, ok := c.base.state.SleepCommand()
	if !ok {
		probed, err := c.probeSleepCommand(ctx)
		if err != nil {
			c.base.logger.Debug("sleep mode probe cancelled", "error", err)
			return nil
		}
		cmd = c.base.state.DecideSleepCommand(probed)
	}

	if cmd != "" {
		c.base.ex.SubmitIgnoreReply(modem.Request{Command: cmd, Timeout: sleepTimeout})
	}
	return nil
}

// probeSleepCommand picks +CFUN=4 (HC25 and alike) or +CFUN=7 (cyclic
// sleep) from the levels the device reports. An empty command means none
// is available. An error is returned only when ctx ended, in which case
// nothing must be recorded.
func (c *Cinterion) probeSleepCommand(ctx context.Context) (string, error) {
	resp, err := c.base.ex.Submit(ctx, modem.Request{Command: cmdCFUNRange, Timeout: queryTimeout})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", err
		}
		c.base.logger.Warn("couldn't query supported functionality status", "error", err)
		return "", nil
	}

	switch {
	case strings.Contains(resp, "4"):
		c.base.logger.Debug("device supports CFUN=4 sleep mode")
		return "+CFUN=4", nil
	case strings.Contains(resp, "7"):
		c.base.logger.Debug("device supports CFUN=7 sleep mode")
		return "+CFUN=7", nil
	default:
		c.base.logger.Warn("unknown functionality mode to go into sleep mode", "response", resp)
		return "", nil
	}
}

func (c *Cinterion) SubmitPIN(ctx context.Context, pin string) error {
	return c.base.SubmitPIN(ctx, pin)
}

func (c *Cinterion) LoadIdentifier(ctx context.Context) (string, error) {
	return c.base.LoadIdentifier(ctx)
}
