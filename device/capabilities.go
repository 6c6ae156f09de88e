package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"i4.energy/across/modemd/mode"
)

// Capabilities is the set of vendor specific operations of a device.
// One variant is selected per attached device and kept for its lifetime.
//
// Methods must not be called concurrently for the same device; the owner
// serializes them.
type Capabilities interface {
	// Name identifies the variant, e.g. "cinterion".
	Name() string
	// Setup runs the vendor specific port setup after the exchange is up.
	Setup(ctx context.Context) error
	// LoadModes reads the current allowed and preferred modes.
	LoadModes(ctx context.Context) (allowed, preferred mode.Mode, err error)
	// SetModes writes an allowed and preferred pair.
	SetModes(ctx context.Context, allowed, preferred mode.Mode) error
	// LoadSupportedModes reads which modes the device can be set to.
	LoadSupportedModes(ctx context.Context) (mode.Mode, error)
	// LoadAccessTechnology reads the technology currently in use.
	LoadAccessTechnology(ctx context.Context) (mode.AccessTechnology, error)
	// PowerDown puts the radio in low power mode.
	PowerDown(ctx context.Context) error
	// SubmitPIN unlocks the SIM. Variants may allow an empty pin to
	// replay the last one that worked.
	SubmitPIN(ctx context.Context, pin string) error
	// LoadIdentifier reads the SIM ICCID.
	LoadIdentifier(ctx context.Context) (string, error)
}

// USB vendor IDs of the supported families.
const (
	VendorIDCinterion       uint16 = 0x1e2d
	VendorIDCinterionLegacy uint16 = 0x0681
	VendorIDLinktop         uint16 = 0x230d
	VendorIDSierra          uint16 = 0x1199
)

// Options select and configure a variant.
type Options struct {
	// Name selects a variant explicitly: "generic", "cinterion",
	// "linktop" or "sierra". It takes precedence over VendorID.
	Name string
	// VendorID selects a variant by USB vendor ID when Name is empty.
	VendorID uint16
	Logger   *slog.Logger
}

// Names lists the variant names accepted in Options.
func Names() []string {
	return []string{"generic", "cinterion", "linktop", "sierra"}
}

// New selects the variant for a device. Unknown vendor IDs fall back to
// the generic variant; unknown names are an error.
func New(ex Exchange, state *State, opts Options) (Capabilities, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	name := strings.ToLower(strings.TrimSpace(opts.Name))
	if name == "" {
		name = nameForVendorID(opts.VendorID)
	}
	logger = logger.With("vendor", name)

	base := NewGeneric(ex, state, logger)
	switch name {
	case "generic":
		return base, nil
	case "cinterion":
		return NewCinterion(base), nil
	case "linktop":
		return NewLinktop(base), nil
	case "sierra":
		return NewSierra(base), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, opts.Name)
	}
}

func nameForVendorID(id uint16) string {
	switch id {
	case VendorIDCinterion, VendorIDCinterionLegacy:
		return "cinterion"
	case VendorIDLinktop:
		return "linktop"
	case VendorIDSierra:
		return "sierra"
	default:
		return "generic"
	}
}
