// Package mode holds the abstract radio vocabulary shared by every vendor:
// the allowed/preferred Mode bitmask, the AccessTechnology bitmask and the
// Translator that maps modes to vendor codes.
package mode

import (
	"fmt"
	"math/bits"
	"strings"
)

// Mode is a bitmask of radio technology generations.
type Mode uint32

const (
	None Mode = 0
	CS   Mode = 1 << (iota - 1)
	Mode2G
	Mode3G
	Mode4G
	Mode5G

	// Any allows every technology the device has.
	Any Mode = ^Mode(0)
)

var modeNames = []struct {
	mode Mode
	name string
}{
	{CS, "cs"},
	{Mode2G, "2g"},
	{Mode3G, "3g"},
	{Mode4G, "4g"},
	{Mode5G, "5g"},
}

// String renders the mask as a comma separated list, e.g. "2g, 3g".
func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Any:
		return "any"
	}

	var parts []string
	rest := m
	for _, n := range modeNames {
		if m&n.mode != 0 {
			parts = append(parts, n.name)
			rest &^= n.mode
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, ", ")
}

// Has reports whether every bit of other is set in m.
func (m Mode) Has(other Mode) bool {
	return m&other == other
}

// Count returns how many technologies the mask names.
func (m Mode) Count() int {
	return bits.OnesCount32(uint32(m))
}

// ParseMode is the inverse of Mode.String. Names are case-insensitive and
// may be separated by commas, "|" or spaces.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return None, nil
	case "any":
		return Any, nil
	}

	var m Mode
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '|' || r == ' '
	})
	for _, f := range fields {
		found := false
		for _, n := range modeNames {
			if f == n.name {
				m |= n.mode
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown mode %q", f)
		}
	}
	return m, nil
}

// MarshalText lets modes travel as strings in JSON and YAML.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
