package mode

// Setting is one discrete configuration a vendor can be put in, and the
// code the vendor uses for it.
type Setting struct {
	Code      int
	Allowed   Mode
	Preferred Mode
}

// Translator maps (allowed, preferred) pairs to vendor codes and back.
//
// Decoding is total: undocumented codes read back as (Any, None) so status
// queries never fail on new firmware. Encoding fails closed: only pairs that
// match a Setting exactly have a code.
type Translator struct {
	settings []Setting
}

// NewTranslator builds a Translator over a fixed code table.
func NewTranslator(settings ...Setting) *Translator {
	return &Translator{settings: append([]Setting(nil), settings...)}
}

// Encode returns the vendor code for the exact (allowed, preferred) pair.
func (t *Translator) Encode(allowed, preferred Mode) (int, bool) {
	for _, s := range t.settings {
		if s.Allowed == allowed && s.Preferred == preferred {
			return s.Code, true
		}
	}
	return 0, false
}

// Decode returns the pair for a vendor code, or (Any, None) if the code is
// not in the table.
func (t *Translator) Decode(code int) (allowed, preferred Mode) {
	for _, s := range t.settings {
		if s.Code == code {
			return s.Allowed, s.Preferred
		}
	}
	return Any, None
}

// Settings returns a copy of the code table.
func (t *Translator) Settings() []Setting {
	return append([]Setting(nil), t.settings...)
}

// Supported is the union of all allowed masks in the table.
func (t *Translator) Supported() Mode {
	var m Mode
	for _, s := range t.settings {
		m |= s.Allowed
	}
	return m
}
