package device

// ParseICCID reads an ICCID from a tag-stripped reply. At most 20
// characters are read; 'F' or 'f' terminates the number early (padding of
// 19 digit ICCIDs). Anything else that is not a digit is rejected.
func ParseICCID(raw string) (string, error) {
	buf := make([]byte, 0, 20)
	for i := 0; i < len(raw) && i < 20; i++ {
		c := raw[i]
		if c == 'F' || c == 'f' {
			break
		}
		if c < '0' || c > '9' {
			return "", &ParseError{Response: raw, Reason: "ICCID contains invalid character '" + string(c) + "'"}
		}
		buf = append(buf, c)
	}

	if n := len(buf); n != 19 && n != 20 {
		return "", &ParseError{Response: raw, Reason: "invalid ICCID size (expected 19 or 20)"}
	}
	return string(buf), nil
}
