package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is a bufio.SplitFunc that cuts modem output into CRLF terminated
// lines. The SMS input prompt ("> ") is a token of its own because the
// device sends no line ending after it.
//
// Echo must be off (ATE0); echoed commands come back as ordinary lines.
// At EOF the unterminated remainder is returned as the last token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[:len(Prompt)], nil
	}

	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	// Request more data
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// finalResults are the result codes that end a command as a whole line.
var finalResults = map[string]struct{}{
	OK:         {},
	ERROR:      {},
	NoCarrier:  {},
	NoDialtone: {},
	Busy:       {},
	NoAnswer:   {},
}

// finalPrefixes end a command and carry an error cause.
var finalPrefixes = []string{CmeError, CmsError}

// urcPrefixes are never part of a command reply. Replies that share a tag
// with a URC (+CREG, +CSQ) are deliberately left out: they are only
// reported as data.
var urcPrefixes = []string{UrcNewMsg, UrcMessageReport, UrcIndicator, UrcSysStart}

// Classify identifies the nature of one line of modem output.
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}
	if _, ok := finalResults[line]; ok {
		return TypeFinal
	}
	if hasAnyPrefix(line, finalPrefixes) {
		return TypeFinal
	}
	if line == UrcCall || hasAnyPrefix(line, urcPrefixes) {
		return TypeURC
	}
	return TypeData
}

func hasAnyPrefix(line string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
