package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/modemd/at"
	"i4.energy/across/modemd/modem"
	"i4.energy/across/modemd/sms"
)

const (
	// listTimeout allows for full message storage.
	listTimeout = 20 * time.Second
	// sendTimeout allows for network round trips of +CMGS.
	sendTimeout = 60 * time.Second
)

// HandleURC processes an unsolicited result code from the exchange. New
// message indications (+CMTI) read the stored part and take it as
// received. Other codes are ignored.
func (s *Session) HandleURC(ctx context.Context, urc string) error {
	value, ok := at.StripTag(urc, at.UrcNewMsg)
	if !ok {
		s.logger.Debug("ignoring URC", "urc", urc)
		return nil
	}

	// +CMTI: "SM",<index>
	comma := strings.LastIndexByte(value, ',')
	if comma < 0 {
		return fmt.Errorf("malformed new message indication: %q", urc)
	}
	index, err := at.ParseUint(value[comma+1:])
	if err != nil {
		return fmt.Errorf("malformed new message indication: %q", urc)
	}

	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.readPart(ctx, uint32(index))
}

func (s *Session) readPart(ctx context.Context, index uint32) error {
	resp, err := s.ex.Submit(ctx, modem.Request{Command: fmt.Sprintf("+CMGR=%d", index)})
	if err != nil {
		return fmt.Errorf("read message %d: %w", index, err)
	}

	// +CMGR: <stat>,[<alpha>],<length>
	// <pdu>
	lines := at.Lines(resp)
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "+CMGR:") {
		return fmt.Errorf("unexpected +CMGR response: %q", resp)
	}
	part, err := sms.DecodePDU(index, lines[1])
	if err != nil {
		return err
	}
	return s.messages.TakePart(part, true)
}

// loadStored takes every message part in device storage. Parts that cannot
// be decoded or taken are logged and skipped.
func (s *Session) loadStored(ctx context.Context) error {
	resp, err := s.ex.Submit(ctx, modem.Request{Command: "+CMGL=4", Timeout: listTimeout})
	if err != nil {
		return err
	}

	// +CMGL: <index>,<stat>,[<alpha>],<length>
	// <pdu>
	lines := at.Lines(resp)
	for i := 0; i+1 < len(lines); i++ {
		header, ok := at.StripTag(lines[i], "+CMGL:")
		if !ok {
			continue
		}
		fields := strings.SplitN(header, ",", 2)
		index, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil {
			s.logger.Warn("skipping stored message with bad index", "header", lines[i])
			continue
		}

		i++
		part, err := sms.DecodePDU(uint32(index), lines[i])
		if err != nil {
			s.logger.Warn("skipping stored message", "index", index, "error", err)
			continue
		}
		if err := s.messages.TakePart(part, false); err != nil {
			s.logger.Warn("stored part not taken", "index", index, "error", err)
		}
	}
	return nil
}

// SendMessage submits text to number in PDU mode, one +CMGS per segment.
// It returns the message reference of each segment.
func (s *Session) SendMessage(ctx context.Context, number, text string) ([]int, error) {
	if number == "" || text == "" {
		return nil, fmt.Errorf("both number and text are required")
	}
	segments, err := sms.EncodeSubmit(number, text)
	if err != nil {
		return nil, err
	}

	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	refs := make([]int, 0, len(segments))
	for i, seg := range segments {
		resp, err := s.ex.Submit(ctx, modem.Request{Command: fmt.Sprintf("+CMGS=%d", seg.Length)})
		if err != nil {
			return refs, fmt.Errorf("AT+CMGS command failed: %w", err)
		}
		// Check if we got the prompt
		if !strings.Contains(resp, strings.TrimSpace(at.Prompt)) {
			return refs, fmt.Errorf("did not receive SMS prompt, got: %q", resp)
		}

		resp, err = s.ex.Submit(ctx, modem.Request{Command: seg.Hex + at.CtrlZ, Raw: true, Timeout: sendTimeout})
		if err != nil {
			return refs, fmt.Errorf("send segment %d/%d: %w", i+1, len(segments), err)
		}
		value, ok := at.StripTag(resp, "+CMGS:")
		if !ok {
			return refs, fmt.Errorf("unexpected SMS response: %q", resp)
		}
		ref, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return refs, fmt.Errorf("unexpected SMS response: %q", resp)
		}
		refs = append(refs, ref)
	}

	s.logger.Info("SMS sent", "segments", len(segments))
	return refs, nil
}
