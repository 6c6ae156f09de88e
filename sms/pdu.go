package sms

import (
	"encoding/hex"
	"fmt"
	"strings"

	smslib "github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"
)

// DecodePDU converts a stored SMS-DELIVER, as listed by +CMGL or read by
// +CMGR in PDU mode, into a Part. The concatenation header, if any, is
// taken from the user data header.
func DecodePDU(index uint32, pduHex string) (Part, error) {
	pdu, err := pdumode.UnmarshalHexString(strings.TrimSpace(pduHex))
	if err != nil {
		return Part{}, fmt.Errorf("decode PDU %d: %w", index, err)
	}
	t, err := smslib.Unmarshal(pdu.TPDU)
	if err != nil {
		return Part{}, fmt.Errorf("unmarshal TPDU %d: %w", index, err)
	}
	if t.SmsType() != tpdu.SmsDeliver {
		return Part{}, fmt.Errorf("%w: part %d is not an SMS-DELIVER", ErrInvalidPart, index)
	}

	text, err := smslib.Decode([]*tpdu.TPDU{t})
	if err != nil {
		return Part{}, fmt.Errorf("decode user data %d: %w", index, err)
	}

	part := Part{
		Index:     index,
		Number:    t.OA.Number(),
		Timestamp: t.SCTS.Time,
		Text:      string(text),
	}
	if segments, seqno, mref, ok := t.ConcatInfo(); ok {
		part.Concat = &Concat{
			Reference: uint16(mref),
			Max:       uint8(segments),
			Sequence:  uint8(seqno),
		}
	}
	return part, nil
}

// Segment is one SMS-SUBMIT ready for +CMGS in PDU mode.
type Segment struct {
	// Length is the TPDU length in octets, without the SMSC field.
	Length int
	// Hex is the PDU with an empty SMSC field, so the device default is used.
	Hex string
}

// EncodeSubmit splits text into as many SMS-SUBMIT segments as needed.
func EncodeSubmit(number, text string) ([]Segment, error) {
	tpdus, err := smslib.Encode([]byte(text), smslib.AsSubmit, smslib.To(number))
	if err != nil {
		return nil, fmt.Errorf("encode SMS: %w", err)
	}

	segments := make([]Segment, 0, len(tpdus))
	for i, t := range tpdus {
		b, err := t.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal segment %d: %w", i+1, err)
		}
		segments = append(segments, Segment{
			Length: len(b),
			Hex:    strings.ToUpper(hex.EncodeToString(append([]byte{0x00}, b...))),
		})
	}
	return segments, nil
}
