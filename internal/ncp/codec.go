package ncp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Fixed body lengths in bytes after the opcode. ERR is variable and is
// handled separately.
var bodyLen = map[Opcode]int{
	OpNOP: 0,
	OpRTS: 9,
	OpSTR: 9,
	OpCLS: 8,
	OpALL: 7,
	OpGVB: 3,
	OpRET: 7,
	OpINR: 1,
	OpINS: 1,
	OpECO: 1,
	OpERP: 1,
	OpRST: 0,
	OpRRP: 0,
}

// Encode serializes one control message.
func Encode(m Message) []byte {
	return Append(nil, m)
}

// Append serializes m onto dst. Several messages may be appended to one
// buffer and sent as a single control-channel payload.
func Append(dst []byte, m Message) []byte {
	dst = append(dst, byte(m.Op))
	switch m.Op {
	case OpNOP, OpRST, OpRRP:
	case OpRTS:
		dst = binary.BigEndian.AppendUint32(dst, m.LocalSocket)
		dst = binary.BigEndian.AppendUint32(dst, m.RemoteSocket)
		dst = append(dst, m.Link)
	case OpSTR:
		dst = binary.BigEndian.AppendUint32(dst, m.LocalSocket)
		dst = binary.BigEndian.AppendUint32(dst, m.RemoteSocket)
		dst = append(dst, m.Size)
	case OpCLS:
		dst = binary.BigEndian.AppendUint32(dst, m.LocalSocket)
		dst = binary.BigEndian.AppendUint32(dst, m.RemoteSocket)
	case OpALL:
		dst = append(dst, m.Link)
		dst = binary.BigEndian.AppendUint16(dst, m.Messages)
		dst = binary.BigEndian.AppendUint32(dst, m.Bits)
	case OpINR, OpINS:
		dst = append(dst, m.Link)
	case OpECO, OpERP:
		dst = append(dst, m.Data)
	case OpERR:
		dst = append(dst, m.Code)
		dst = append(dst, m.Body...)
	}
	return dst
}

// Decode walks a control-channel payload, which may carry several
// concatenated messages, and returns them in order. An opcode outside the
// known set or a truncated body stops the walk; messages decoded up to that
// point are returned together with the error.
func Decode(buf []byte) ([]Message, error) {
	var msgs []Message
	i := 0
	for i < len(buf) {
		op := Opcode(buf[i])
		i++

		if op == OpERR {
			// ERR consumes the remainder of the payload.
			if i >= len(buf) {
				return msgs, errors.New("ERR truncated")
			}
			msgs = append(msgs, Message{Op: op, Code: buf[i], Body: buf[i+1:]})
			return msgs, nil
		}

		n, ok := bodyLen[op]
		if !ok {
			return msgs, errors.Errorf("unknown opcode %d", op)
		}
		if len(buf)-i < n {
			return msgs, errors.Errorf("%s truncated: %d of %d bytes", op, len(buf)-i, n)
		}
		body := buf[i : i+n]
		i += n

		m := Message{Op: op}
		switch op {
		case OpRTS:
			m.LocalSocket = binary.BigEndian.Uint32(body[0:4])
			m.RemoteSocket = binary.BigEndian.Uint32(body[4:8])
			m.Link = body[8]
		case OpSTR:
			m.LocalSocket = binary.BigEndian.Uint32(body[0:4])
			m.RemoteSocket = binary.BigEndian.Uint32(body[4:8])
			m.Size = body[8]
		case OpCLS:
			m.LocalSocket = binary.BigEndian.Uint32(body[0:4])
			m.RemoteSocket = binary.BigEndian.Uint32(body[4:8])
		case OpALL:
			m.Link = body[0]
			m.Messages = binary.BigEndian.Uint16(body[1:3])
			m.Bits = binary.BigEndian.Uint32(body[3:7])
		case OpGVB, OpRET, OpINR, OpINS:
			m.Link = body[0]
		case OpECO, OpERP:
			m.Data = body[0]
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
