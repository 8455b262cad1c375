package imp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MessageType is the IMP leader message type, the low nibble of the first
// leader byte.
type MessageType uint8

const (
	TypeRegular MessageType = iota
	TypeLeaderError
	TypeDown
	TypeBlocked
	TypeNOP
	TypeRFNM
	TypeFull
	TypeDead
	TypeDataError
	TypeIncomplete
	TypeReset
)

var typeNames = []string{
	"REGULAR", "ER_LEAD", "DOWN", "BLOCKED", "NOP",
	"RFNM", "FULL", "DEAD", "ER_DATA", "INCOMPL", "RESET",
}

func (t MessageType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "???"
}

// ControlLink is the link number reserved for NCP control messages.
const ControlLink = 0

const (
	leaderSize    = 4 // type, host, link, pad
	msgHeaderSize = 5 // pad, byte size, count(2), pad
)

// Message is one logical IMP message: a 4-byte leader and, for REGULAR
// messages, a data header plus payload. Host is the destination when
// sending and the source when receiving.
type Message struct {
	Type MessageType
	Host byte
	Link byte
	Size byte   // data byte size: 8 for control and terminal data, 32 for the ICP socket word
	Data []byte // NCP control bytes on link 0, raw application bytes otherwise
}

// bytesPerUnit converts the header's byte-size field into the width of one
// count unit in bytes. Sizes below 8 count single bytes, matching how the
// original hosts use the field.
func bytesPerUnit(size byte) int {
	if size < 8 {
		return 1
	}
	return int(size) / 8
}

// Marshal serializes the message for transmission: leader only for
// IMP-level types, leader + data header + payload for REGULAR messages.
func (m Message) Marshal() []byte {
	if m.Type != TypeRegular {
		return []byte{byte(m.Type), m.Host, m.Link, 0}
	}
	size := m.Size
	if size == 0 {
		size = 8
	}
	unit := bytesPerUnit(size)
	buf := make([]byte, leaderSize+msgHeaderSize+len(m.Data))
	buf[0] = byte(m.Type)
	buf[1] = m.Host
	buf[2] = m.Link
	buf[5] = size
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(m.Data)/unit))
	copy(buf[9:], m.Data)
	return buf
}

// parseMessage inverts Marshal for an assembled frame payload.
func parseMessage(payload []byte) (Message, error) {
	if len(payload) < leaderSize {
		return Message{}, errors.Errorf("short leader: %d bytes", len(payload))
	}
	m := Message{
		Type: MessageType(payload[0] & 0x0F),
		Host: payload[1],
		Link: payload[2],
	}
	if m.Type != TypeRegular {
		return m, nil
	}
	if len(payload) < leaderSize+msgHeaderSize {
		return Message{}, errors.Errorf("truncated data header: %d bytes", len(payload))
	}
	m.Size = payload[5]
	count := int(binary.BigEndian.Uint16(payload[6:8]))
	dataLen := count * bytesPerUnit(m.Size)
	body := payload[leaderSize+msgHeaderSize:]
	if dataLen > len(body) {
		return Message{}, errors.Errorf("declared %d data bytes, only %d present", dataLen, len(body))
	}
	m.Data = body[:dataLen]
	return m, nil
}
