// Package imp implements the framed datagram transport between this host
// and its IMP. Each UDP datagram carries one frame: a fixed magic, a
// per-direction sequence number, a word count, and a flags word. A logical
// message spans one or more frames; the final frame carries the LAST flag.
package imp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/obsolescence/arpanet/internal/util"
)

// Frame flag bits.
const (
	FlagLast  = 0x0001 // final fragment of a logical message
	FlagReady = 0x0002 // sender's host/IMP ready indication
)

// headerSize is the fixed frame header: magic(4) + sequence(4) + count(2) + flags(2).
const headerSize = 12

// MaxFramePayload is the largest payload carried by a single frame, in bytes.
// Messages longer than this are fragmented across consecutive frames.
const MaxFramePayload = 188

var magic = [4]byte{'H', '3', '1', '6'}

// frame is one validated datagram.
type frame struct {
	seq     uint32
	flags   uint16
	payload []byte // aliases the receive buffer; consumers must copy
}

// encodeFrame builds one wire datagram. The payload is padded to a 16-bit
// word boundary; the count field is the payload word count plus one, the
// extra word standing for the flags.
func encodeFrame(seq uint32, flags uint16, payload []byte) []byte {
	words := (len(payload) + 1) / 2
	buf := make([]byte, headerSize+2*words)
	copy(buf[0:4], magic[:])
	binary.BigEndian.PutUint32(buf[4:8], seq)
	binary.BigEndian.PutUint16(buf[8:10], uint16(words+1))
	binary.BigEndian.PutUint16(buf[10:12], flags)
	copy(buf[headerSize:], payload)
	return buf
}

// parseFrame validates one datagram against the wire format. The returned
// payload aliases the input.
func parseFrame(datagram []byte) (frame, error) {
	if len(datagram) < headerSize {
		return frame{}, errors.Errorf("short datagram: %d bytes", len(datagram))
	}
	if !bytes.Equal(datagram[0:4], magic[:]) {
		return frame{}, errors.New("bad magic")
	}
	count := binary.BigEndian.Uint16(datagram[8:10])
	if count == 0 {
		return frame{}, errors.New("zero word count")
	}
	if len(datagram) != headerSize+2*int(count-1) {
		return frame{}, errors.Errorf("length mismatch: %d bytes, declared %d words",
			len(datagram), count)
	}
	return frame{
		seq:     binary.BigEndian.Uint32(datagram[4:8]),
		flags:   binary.BigEndian.Uint16(datagram[10:12]),
		payload: datagram[headerSize:],
	}, nil
}

// assembler reassembles logical messages from consecutive frames and
// enforces receive-side sequence monotonicity.
type assembler struct {
	nextSeq uint32
	buf     []byte
}

// feed consumes one validated frame. It returns the completed message when
// the frame carries the LAST flag and the accumulated payload is non-empty;
// it returns nil while fragments are pending or for empty flag-carrier
// messages. A frame whose sequence regresses below the last accepted value
// is rejected with an error and does not disturb the reassembly buffer; a
// restart to zero after a nonzero sequence is accepted and resynchronizes.
func (a *assembler) feed(f frame) ([]byte, error) {
	switch {
	case f.seq == 0 && a.nextSeq != 0:
		util.LogWarning("imp: peer sequence restarted")
	case f.seq < a.nextSeq:
		return nil, errors.Errorf("sequence regressed: got %d, expected %d", f.seq, a.nextSeq)
	}
	a.nextSeq = f.seq + 1

	a.buf = append(a.buf, f.payload...)
	if f.flags&FlagLast == 0 {
		return nil, nil
	}
	msg := a.buf
	a.buf = nil
	if len(msg) == 0 {
		return nil, nil
	}
	return msg, nil
}
