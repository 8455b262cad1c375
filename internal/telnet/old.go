// Package telnet translates the two ARPANET terminal-control dialects into
// raw console bytes. The old dialect predates RFC 854 and is selected by
// listen socket 1; the new dialect is RFC 854 telnet on listen socket 23.
package telnet

import "github.com/obsolescence/arpanet/internal/util"

// Translator converts one inbound network message into console bytes.
// Implementations may keep parser state between calls.
type Translator interface {
	Translate(data []byte) []byte
}

// Old-dialect command codes.
const (
	oldMark   = 0x80
	oldBreak  = 0x81
	oldNOP    = 0x82
	oldNoEcho = 0x83
	oldEcho   = 0x84
	oldHide   = 0x85
)

// OldTranslator handles the pre-RFC-854 dialect: NUL is padding, CR is
// normalized to CR LF (CR NUL means a bare CR, CR LF is passed as is, the
// lookahead byte is consumed either way), command codes are logged and
// dropped, and anything outside 7-bit ASCII is dropped.
//
// CR lookahead does not carry across messages; a CR ending a message is
// normalized to CR LF on its own.
type OldTranslator struct{}

func (OldTranslator) Translate(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	for i := 0; i < len(data); i++ {
		b := data[i]
		switch {
		case b == 0:
			// NUL padding.
		case b == '\r':
			switch {
			case i+1 < len(data) && data[i+1] == 0:
				out = append(out, '\r')
				i++
			case i+1 < len(data) && data[i+1] == '\n':
				out = append(out, '\r', '\n')
				i++
			default:
				out = append(out, '\r', '\n')
			}
		case b == oldMark, b == oldBreak, b == oldNOP:
			util.LogDebug("telnet: old-dialect command %#02x", b)
		case b == oldNoEcho:
			util.LogDebug("telnet: NOECHO requested")
		case b == oldEcho:
			util.LogDebug("telnet: ECHO requested")
		case b == oldHide:
			util.LogDebug("telnet: HIDE requested")
		case b >= 0x80:
			// Only 7-bit ASCII reaches the console.
		default:
			out = append(out, b)
		}
	}
	return out
}
