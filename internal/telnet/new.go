package telnet

import "github.com/obsolescence/arpanet/internal/util"

// RFC 854 command bytes.
const (
	IAC  = 0xFF // interpret as command
	DONT = 0xFE
	DO   = 0xFD
	WONT = 0xFC
	WILL = 0xFB
	EC   = 0xF7 // erase character
)

// IAC parser states.
const (
	stateData   = iota // passing bytes through
	stateIAC           // saw IAC, next byte is a command
	stateOption        // saw DO/DONT/WILL/WONT, next byte is the option
)

// NewTranslator handles RFC 854 telnet: IAC IAC yields a literal 0xFF,
// IAC EC erases the previous character on the console, option negotiation
// is logged and discarded, and other commands are logged and dropped.
// Parser state carries across messages, so a command split over two
// network messages is handled correctly.
type NewTranslator struct {
	state int
	cmd   byte
}

func (t *NewTranslator) Translate(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch t.state {
		case stateData:
			if b == IAC {
				t.state = stateIAC
			} else {
				out = append(out, b)
			}
		case stateIAC:
			switch {
			case b == IAC:
				out = append(out, b)
				t.state = stateData
			case b == DO, b == DONT, b == WILL, b == WONT:
				t.cmd = b
				t.state = stateOption
			case b == EC:
				out = append(out, '\b', ' ', '\b')
				t.state = stateData
			default:
				util.LogDebug("telnet: IAC command %#02x ignored", b)
				t.state = stateData
			}
		case stateOption:
			util.LogDebug("telnet: negotiation %#02x %#02x ignored", t.cmd, b)
			t.state = stateData
		}
	}
	return out
}
