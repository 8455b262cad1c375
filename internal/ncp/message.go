// Package ncp defines the Network Control Program control messages carried
// on link 0 and their byte-exact codec.
package ncp

// Opcode identifies an NCP control message.
type Opcode byte

const (
	OpNOP Opcode = iota // no operation
	OpRTS               // Receiver To Sender: open the receive side of a connection
	OpSTR               // Sender To Receiver: open the send side of a connection
	OpCLS               // Close
	OpALL               // Allocate: grant message/bit credit on a link
	OpGVB               // Give Back
	OpRET               // Return
	OpINR               // Interrupt by Receiver
	OpINS               // Interrupt by Sender
	OpECO               // Echo
	OpERP               // Echo Reply
	OpERR               // Error
	OpRST               // Reset
	OpRRP               // Reset Reply
)

var opNames = []string{
	"NOP", "RTS", "STR", "CLS", "ALL", "GVB", "RET",
	"INR", "INS", "ECO", "ERP", "ERR", "RST", "RRP",
}

func (o Opcode) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "???"
}

// Message is one decoded control message. Which fields are meaningful
// depends on the opcode; the rest are zero.
//
// LocalSocket and RemoteSocket are from the message sender's point of view:
// on a received RTS/STR/CLS, LocalSocket names the peer's socket and
// RemoteSocket names one of ours.
type Message struct {
	Op           Opcode
	LocalSocket  uint32 // RTS, STR, CLS
	RemoteSocket uint32 // RTS, STR, CLS
	Link         byte   // RTS, ALL, INR, INS
	Size         byte   // STR byte size
	Messages     uint16 // ALL message credit
	Bits         uint32 // ALL bit credit
	Data         byte   // ECO, ERP
	Code         byte   // ERR error code
	Body         []byte // ERR diagnostic bytes
}
