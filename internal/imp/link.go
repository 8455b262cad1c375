package imp

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/obsolescence/arpanet/internal/util"
)

// EventKind discriminates the events a Link delivers to its owner.
type EventKind int

const (
	// EventMessage carries one assembled, parsed message.
	EventMessage EventKind = iota
	// EventPeerReady reports a change of the peer's READY flag.
	EventPeerReady
)

// Event is one occurrence on the link, delivered in arrival order.
type Event struct {
	Kind  EventKind
	Msg   Message // valid when Kind == EventMessage
	Ready bool    // valid when Kind == EventPeerReady
}

// Link is the UDP leg to the IMP. Send and SetHostReady must be called from
// a single goroutine (the owning event loop); the receive path runs in its
// own goroutine started by Start and publishes through the event channel.
type Link struct {
	conn *net.UDPConn
	dest *net.UDPAddr

	txSeq uint32
	ready bool // local READY flag, mirrored into every outbound frame

	asm       assembler
	peerReady bool

	events chan Event
}

// Dial binds the local UDP port and resolves the IMP's address. Failure
// here is the one fatal condition of the process.
func Dial(localPort int, peerAddr string) (*Link, error) {
	dest, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve IMP address %q", peerAddr)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, errors.Wrapf(err, "bind UDP port %d", localPort)
	}
	util.LogInfo("imp: link to %s, listening on port %d", peerAddr, localPort)
	return &Link{
		conn:   conn,
		dest:   dest,
		events: make(chan Event, 16),
	}, nil
}

// LocalAddr returns the bound UDP address.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Send transmits one logical message, fragmenting as needed. The LAST flag
// is set only on the final frame; the READY flag mirrors the local state on
// every frame. The transmit sequence number advances once per frame.
func (l *Link) Send(m Message) error {
	return l.sendPayload(m.Marshal())
}

// SetHostReady announces a change of the local READY flag with an empty
// message. Setting the current value again is a no-op.
func (l *Link) SetHostReady(ready bool) error {
	if l.ready == ready {
		return nil
	}
	l.ready = ready
	return l.sendPayload(nil)
}

func (l *Link) sendPayload(payload []byte) error {
	for first := true; first || len(payload) > 0; first = false {
		n := len(payload)
		if n > MaxFramePayload {
			n = MaxFramePayload
		}
		flags := uint16(0)
		if l.ready {
			flags |= FlagReady
		}
		if n == len(payload) {
			flags |= FlagLast
		}
		buf := encodeFrame(l.txSeq, flags, payload[:n])
		l.txSeq++
		if _, err := l.conn.WriteToUDP(buf, l.dest); err != nil {
			return errors.Wrap(err, "imp send")
		}
		util.Stats.AddSent(len(buf))
		payload = payload[n:]
	}
	return nil
}

// Start launches the receive goroutine and returns the event channel. The
// channel is closed when ctx is cancelled or the socket fails.
func (l *Link) Start(ctx context.Context) <-chan Event {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()
	go l.readLoop(ctx)
	return l.events
}

// readLoop validates datagrams, tracks the peer READY flag, reassembles
// logical messages, and publishes events. Framing faults are logged and
// dropped; they never tear anything down.
func (l *Link) readLoop(ctx context.Context) {
	defer close(l.events)
	buf := make([]byte, 64*1024)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				// Socket closed during shutdown — expected.
			default:
				util.LogError("imp: receive: %v", err)
			}
			return
		}
		util.Stats.AddRecv(n)

		f, err := parseFrame(buf[:n])
		if err != nil {
			util.LogWarning("imp: dropping datagram: %v", err)
			util.Stats.AddDrop()
			continue
		}

		if ready := f.flags&FlagReady != 0; ready != l.peerReady {
			l.peerReady = ready
			if !l.deliver(ctx, Event{Kind: EventPeerReady, Ready: ready}) {
				return
			}
		}

		payload, err := l.asm.feed(f)
		if err != nil {
			util.LogWarning("imp: dropping frame: %v", err)
			util.Stats.AddDrop()
			continue
		}
		if payload == nil {
			continue
		}

		msg, err := parseMessage(payload)
		if err != nil {
			util.LogWarning("imp: dropping message: %v", err)
			util.Stats.AddDrop()
			continue
		}
		if !l.deliver(ctx, Event{Kind: EventMessage, Msg: msg}) {
			return
		}
	}
}

func (l *Link) deliver(ctx context.Context, ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
