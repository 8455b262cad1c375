// Package console owns the outbound TCP leg to the local operator console.
package console

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/obsolescence/arpanet/internal/util"
)

// EventKind discriminates console reader events.
type EventKind int

const (
	// EventData carries bytes typed at the console.
	EventData EventKind = iota
	// EventEOF reports that the console closed its side.
	EventEOF
)

// Event is one occurrence on the console connection.
type Event struct {
	Kind EventKind
	Data []byte
}

// Bridge is one TCP connection to the console. Write and Close are called
// only by the owning event loop; a reader goroutine feeds the event
// channel. The channel is never closed — after EventEOF it simply goes
// silent, which lets the owner ignore EOF during a suppression window
// without re-triggering.
type Bridge struct {
	conn   net.Conn
	events chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the console endpoint and starts the reader.
func Dial(addr string) (*Bridge, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect console %s", addr)
	}
	b := &Bridge{
		conn:   conn,
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	util.LogInfo("console: connected to %s", addr)
	return b, nil
}

// Events returns the reader's event channel.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Write sends bytes to the console.
func (b *Bridge) Write(p []byte) error {
	_, err := b.conn.Write(p)
	return errors.Wrap(err, "console write")
}

// Close shuts the connection down and releases the reader. Idempotent.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.conn.Close()
	})
}

func (b *Bridge) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !b.deliver(Event{Kind: EventData, Data: data}) {
				return
			}
		}
		if err != nil {
			b.deliver(Event{Kind: EventEOF})
			return
		}
	}
}

func (b *Bridge) deliver(ev Event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}
