package imp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPeer is a bare UDP socket standing in for the IMP.
type testPeer struct {
	t    *testing.T
	conn *net.UDPConn
}

func newTestPeer(t *testing.T) *testPeer {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn}
}

func (p *testPeer) addr() string {
	return p.conn.LocalAddr().String()
}

// readFrame blocks for one datagram and parses it.
func (p *testPeer) readFrame() frame {
	p.t.Helper()
	buf := make([]byte, 64*1024)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := p.conn.ReadFromUDP(buf)
	require.NoError(p.t, err)
	f, err := parseFrame(buf[:n])
	require.NoError(p.t, err)
	return f
}

func (p *testPeer) sendTo(link *Link, datagram []byte) {
	p.t.Helper()
	port := link.LocalAddr().(*net.UDPAddr).Port
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	_, err := p.conn.WriteToUDP(datagram, dest)
	require.NoError(p.t, err)
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event within deadline")
		return Event{}
	}
}

// TestLinkSendFragments sends a message longer than one frame and checks
// the fragmentation on the wire: sequence numbers advance per frame and
// only the final frame carries LAST.
func TestLinkSendFragments(t *testing.T) {
	peer := newTestPeer(t)
	link, err := Dial(0, peer.addr())
	require.NoError(t, err)
	defer link.conn.Close()

	data := make([]byte, MaxFramePayload+40)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, link.Send(Message{Type: TypeRegular, Host: 11, Link: 45, Size: 8, Data: data}))

	first := peer.readFrame()
	assert.Equal(t, uint32(0), first.seq)
	assert.Zero(t, first.flags&FlagLast)
	assert.Len(t, first.payload, MaxFramePayload)

	second := peer.readFrame()
	assert.Equal(t, uint32(1), second.seq)
	assert.NotZero(t, second.flags&FlagLast)

	var a assembler
	_, err = a.feed(first)
	require.NoError(t, err)
	payload, err := a.feed(second)
	require.NoError(t, err)

	msg, err := parseMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, data, msg.Data)
}

// TestLinkReceive feeds the link a fragmented message plus READY flag
// changes and checks the delivered events.
func TestLinkReceive(t *testing.T) {
	peer := newTestPeer(t)
	link, err := Dial(0, peer.addr())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := link.Start(ctx)

	wire := Message{Type: TypeRegular, Host: 11, Link: ControlLink, Size: 8, Data: []byte{0, 12}}.Marshal()
	peer.sendTo(link, encodeFrame(0, FlagReady, wire[:4]))
	peer.sendTo(link, encodeFrame(1, FlagReady|FlagLast, wire[4:]))

	ev := waitEvent(t, events)
	require.Equal(t, EventPeerReady, ev.Kind)
	assert.True(t, ev.Ready)

	ev = waitEvent(t, events)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, TypeRegular, ev.Msg.Type)
	assert.Equal(t, byte(11), ev.Msg.Host)
	assert.Equal(t, []byte{0, 12}, ev.Msg.Data)

	// READY withdrawn with an empty frame.
	peer.sendTo(link, encodeFrame(2, FlagLast, nil))
	ev = waitEvent(t, events)
	require.Equal(t, EventPeerReady, ev.Kind)
	assert.False(t, ev.Ready)
}

// TestLinkDropsFaultyDatagrams verifies that garbage on the wire is
// discarded without disturbing later traffic.
func TestLinkDropsFaultyDatagrams(t *testing.T) {
	peer := newTestPeer(t)
	link, err := Dial(0, peer.addr())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := link.Start(ctx)

	peer.sendTo(link, []byte("not a frame at all"))

	wire := Message{Type: TypeNOP}.Marshal()
	peer.sendTo(link, encodeFrame(0, FlagLast, wire))

	ev := waitEvent(t, events)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, TypeNOP, ev.Msg.Type)
}

// TestLinkShutdown verifies that cancelling the context closes the event
// channel.
func TestLinkShutdown(t *testing.T) {
	peer := newTestPeer(t)
	link, err := Dial(0, peer.addr())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := link.Start(ctx)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed")
	}
}
