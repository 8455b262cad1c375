// Package host drives the single logical NCP connection: the two-phase
// rendezvous on a well-known listen socket, the credit-gated data phase
// bridging to the operator console, and teardown back to the listening
// state. All methods are called from one event loop goroutine; the package
// holds no locks.
package host

import (
	"encoding/binary"

	"github.com/obsolescence/arpanet/internal/config"
	"github.com/obsolescence/arpanet/internal/console"
	"github.com/obsolescence/arpanet/internal/imp"
	"github.com/obsolescence/arpanet/internal/ncp"
	"github.com/obsolescence/arpanet/internal/telnet"
	"github.com/obsolescence/arpanet/internal/util"
)

// State is the connection state.
type State int

const (
	// StateListening is the idle state, ready to accept a request.
	StateListening State = iota
	// StateICPPhase1 has replied STR on the listen socket and awaits a
	// credit grant on the proposed handshake link.
	StateICPPhase1
	// StateICPPhase2 has allocated and announced the data socket pair and
	// awaits the peer's matching STR and RTS.
	StateICPPhase2
	// StateEstablished has both data legs confirmed and the console active.
	StateEstablished
	// StateClosing has finished a close sequence on the network side but
	// still owns a console draining its logout. New requests are accepted.
	StateClosing
)

var stateNames = []string{"LISTENING", "ICP_PHASE1", "ICP_PHASE2", "ESTABLISHED", "CLOSING"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "???"
}

// Dialect selects the terminal-control encoding, fixed by which listen
// socket the peer connected to.
type Dialect int

const (
	DialectOld Dialect = iota
	DialectNew
)

// Protocol constants from the historical deployment.
const (
	firstDataSocket = 100 // data socket pairs are allocated upward from here
	dataSendLink    = 45  // link this host sends terminal output on
	icpByteSize     = 32  // byte size proposed for the handshake connection
	dataByteSize    = 8   // byte size of the terminal data connections
	loginDelay      = 1   // ticks between console connect and the login line
	logoutDelay     = 3   // ticks between the logout line and console close
	creditMessages  = 10  // message credit granted to the peer per ALL
	creditBits      = 16000
	readyNops       = 3 // NOPs announcing readiness at startup and after reset
)

// Wire sends logical messages toward the IMP.
type Wire interface {
	Send(imp.Message) error
}

// Console is the session's view of the console bridge.
type Console interface {
	Events() <-chan console.Event
	Write(p []byte) error
	Close()
}

// Params configures a Session.
type Params struct {
	Config      config.Config
	Wire        Wire
	DialConsole func(addr string) (Console, error)
}

// Session owns the one logical connection this process models, plus the
// process-wide logical clock and readiness announcements.
type Session struct {
	cfg         config.Config
	wire        Wire
	dialConsole func(addr string) (Console, error)

	tick        uint64
	nopsPending int

	state    State
	dialect  Dialect
	peerHost byte

	// Rendezvous phase 1, on the listen socket.
	listenSocket    uint32
	icpRemoteSocket uint32
	icpLink         byte

	// Data socket pair. The receive socket is the even base; the send
	// socket is base+1.
	recvLocal  uint32
	sendLocal  uint32
	recvRemote uint32 // peer's send socket, from its STR
	sendRemote uint32 // peer's receive socket, from its RTS
	recvLink   byte   // link the peer sends terminal input on, from its RTS
	gotSTR     bool
	gotRTS     bool

	nextDataSocket uint32

	sendCredit int
	out        *OutBuffer

	cons       Console
	consEOF    bool // console hit EOF during the login window
	translator telnet.Translator
	loginAt    uint64 // tick of the pending login action; 0 = unarmed

	// A console finishing its logout after the connection itself has been
	// torn down. Kept apart from cons so a new rendezvous can start while
	// the old console drains.
	draining Console
	drainAt  uint64
}

// New creates a Session in the listening state.
func New(p Params) *Session {
	dial := p.DialConsole
	if dial == nil {
		dial = func(addr string) (Console, error) { return console.Dial(addr) }
	}
	return &Session{
		cfg:            p.Config,
		wire:           p.Wire,
		dialConsole:    dial,
		state:          StateListening,
		nextDataSocket: firstDataSocket,
		nopsPending:    readyNops,
		out:            NewOutBuffer(),
	}
}

// State reports the current connection state.
func (s *Session) State() State {
	return s.state
}

// ConsoleEvents returns the active console's event channel, or nil when no
// console is open. A nil channel never fires in a select.
func (s *Session) ConsoleEvents() <-chan console.Event {
	if s.cons == nil {
		return nil
	}
	return s.cons.Events()
}

// DrainingEvents returns the event channel of a console finishing its
// logout, or nil.
func (s *Session) DrainingEvents() <-chan console.Event {
	if s.draining == nil {
		return nil
	}
	return s.draining.Events()
}

// Shutdown closes any console the session still owns.
func (s *Session) Shutdown() {
	if s.cons != nil {
		s.cons.Close()
		s.cons = nil
	}
	if s.draining != nil {
		s.draining.Close()
		s.draining = nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// IMP events
// ─────────────────────────────────────────────────────────────────────────────

// HandleEvent dispatches one link event.
func (s *Session) HandleEvent(ev imp.Event) {
	switch ev.Kind {
	case imp.EventPeerReady:
		if ev.Ready {
			util.LogInfo("imp: ready")
		} else {
			util.LogInfo("imp: not ready")
		}
	case imp.EventMessage:
		s.handleMessage(ev.Msg)
	}
}

func (s *Session) handleMessage(m imp.Message) {
	switch m.Type {
	case imp.TypeRegular:
		if m.Link == imp.ControlLink {
			msgs, err := ncp.Decode(m.Data)
			if err != nil {
				util.LogWarning("ncp: from host %d: %v", m.Host, err)
			}
			for _, cm := range msgs {
				s.handleControl(m.Host, cm)
			}
		} else {
			s.handleData(m.Host, m.Link, m.Data)
		}
	case imp.TypeReset:
		util.LogInfo("imp: reset received, re-announcing readiness")
		s.nopsPending = readyNops
	case imp.TypeRFNM:
		// Ready For Next Message — nothing gated on it here.
	default:
		util.LogDebug("imp: %s message from host %d ignored", m.Type, m.Host)
	}
}

func (s *Session) handleControl(src byte, cm ncp.Message) {
	switch cm.Op {
	case ncp.OpNOP:
	case ncp.OpRTS:
		s.handleRTS(src, cm)
	case ncp.OpSTR:
		s.handleSTR(src, cm)
	case ncp.OpCLS:
		s.handleCLS(src, cm)
	case ncp.OpALL:
		s.handleALL(src, cm)
	case ncp.OpRST:
		util.LogInfo("ncp: RST from host %d", src)
		s.sendControl(src, ncp.Message{Op: ncp.OpRRP})
	case ncp.OpRRP:
		util.LogInfo("ncp: RRP from host %d", src)
	case ncp.OpECO:
		util.LogDebug("ncp: ECO %d from host %d", cm.Data, src)
		s.sendControl(src, ncp.Message{Op: ncp.OpERP, Data: cm.Data})
	case ncp.OpERP:
		util.LogDebug("ncp: ERP %d from host %d", cm.Data, src)
	case ncp.OpERR:
		util.LogWarning("ncp: ERR code %d from host %d", cm.Code, src)
	default:
		util.LogDebug("ncp: %s from host %d ignored", cm.Op, src)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Rendezvous
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) handleRTS(src byte, cm ncp.Message) {
	util.LogInfo("ncp: RTS from host %d, sockets %d:%d link %d",
		src, cm.LocalSocket, cm.RemoteSocket, cm.Link)

	switch s.state {
	case StateListening, StateClosing:
		// Phase 1: a request on one of the well-known listen sockets.
		target := cm.RemoteSocket
		if target != s.cfg.OldSocket && target != s.cfg.NewSocket {
			util.LogInfo("ncp: not listening on socket %d, refusing", target)
			s.sendControl(src, ncp.Message{Op: ncp.OpCLS, LocalSocket: target, RemoteSocket: cm.LocalSocket})
			return
		}

		s.state = StateICPPhase1
		s.peerHost = src
		s.listenSocket = target
		s.icpRemoteSocket = cm.LocalSocket
		s.icpLink = cm.Link
		if target == s.cfg.OldSocket {
			s.dialect = DialectOld
			s.translator = telnet.OldTranslator{}
		} else {
			s.dialect = DialectNew
			s.translator = &telnet.NewTranslator{}
		}

		s.sendControl(src, ncp.Message{
			Op:           ncp.OpSTR,
			LocalSocket:  s.listenSocket,
			RemoteSocket: s.icpRemoteSocket,
			Size:         icpByteSize,
		})
		util.LogInfo("ncp: rendezvous phase 1 started, %s dialect", dialectName(s.dialect))

	case StateICPPhase2:
		// Phase 2: RTS naming our send socket carries the peer's receive
		// socket and the link it will use toward us.
		if cm.RemoteSocket != s.sendLocal {
			util.LogWarning("ncp: RTS for unexpected socket %d (want %d)", cm.RemoteSocket, s.sendLocal)
			return
		}
		s.sendRemote = cm.LocalSocket
		s.recvLink = cm.Link
		s.gotRTS = true
		s.maybeEstablish()

	default:
		// One connection at a time: refuse rather than queue.
		util.LogInfo("ncp: busy, refusing request from host %d", src)
		s.sendControl(src, ncp.Message{Op: ncp.OpCLS, LocalSocket: cm.RemoteSocket, RemoteSocket: cm.LocalSocket})
	}
}

func (s *Session) handleSTR(src byte, cm ncp.Message) {
	util.LogInfo("ncp: STR from host %d, sockets %d:%d size %d",
		src, cm.LocalSocket, cm.RemoteSocket, cm.Size)

	if s.state != StateICPPhase2 {
		util.LogDebug("ncp: STR ignored in state %s", s.state)
		return
	}
	if cm.RemoteSocket != s.recvLocal {
		util.LogWarning("ncp: STR for unexpected socket %d (want %d)", cm.RemoteSocket, s.recvLocal)
		return
	}
	s.recvRemote = cm.LocalSocket
	s.gotSTR = true
	s.maybeEstablish()
}

func (s *Session) handleALL(src byte, cm ncp.Message) {
	util.LogInfo("ncp: ALL from host %d, link %d: %d messages, %d bits",
		src, cm.Link, cm.Messages, cm.Bits)

	switch s.state {
	case StateICPPhase1:
		if cm.Link != s.icpLink {
			util.LogWarning("ncp: ALL for link %d during rendezvous (want %d), ignored", cm.Link, s.icpLink)
			return
		}

		// Allocate a fresh data socket pair and announce the receive
		// socket to the peer on the handshake link.
		base := s.nextDataSocket
		s.nextDataSocket += 2
		s.recvLocal = base
		s.sendLocal = base + 1
		s.gotSTR = false
		s.gotRTS = false

		var word [4]byte
		binary.BigEndian.PutUint32(word[:], s.recvLocal)
		s.sendData(s.icpLink, icpByteSize, word[:])

		// The handshake pair has served its purpose.
		s.sendControl(src, ncp.Message{
			Op:           ncp.OpCLS,
			LocalSocket:  s.listenSocket,
			RemoteSocket: s.icpRemoteSocket,
		})

		// Open both data legs against the peer's socket pair, which sits
		// at a fixed offset from its handshake socket.
		s.sendControl(src, ncp.Message{
			Op:           ncp.OpSTR,
			LocalSocket:  s.sendLocal,
			RemoteSocket: s.icpRemoteSocket + 2,
			Size:         dataByteSize,
		})
		s.sendControl(src, ncp.Message{
			Op:           ncp.OpRTS,
			LocalSocket:  s.recvLocal,
			RemoteSocket: s.icpRemoteSocket + 3,
			Link:         dataSendLink,
		})

		s.state = StateICPPhase2
		util.LogInfo("ncp: rendezvous phase 2, announced socket %d", s.recvLocal)

	case StateEstablished:
		if cm.Link != dataSendLink {
			util.LogWarning("ncp: ALL for link %d (want %d), ignored", cm.Link, dataSendLink)
			return
		}
		s.sendCredit += int(cm.Messages)
		util.LogDebug("ncp: send credit now %d", s.sendCredit)
		s.flush()

	default:
		util.LogDebug("ncp: ALL ignored in state %s", s.state)
	}
}

// maybeEstablish completes phase 2 once both the peer's STR and RTS have
// arrived, in either order.
func (s *Session) maybeEstablish() {
	if !s.gotSTR || !s.gotRTS {
		return
	}

	cons, err := s.dialConsole(s.cfg.ConsoleAddr)
	if err != nil {
		util.LogError("host: console connect failed, closing: %v", err)
		s.closeDataLegs()
		s.resetToListening()
		return
	}

	s.cons = cons
	s.state = StateEstablished
	// Discard stale console output (login banner remnants) before acting.
	s.loginAt = s.tick + loginDelay
	util.LogInfo("host: connection established, settling console for %d tick(s)", loginDelay)
}

func (s *Session) handleCLS(src byte, cm ncp.Message) {
	util.LogInfo("ncp: CLS from host %d, sockets %d:%d", src, cm.LocalSocket, cm.RemoteSocket)

	if s.state == StateListening || s.state == StateClosing {
		return
	}

	// The peer closing its half of the handshake pair is an expected part
	// of the rendezvous, not a teardown.
	if s.state == StateICPPhase2 && cm.RemoteSocket == s.listenSocket {
		util.LogDebug("ncp: handshake close acknowledged")
		return
	}

	if s.state == StateICPPhase2 || s.state == StateEstablished {
		s.closeDataLegs()
	}
	s.beginLogout()
	s.resetToListening()
	util.LogInfo("host: connection closed, listening again")
}

// closeDataLegs sends one CLS on each direction of the data connection.
func (s *Session) closeDataLegs() {
	s.sendControl(s.peerHost, ncp.Message{
		Op:           ncp.OpCLS,
		LocalSocket:  s.sendLocal,
		RemoteSocket: s.sendRemote,
	})
	s.sendControl(s.peerHost, ncp.Message{
		Op:           ncp.OpCLS,
		LocalSocket:  s.recvLocal,
		RemoteSocket: s.recvRemote,
	})
}

// beginLogout hands the open console to the draining slot with a pending
// logout, so the session can accept a new request while the old console
// finishes.
func (s *Session) beginLogout() {
	if s.cons == nil {
		return
	}
	if s.draining != nil {
		// A previous drain is still pending; finish it now.
		s.draining.Close()
	}
	if err := s.cons.Write([]byte("logout\r\n")); err != nil {
		util.LogWarning("console: logout write: %v", err)
	}
	s.draining = s.cons
	s.drainAt = s.tick + logoutDelay
	s.cons = nil
	util.LogInfo("console: logout sent, closing in %d tick(s)", logoutDelay)
}

// resetToListening clears all connection state. The draining console, if
// any, keeps the session in StateClosing until its deadline.
func (s *Session) resetToListening() {
	s.peerHost = 0
	s.listenSocket = 0
	s.icpRemoteSocket = 0
	s.icpLink = 0
	s.recvLocal = 0
	s.sendLocal = 0
	s.recvRemote = 0
	s.sendRemote = 0
	s.recvLink = 0
	s.gotSTR = false
	s.gotRTS = false
	s.sendCredit = 0
	s.out.Reset()
	s.translator = nil
	s.loginAt = 0
	s.consEOF = false
	if s.cons != nil {
		s.cons.Close()
		s.cons = nil
	}
	if s.draining != nil {
		s.state = StateClosing
	} else {
		s.state = StateListening
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Data phase
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) handleData(src byte, link byte, data []byte) {
	if s.state != StateEstablished {
		util.LogDebug("host: data from host %d ignored in state %s", src, s.state)
		return
	}
	if link != s.recvLink {
		util.LogDebug("host: data on link %d ignored (want %d)", link, s.recvLink)
		return
	}

	out := s.translator.Translate(data)
	if len(out) > 0 && s.cons != nil {
		if err := s.cons.Write(out); err != nil {
			util.LogWarning("console: write: %v", err)
		}
	}

	// Keep the peer's sender moving.
	s.grantCredit()
}

func (s *Session) grantCredit() {
	s.sendControl(s.peerHost, ncp.Message{
		Op:       ncp.OpALL,
		Link:     s.recvLink,
		Messages: creditMessages,
		Bits:     creditBits,
	})
}

// HandleConsole processes one event from the active console.
func (s *Session) HandleConsole(ev console.Event) {
	if s.cons == nil {
		return
	}

	// While the login line is pending, stale banner bytes are discarded
	// and a premature EOF is left for the normal path to notice later.
	if s.loginAt != 0 {
		if ev.Kind == console.EventData {
			util.LogDebug("console: discarding %d stale bytes before login", len(ev.Data))
		} else {
			util.LogDebug("console: EOF before login, deferring")
			s.consEOF = true
		}
		return
	}

	switch ev.Kind {
	case console.EventData:
		s.out.Enqueue(ev.Data)
		s.flush()
	case console.EventEOF:
		util.LogInfo("console: disconnected, closing connection")
		s.cons.Close()
		s.cons = nil
		s.closeDataLegs()
		s.resetToListening()
	}
}

// HandleDraining discards events from a console that is logging out.
func (s *Session) HandleDraining(ev console.Event) {
	if ev.Kind == console.EventData {
		util.LogDebug("console: discarding %d bytes during logout", len(ev.Data))
	}
}

// flush releases buffered console output while send credit lasts, one
// credit per data message.
func (s *Session) flush() {
	for s.sendCredit > 0 {
		chunk := s.out.Next()
		if chunk == nil {
			return
		}
		s.sendData(dataSendLink, dataByteSize, chunk)
		s.sendCredit--
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Clock
// ─────────────────────────────────────────────────────────────────────────────

// Tick advances the logical clock and performs due timed actions: paced
// readiness NOPs, the delayed login line with its first credit grant, and
// the delayed console close after logout.
func (s *Session) Tick() {
	s.tick++

	if s.nopsPending > 0 {
		s.nopsPending--
		if err := s.wire.Send(imp.Message{Type: imp.TypeNOP}); err != nil {
			util.LogWarning("imp: NOP send: %v", err)
		}
	}

	if s.loginAt != 0 && s.tick >= s.loginAt && s.cons != nil {
		s.loginAt = 0
		util.LogInfo("console: sending login")
		if err := s.cons.Write([]byte("login\r")); err != nil {
			util.LogWarning("console: login write: %v", err)
		}
		s.grantCredit()
		if s.consEOF {
			// The console went away during the settle window.
			s.HandleConsole(console.Event{Kind: console.EventEOF})
		}
	}

	if s.drainAt != 0 && s.tick >= s.drainAt {
		s.drainAt = 0
		if s.draining != nil {
			s.draining.Close()
			s.draining = nil
		}
		if s.state == StateClosing {
			s.state = StateListening
		}
		util.LogInfo("console: closed after logout")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Wire helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) sendControl(host byte, msgs ...ncp.Message) {
	var buf []byte
	for _, m := range msgs {
		buf = ncp.Append(buf, m)
		util.LogDebug("ncp: sending %s to host %d", m.Op, host)
	}
	err := s.wire.Send(imp.Message{
		Type: imp.TypeRegular,
		Host: host,
		Link: imp.ControlLink,
		Size: dataByteSize,
		Data: buf,
	})
	if err != nil {
		util.LogWarning("ncp: send: %v", err)
	}
}

func (s *Session) sendData(link byte, size byte, data []byte) {
	err := s.wire.Send(imp.Message{
		Type: imp.TypeRegular,
		Host: s.peerHost,
		Link: link,
		Size: size,
		Data: data,
	})
	if err != nil {
		util.LogWarning("host: data send: %v", err)
	}
}

func dialectName(d Dialect) string {
	if d == DialectOld {
		return "old"
	}
	return "new"
}
