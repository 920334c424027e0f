package main

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/wire"
)

// Peer holds a single connection, whether it belongs to a chat client or to a
// linked peer server. What the peer may do is decided by its current state.
type Peer struct {
	ID   uint64
	Conn Conn

	// WriteChan carries fully serialized lines to the write goroutine. The
	// event loop is the only sender and closes it when the peer goes away.
	WriteChan chan string

	Server *Server

	// Nick is set once the peer logs in or registers. Blank for server peers.
	Nick string

	// connected tracks whether we may still queue writes for this peer. Event
	// loop only.
	connected bool

	state peerState

	log zerolog.Logger
}

// peerState is the per-connection protocol state machine. All methods run on
// the server event loop.
type peerState interface {
	// handle reacts to a message read from this peer's connection.
	handle(m wire.Message)

	// deliver reacts to a message routed to this peer by the dispatcher.
	deliver(m wire.Message)

	// onConnectionClosed cancels anything the state is waiting for.
	onConnectionClosed()

	name() string
}

// NewPeer creates a Peer in the opening state.
func NewPeer(s *Server, id uint64, conn net.Conn) *Peer {
	p := &Peer{
		ID:        id,
		Conn:      NewConn(conn, s.Config.IOWait),
		WriteChan: make(chan string, 100),
		Server:    s,
		connected: true,
		log:       s.log.With().Uint64("peer", id).Logger(),
	}
	p.state = &openingState{peer: p}
	return p
}

func (p *Peer) String() string {
	return fmt.Sprintf("%d %s", p.ID, p.Conn.RemoteAddr())
}

// Receive implements dispatch.Subscriber.
func (p *Peer) Receive(m wire.Message) {
	p.state.deliver(m)
}

func (p *Peer) setState(st peerState) {
	p.log.Debug().Str("from", p.state.name()).Str("to", st.name()).
		Msg("state change")
	p.state = st
}

// sendLine queues one line for the write goroutine. Lines are dropped rather
// than blocking the event loop when the peer cannot keep up.
func (p *Peer) sendLine(line string) {
	if !p.connected {
		return
	}
	select {
	case p.WriteChan <- line:
	default:
		p.log.Warn().Str("line", line).Msg("write queue full, dropping")
	}
}

func (p *Peer) sendf(format string, args ...interface{}) {
	p.sendLine(fmt.Sprintf(format, args...))
}

func (p *Peer) send(m wire.Message) {
	p.sendLine(m.String())
}

// sendNotified writes a notification in its wire form. The content goes as
// the trailing parameter so it may contain spaces.
func (p *Peer) sendNotified(author, target, content string) {
	p.sendf("NOTIFIED %s %s :%s", author, target, content)
}

func (p *Peer) internalError() {
	p.sendLine("ERR_INTERNAL :DB error, please try again.")
}

// close stops this peer's output. With a non-blank reason the client is told
// why first. Event loop only; cleanup of server tables happens when the dead
// connection is reported back.
func (p *Peer) close(reason string) {
	if !p.connected {
		return
	}
	if reason != "" {
		p.sendLine("CLOSED :" + reason)
	}
	p.connected = false
	close(p.WriteChan)
}

// readLoop reads lines and turns them into events for the server loop. It
// exits when the connection dies.
func (p *Peer) readLoop() {
	defer p.Server.WG.Done()

	for {
		line, err := p.Conn.Read()
		if err != nil {
			p.log.Debug().Err(err).Msg("read error")
			break
		}

		p.log.Debug().Str("line", line).Msg("read")

		m, err := wire.Parse(line)
		if err != nil {
			p.Server.newEvent(Event{Type: BadMessageEvent, Peer: p, Err: err})
			continue
		}

		p.Server.newEvent(Event{Type: MessageFromPeerEvent, Peer: p, Message: m})
	}

	p.Server.newEvent(Event{Type: DeadPeerEvent, Peer: p})
}

// writeLoop writes queued lines until WriteChan closes or a write fails, then
// closes the connection. Closing here unblocks the read goroutine too.
func (p *Peer) writeLoop() {
	defer p.Server.WG.Done()

	for line := range p.WriteChan {
		if err := p.Conn.Write(line + "\n"); err != nil {
			p.log.Debug().Err(err).Msg("write error")
			break
		}
		p.log.Debug().Str("line", line).Msg("sent")
	}

	_ = p.Conn.Close()

	p.Server.newEvent(Event{Type: DeadPeerEvent, Peer: p})
}

// openingState awaits the first message of a connection, which decides what
// kind of peer this is. Anything but REGISTER, LOGIN or CONNECT ends the
// connection.
type openingState struct {
	peer *Peer
}

func (st *openingState) name() string { return "opening" }

func (st *openingState) handle(m wire.Message) {
	p := st.peer

	switch m.Command {
	case "REGISTER":
		newRegisteringState(p).register(m.Params[0], m.Params[1])
	case "LOGIN":
		newLoggingInState(p).login(m.Params[0])
	case "CONNECT":
		if m.Params[0] != p.Server.Config.LinkPassword {
			p.log.Warn().Msg("server link with bad password")
			p.close("Incorrect opening.")
			return
		}
		p.log.Info().Msg("server link established")
		p.setState(&serverLinkState{peer: p})
		p.Server.Dispatcher.AddPeer(p, "")
	default:
		p.close("Incorrect opening.")
	}
}

func (st *openingState) deliver(m wire.Message) {
	st.peer.log.Warn().Str("command", m.Command).Msg("dropping delivery in opening state")
}

func (st *openingState) onConnectionClosed() {}

// passwordWarnings is how many out-of-place messages a connection waiting for
// PASSWORD gets away with before we close it.
const passwordWarnings = 3

func contains(nicks []string, nick string) bool {
	for _, n := range nicks {
		if n == nick {
			return true
		}
	}
	return false
}

// missing returns the nicks in want that are absent from have, preserving
// order and duplicates.
func missing(want, have []string) []string {
	var out []string
	for _, n := range want {
		if !contains(have, n) {
			out = append(out, n)
		}
	}
	return out
}

// notifyOrPersist delivers content to target immediately when they are online
// locally, otherwise stores it for their next login.
func (s *Server) notifyOrPersist(author, target, content string) {
	if len(s.Dispatcher.IsOn([]string{target})) > 0 {
		s.Dispatcher.Notify(target, wire.Message{
			Command: "NOTIFIED",
			Params:  []string{author, target, content},
		})
		return
	}

	s.DB.AddNotification(author, target, content, nil)
	if s.Metrics != nil {
		s.Metrics.NotificationPersisted()
	}
}
