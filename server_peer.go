package main

import (
	"github.com/parley-chat/parley/internal/wire"
)

// serverLinkState is an authenticated peer server. Anything the dispatcher
// routes to it is forwarded on the wire; mirror events arriving from it are
// re-emitted to the local peers they concern.
type serverLinkState struct {
	peer *Peer
}

func (st *serverLinkState) name() string { return "server link" }

func (st *serverLinkState) handle(m wire.Message) {
	p := st.peer
	d := p.Server.Dispatcher

	switch m.Command {
	case "DISCONNECT":
		p.log.Info().Msg("peer server disconnecting")
		p.close("")

	case "SYNC":
		// State exchange on link establishment is not implemented; peers
		// converge through the mirror stream.
		p.log.Debug().Msg("ignoring SYNC from peer server")

	case "MSG":
		d.Publish(m.Params[0], p, m)

	case "KICKED":
		d.Publish(m.Params[0], p, m)

	case "OK_DELETED":
		d.Publish(m.Params[0], p, m)
		d.RemoveChannel(m.Params[0])

	case "NOTIFIED":
		d.Notify(m.Params[1], m)

	case "OK_REG", "OK_LOGIN", "OK_LOGOUT", "OK_UNREG",
		"OK_CREATED", "OK_JOINED", "USR_QUIT", "ADDED":
		// Account and membership mirrors carry no local side effect; each
		// server answers for its own records.
		p.log.Debug().Str("command", m.Command).Msg("mirror event")

	default:
		p.log.Warn().Str("command", m.Command).Msg("unexpected message from peer server")
	}
}

func (st *serverLinkState) deliver(m wire.Message) {
	st.peer.send(m)
}

func (st *serverLinkState) onConnectionClosed() {}
