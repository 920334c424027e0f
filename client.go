package main

import (
	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/dispatch"
	"github.com/parley-chat/parley/internal/wire"
)

// registeringState runs the REGISTER exchange: availability check, password
// prompt, account creation. The password continuation is armed only after the
// nick and mail check out, and cancelled if the connection dies first.
type registeringState struct {
	peer *Peer

	pendingPassword func(password string)
	warnings        int
}

func newRegisteringState(p *Peer) *registeringState {
	st := &registeringState{peer: p, warnings: passwordWarnings}
	p.setState(st)
	return st
}

func (st *registeringState) name() string { return "registering" }

func (st *registeringState) handle(m wire.Message) {
	switch m.Command {
	case "PASSWORD":
		if st.pendingPassword == nil {
			st.outOfPlace()
			return
		}
		fn := st.pendingPassword
		st.pendingPassword = nil
		fn(m.Params[0])
	default:
		st.outOfPlace()
	}
}

// outOfPlace warns a few times about messages that are not the awaited
// PASSWORD, then gives up on the connection.
func (st *registeringState) outOfPlace() {
	if st.warnings > 0 {
		st.warnings--
		st.peer.sendLine("WARN :Provide password.")
		return
	}
	st.peer.close("Password message expected.")
}

func (st *registeringState) register(nick, mail string) {
	p := st.peer
	s := p.Server

	s.DB.AccountAvailable(nick, mail, func(nickFree, mailFree bool, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.internalError()
			return
		}

		if !nickFree || !mailFree {
			if !mailFree {
				p.sendf("ERR_TAKEN mail %s", mail)
			} else {
				p.sendf("ERR_TAKEN nick %s", nick)
			}
			p.setState(&openingState{peer: p})
			return
		}

		st.pendingPassword = func(password string) {
			st.createAccount(nick, mail, password)
		}
		p.sendLine("RPL_PWD")
	})
}

func (st *registeringState) createAccount(nick, mail, password string) {
	p := st.peer
	s := p.Server

	s.DB.AddUser(nick, mail, password, func(err error) {
		if !p.connected {
			return
		}
		if err == db.ErrExists {
			// Someone took the nick or mail between our check and the insert.
			p.sendf("ERR_CLASH_REG %s", nick)
			p.setState(&openingState{peer: p})
			return
		}
		if err != nil {
			p.internalError()
			return
		}

		p.sendf("OK_REG %s %s %s", nick, mail, password)
		s.Dispatcher.Publish(dispatch.Servers, p, wire.Message{
			Command: "OK_REG",
			Params:  []string{nick, mail, password},
		})

		newLoggedInState(p, nick, true)
	})
}

func (st *registeringState) deliver(m wire.Message) {
	st.peer.log.Warn().Str("command", m.Command).
		Msg("dropping delivery while registering")
}

func (st *registeringState) onConnectionClosed() {
	if st.pendingPassword != nil {
		st.pendingPassword = nil
		st.peer.log.Debug().Msg("registration abandoned before password")
	}
}

// loggingInState runs the LOGIN exchange. The client gets a few password
// attempts before the connection is closed.
type loggingInState struct {
	peer *Peer

	pendingPassword func(password string)
	warnings        int
	attempts        int
}

func newLoggingInState(p *Peer) *loggingInState {
	st := &loggingInState{
		peer:     p,
		warnings: passwordWarnings,
		attempts: passwordWarnings,
	}
	p.setState(st)
	return st
}

func (st *loggingInState) name() string { return "logging in" }

func (st *loggingInState) handle(m wire.Message) {
	switch m.Command {
	case "PASSWORD":
		if st.pendingPassword == nil {
			st.outOfPlace()
			return
		}
		fn := st.pendingPassword
		st.pendingPassword = nil
		fn(m.Params[0])
	default:
		st.outOfPlace()
	}
}

func (st *loggingInState) outOfPlace() {
	if st.warnings > 0 {
		st.warnings--
		st.peer.sendLine("WARN :Provide password.")
		return
	}
	st.peer.close("Password message expected.")
}

func (st *loggingInState) login(nick string) {
	p := st.peer
	s := p.Server

	s.DB.UsersRegistered([]string{nick}, func(registered []string, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.internalError()
			return
		}

		if !contains(registered, nick) {
			p.sendf("ERR_NOUSER %s", nick)
			p.setState(&openingState{peer: p})
			return
		}

		// One session per nick. A second login would shadow the first in the
		// dispatcher and orphan its channel presence.
		if len(s.Dispatcher.IsOn([]string{nick})) > 0 {
			p.sendf("ERR_CLASH_LOGIN %s", nick)
			p.setState(&openingState{peer: p})
			return
		}

		st.armPassword(nick)
		p.sendLine("RPL_PWD")
	})
}

func (st *loggingInState) armPassword(nick string) {
	st.pendingPassword = func(password string) {
		st.checkPassword(nick, password)
	}
}

func (st *loggingInState) checkPassword(nick, password string) {
	p := st.peer
	s := p.Server

	s.DB.PasswordCorrect(nick, password, func(ok bool, err error) {
		if !p.connected {
			return
		}
		if err != nil && err != db.ErrNoSuchUser {
			p.internalError()
			return
		}

		if ok {
			newLoggedInState(p, nick, true)
			return
		}

		st.attempts--
		if st.attempts > 0 {
			st.armPassword(nick)
			p.sendf("ERR_BAD_PASSWORD %d", st.attempts)
			return
		}

		p.close("Too many password retries.")
	})
}

func (st *loggingInState) deliver(m wire.Message) {
	st.peer.log.Warn().Str("command", m.Command).
		Msg("dropping delivery while logging in")
}

func (st *loggingInState) onConnectionClosed() {
	if st.pendingPassword != nil {
		st.pendingPassword = nil
		st.peer.log.Debug().Msg("login abandoned before password")
	}
}
