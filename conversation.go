package main

import (
	"github.com/parley-chat/parley/internal/dispatch"
	"github.com/parley-chat/parley/internal/wire"
)

var conversationHelp = []string{
	"RPL_HELP :Available commands:",
	"RPL_HELP :MSG <#channel> <text> - say something",
	"RPL_HELP :NAMES - list who is present",
	"RPL_HELP :LEAVE - go back to channel management",
	"RPL_HELP :QUIT <#channel> - give up membership of this channel",
}

var conversationAdminHelp = []string{
	"RPL_HELP :Creator commands:",
	"RPL_HELP :ADD <#channel> <nick> [...] - add members",
	"RPL_HELP :KICK <#channel> <nick> [...] - kick members",
	"RPL_HELP :DELETE <#channel> - delete the channel",
}

// conversationState is a peer present on one channel. Management commands
// here are scoped to that channel whatever channel argument the client sends.
type conversationState struct {
	peer    *Peer
	nick    string
	channel string

	// admin caches the channel creator once looked up.
	admin string
}

func newConversationState(p *Peer, nick, channel string) *conversationState {
	st := &conversationState{peer: p, nick: nick, channel: channel}
	p.setState(st)

	p.sendf("OK_JOINED %s %s", channel, nick)
	p.Server.Dispatcher.Subscribe(channel, nick)
	p.Server.Dispatcher.Publish(channel, p,
		infoMsg(channel, nick+" joins the channel.", green))

	return st
}

func (st *conversationState) name() string { return "conversation" }

func (st *conversationState) handle(m wire.Message) {
	p := st.peer

	switch m.Command {
	case "MSG":
		st.say(m)
	case "NAMES":
		names := p.Server.Dispatcher.Names(st.channel)
		p.sendf("RPL_NAMES %s %s", st.channel, joinNicks(names))
	case "HELP":
		st.help()
	case "LEAVE":
		st.leave()
	case "QUIT":
		st.quitChannel()
	case "ADD":
		addMembers(p, st.nick, st.channel, m.Params[1:])
	case "KICK":
		kickMembers(p, st.nick, st.channel, m.Params[1:])
	case "DELETE":
		st.delete()
	default:
		p.log.Debug().Str("command", m.Command).Msg("unknown command")
	}
}

// say stamps the message with the author's nick and fans it out: to the local
// channel, to the linked servers, and to the scoring service.
func (st *conversationState) say(m wire.Message) {
	p := st.peer
	m.Prefix = st.nick
	// Whatever channel the client named, the message belongs to the one it is
	// conversing on.
	m.Params[0] = st.channel

	p.Server.Dispatcher.Publish(st.channel, p, m)
	p.Server.Dispatcher.Publish(dispatch.Servers, p, m)
	p.Server.AI.Send(m.String())
}

func (st *conversationState) help() {
	p := st.peer

	for _, line := range conversationHelp {
		p.sendLine(line)
	}

	st.withAdmin(func(admin string) {
		if admin != st.nick {
			return
		}
		for _, line := range conversationAdminHelp {
			p.sendLine(line)
		}
	})
}

// withAdmin runs fn with the channel creator, looked up once per
// conversation.
func (st *conversationState) withAdmin(fn func(admin string)) {
	if st.admin != "" {
		fn(st.admin)
		return
	}

	p := st.peer
	p.Server.DB.GetChannelCreator(st.channel, func(creator string, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.log.Warn().Err(err).Msg("could not look up channel creator")
			return
		}
		st.admin = creator
		fn(creator)
	})
}

func (st *conversationState) leave() {
	p := st.peer

	p.Server.Dispatcher.Publish(st.channel, p,
		infoMsg(st.channel, st.nick+" left the channel.", green))
	p.Server.Dispatcher.Unsubscribe(st.channel, st.nick)
	p.sendf("OK_LEFT %s %s", st.channel, st.nick)

	newLoggedInState(p, st.nick, false)
}

func (st *conversationState) quitChannel() {
	p := st.peer

	p.Server.DB.GetChannelMode(st.channel, func(mode string, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.internalError()
			return
		}

		switch mode {
		case "":
			p.sendf("ERR_NOCHANNEL %s", st.channel)
		case "pub":
			p.sendLine("ERR_BAD_OP :quit from a public channel")
		case "priv":
			quitMembership(p, st.nick, st.channel, func() {
				p.Server.Dispatcher.Unsubscribe(st.channel, st.nick)
				newLoggedInState(p, st.nick, false)
			})
		}
	})
}

func (st *conversationState) delete() {
	p := st.peer

	deleteChannel(p, st.nick, st.channel, func() {
		newLoggedInState(p, st.nick, false)
	})
}

func (st *conversationState) deliver(m wire.Message) {
	p := st.peer

	switch m.Command {
	case "MSG":
		content := m.Params[len(m.Params)-1]
		p.sendf(":%s MSG %s :%s", m.Prefix, st.channel, content)
	case "KICKED":
		if !contains(m.Params[1:], st.nick) {
			return
		}
		p.Server.Dispatcher.Unsubscribe(st.channel, st.nick)
		p.sendf("KICKED %s %s", st.channel, st.nick)
		newLoggedInState(p, st.nick, false)
	case "OK_DELETED":
		p.sendf("OK_DELETED %s", st.channel)
		newLoggedInState(p, st.nick, false)
	case "NOTIFIED":
		p.sendNotified(m.Params[0], m.Params[1], m.Params[2])
	default:
		p.log.Debug().Str("command", m.Command).
			Msg("dropping delivery in conversation")
	}
}

func (st *conversationState) onConnectionClosed() {}
