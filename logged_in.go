package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/dispatch"
	"github.com/parley-chat/parley/internal/wire"
)

const notificationTimeout = time.Second

var loggedInHelp = []string{
	"RPL_HELP :Available commands:",
	"RPL_HELP :LIST - list public channels and your private ones",
	"RPL_HELP :ISON <nick> [...] - check who is online",
	"RPL_HELP :CREATE <#channel> <pub|priv> [nick ...] - create a channel",
	"RPL_HELP :DELETE <#channel> - delete a channel you created",
	"RPL_HELP :JOIN <#channel> - enter a channel",
	"RPL_HELP :QUIT <#channel> - give up membership of a private channel",
	"RPL_HELP :ADD <#channel> <nick> [...] - add members to your channel",
	"RPL_HELP :KICK <#channel> <nick> [...] - kick members from your channel",
	"RPL_HELP :LOGOUT - end the session",
	"RPL_HELP :UNREGISTER - delete your account",
}

// loggedInState is the hub between login and conversations. Channel
// management happens here.
type loggedInState struct {
	peer *Peer
	nick string
}

// newLoggedInState enters the logged-in state. With starting true this is a
// fresh session: the login is announced and the peer registered with the
// dispatcher. Coming back from a conversation skips that. Pending
// notifications are drained either way.
func newLoggedInState(p *Peer, nick string, starting bool) *loggedInState {
	st := &loggedInState{peer: p, nick: nick}
	p.Nick = nick
	p.setState(st)

	if starting {
		p.sendf("OK_LOGIN %s", nick)
		p.Server.Dispatcher.Publish(dispatch.Servers, p, wire.Message{
			Command: "OK_LOGIN",
			Params:  []string{nick},
		})
		p.Server.Dispatcher.AddPeer(p, nick)
	}

	st.drainNotifications()
	return st
}

func (st *loggedInState) name() string { return "logged in" }

// drainNotifications delivers messages stored while the user was offline,
// then forgets them. Failures are logged only; the session goes on.
func (st *loggedInState) drainNotifications() {
	p := st.peer
	s := p.Server
	nick := st.nick

	s.DB.GetNotifications(nick, notificationTimeout, func(ns []db.Notification, err error) {
		if err != nil {
			p.log.Warn().Err(err).Msg("could not fetch notifications")
			return
		}
		// Keep undelivered notifications when the connection died under us;
		// the next login drains them.
		if len(ns) == 0 || !p.connected {
			return
		}
		for _, n := range ns {
			p.sendNotified(n.Author, nick, n.Content)
		}
		s.DB.DeleteNotifications(nick, notificationTimeout, nil)
	})
}

func (st *loggedInState) handle(m wire.Message) {
	switch m.Command {
	case "LOGOUT":
		st.logout()
	case "UNREGISTER":
		st.unregister()
	case "LIST":
		st.list()
	case "ISON":
		st.ison(m.Params)
	case "HELP":
		for _, line := range loggedInHelp {
			st.peer.sendLine(line)
		}
	case "CREATE":
		st.create(m.Params[0], m.Params[1], m.Params[2:])
	case "DELETE":
		st.delete(m.Params[0])
	case "JOIN":
		st.join(m.Params[0])
	case "QUIT":
		st.quitChannel(m.Params[0])
	case "ADD":
		addMembers(st.peer, st.nick, m.Params[0], m.Params[1:])
	case "KICK":
		kickMembers(st.peer, st.nick, m.Params[0], m.Params[1:])
	default:
		st.peer.log.Debug().Str("command", m.Command).Msg("unknown command")
	}
}

func (st *loggedInState) logout() {
	p := st.peer

	p.sendf("OK_LOGOUT %s", st.nick)
	p.Server.Dispatcher.Publish(dispatch.Servers, p, wire.Message{
		Command: "OK_LOGOUT",
		Params:  []string{st.nick},
	})
	p.close("")
}

func (st *loggedInState) unregister() {
	p := st.peer
	s := p.Server
	nick := st.nick

	s.DB.DeleteUser(nick, func(err error) {
		if err != nil {
			if p.connected {
				p.internalError()
			}
			return
		}

		s.Dispatcher.Publish(dispatch.Servers, p, wire.Message{
			Command: "OK_UNREG",
			Params:  []string{nick},
		})

		if !p.connected {
			return
		}
		p.sendf("OK_UNREG %s", nick)
		p.close("")
	})
}

func (st *loggedInState) list() {
	p := st.peer
	s := p.Server

	s.DB.GetPubChannels(func(pub []string, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.internalError()
			return
		}

		s.DB.GetPrivChannels(st.nick, func(priv []string, err error) {
			if !p.connected {
				return
			}
			if err != nil {
				p.internalError()
				return
			}

			p.send(wire.Message{Command: "RPL_LIST", Params: append([]string{"pub"}, pub...)})
			p.send(wire.Message{Command: "RPL_LIST", Params: append([]string{"priv"}, priv...)})
		})
	})
}

func (st *loggedInState) ison(nicks []string) {
	on := st.peer.Server.Dispatcher.IsOn(nicks)
	st.peer.send(wire.Message{Command: "RPL_ISON", Params: on})
}

func (st *loggedInState) create(channel, mode string, nicks []string) {
	p := st.peer
	s := p.Server
	creator := st.nick

	if mode != "pub" && mode != "priv" {
		p.sendLine("ERR_BAD_MODE")
		return
	}
	if !validChannelName(channel) {
		p.sendLine("ERR_BAD_NAME")
		return
	}

	s.DB.UsersRegistered(nicks, func(valid []string, err error) {
		if err != nil {
			if p.connected {
				p.internalError()
			}
			return
		}

		s.DB.ChannelExists(channel, func(exists bool, err error) {
			if err != nil {
				if p.connected {
					p.internalError()
				}
				return
			}
			if exists {
				if p.connected {
					p.sendf("ERR_EXISTS %s", channel)
				}
				return
			}

			public := mode == "pub"
			members := valid
			if !public && !contains(members, creator) {
				members = append(members, creator)
			}

			s.DB.AddChannel(channel, creator, public, members, func(err error) {
				if err == db.ErrExists {
					if p.connected {
						p.sendf("ERR_EXISTS %s", channel)
					}
					return
				}
				if err != nil {
					if p.connected {
						p.internalError()
					}
					return
				}

				reply := wire.Message{
					Command: "OK_CREATED",
					Params:  append([]string{channel, creator, mode}, members...),
				}
				if p.connected {
					p.send(reply)
					for _, n := range missing(nicks, valid) {
						p.sendf("ERR_NOUSER %s", n)
					}
				}
				s.Dispatcher.Publish(dispatch.Servers, p, reply)

				if !public {
					content := fmt.Sprintf("You were added to channel %s!", channel)
					for _, member := range members {
						if member == creator {
							continue
						}
						s.notifyOrPersist(creator, member, content)
					}
				}
			})
		})
	})
}

func (st *loggedInState) delete(channel string) {
	deleteChannel(st.peer, st.nick, channel, nil)
}

func (st *loggedInState) join(channel string) {
	p := st.peer
	s := p.Server
	nick := st.nick

	s.DB.GetChannelMode(channel, func(mode string, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.internalError()
			return
		}

		switch mode {
		case "":
			p.sendf("ERR_NOCHANNEL %s", channel)
		case "pub":
			st.enterChannel(channel)
		case "priv":
			s.DB.IsMember(nick, channel, func(member bool, err error) {
				if !p.connected {
					return
				}
				if err != nil {
					p.internalError()
					return
				}
				if !member {
					p.sendLine("ERR_NO_PERM JOIN :You are not a member of this channel.")
					return
				}
				st.enterChannel(channel)
			})
		}
	})
}

func (st *loggedInState) enterChannel(channel string) {
	p := st.peer
	s := p.Server

	s.Dispatcher.AddChannel(channel, false)
	s.Dispatcher.Publish(dispatch.Servers, p, wire.Message{
		Command: "OK_JOINED",
		Params:  []string{channel, st.nick},
	})
	newConversationState(p, st.nick, channel)
}

// quitChannel gives up membership of a private channel. Quitting a public
// channel makes no sense as there is no membership to give up.
func (st *loggedInState) quitChannel(channel string) {
	p := st.peer
	s := p.Server
	nick := st.nick

	s.DB.GetChannelMode(channel, func(mode string, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.internalError()
			return
		}

		switch mode {
		case "":
			p.sendf("ERR_NOCHANNEL %s", channel)
		case "pub":
			p.sendLine("ERR_BAD_OP :quit from a public channel")
		case "priv":
			s.DB.IsMember(nick, channel, func(member bool, err error) {
				if !p.connected {
					return
				}
				if err != nil {
					p.internalError()
					return
				}
				if !member {
					p.sendLine("ERR_NO_PERM QUIT :You are not a member of this channel.")
					return
				}
				quitMembership(p, nick, channel, nil)
			})
		}
	})
}

func (st *loggedInState) deliver(m wire.Message) {
	switch m.Command {
	case "NOTIFIED":
		st.peer.sendNotified(m.Params[0], m.Params[1], m.Params[2])
	default:
		st.peer.log.Debug().Str("command", m.Command).
			Msg("dropping delivery in logged in state")
	}
}

func (st *loggedInState) onConnectionClosed() {}

func joinNicks(nicks []string) string {
	return strings.Join(nicks, " ")
}
