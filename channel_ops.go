package main

import (
	"fmt"

	"github.com/parley-chat/parley/internal/dispatch"
	"github.com/parley-chat/parley/internal/wire"
)

// The channel management flows live here because they are reachable from two
// states: logged in (with an explicit channel argument) and conversation
// (scoped to the current channel).

// infoMsg builds a channel message from the server itself, marked with an
// ANSI color.
func infoMsg(channel, content, color string) wire.Message {
	return wire.Message{
		Prefix:  "INFO",
		Command: "MSG",
		Params:  []string{channel, mark(content, color)},
	}
}

// addMembers adds registered nicks to a private channel the actor created.
// Each new member is told about it, immediately or via a stored notification.
func addMembers(p *Peer, actor, channel string, nicks []string) {
	s := p.Server

	withOwnedPrivChannel(p, actor, channel, "ADD", "add members to a public channel", func() {
		s.DB.UsersRegistered(nicks, func(valid []string, err error) {
			if err != nil {
				if p.connected {
					p.internalError()
				}
				return
			}

			if p.connected {
				for _, n := range missing(nicks, valid) {
					p.sendf("ERR_NOUSER %s", n)
				}
			}
			if len(valid) == 0 {
				return
			}

			s.DB.AddMembers(channel, valid, func(err error) {
				if err != nil {
					if p.connected {
						p.internalError()
					}
					return
				}

				if p.connected {
					p.sendf("OK_ADDED %s %s", channel, joinNicks(valid))
				}
				s.Dispatcher.Publish(dispatch.Servers, p, wire.Message{
					Command: "ADDED",
					Params:  append([]string{channel}, valid...),
				})
				s.Dispatcher.Publish(channel, p,
					infoMsg(channel, "Members added: "+joinNicks(valid), green))

				content := fmt.Sprintf("You were added to channel %s!", channel)
				for _, n := range valid {
					if n == actor {
						continue
					}
					s.notifyOrPersist(actor, n, content)
				}
			})
		})
	})
}

// kickMembers removes nicks from a private channel the actor created. Kicked
// members present on the channel learn it from the broadcast; the others get
// a notification.
func kickMembers(p *Peer, actor, channel string, nicks []string) {
	s := p.Server

	withOwnedPrivChannel(p, actor, channel, "KICK", "kick users from a public channel", func() {
		s.DB.UsersRegistered(nicks, func(valid []string, err error) {
			if err != nil {
				if p.connected {
					p.internalError()
				}
				return
			}

			if p.connected {
				for _, n := range missing(nicks, valid) {
					p.sendf("ERR_NOUSER %s", n)
				}
			}

			// The creator cannot kick themselves.
			kicked := make([]string, 0, len(valid))
			for _, n := range valid {
				if n != actor {
					kicked = append(kicked, n)
				}
			}
			if len(kicked) == 0 {
				return
			}

			s.DB.DeleteMembers(channel, kicked, func(err error) {
				if err != nil {
					if p.connected {
						p.internalError()
					}
					return
				}

				if p.connected {
					p.sendf("OK_KICKED %s %s", channel, joinNicks(kicked))
				}

				// Who is present decides who needs a notification; take the
				// snapshot before the broadcast moves the kicked peers off
				// the channel.
				present := s.Dispatcher.Names(channel)

				brd := wire.Message{
					Command: "KICKED",
					Params:  append([]string{channel}, kicked...),
				}
				s.Dispatcher.Publish(dispatch.Servers, p, brd)
				s.Dispatcher.Publish(channel, p, brd)
				s.Dispatcher.Publish(channel, p,
					infoMsg(channel, "Members kicked: "+joinNicks(kicked), red))
				content := fmt.Sprintf("You were kicked from channel %s!", channel)
				for _, n := range kicked {
					if contains(present, n) {
						continue
					}
					s.notifyOrPersist(actor, n, content)
				}
			})
		})
	})
}

// withOwnedPrivChannel checks that channel exists, is private, and was
// created by actor, then runs fn. The op and badOp strings shape the error
// replies.
func withOwnedPrivChannel(p *Peer, actor, channel, op, badOp string, fn func()) {
	s := p.Server

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
			p.sendf("ERR_BAD_OP :%s", badOp)
		case "priv":
			s.DB.GetChannelCreator(channel, func(creator string, err error) {
				if !p.connected {
					return
				}
				if err != nil {
					p.internalError()
					return
				}
				if creator != actor {
					p.sendf("ERR_NO_PERM %s :You are not creator of this channel.", op)
					return
				}
				fn()
			})
		}
	})
}

// deleteChannel removes a channel the actor created. Members of a private
// channel who will not see the broadcast get a notification first. done, if
// set, runs after the actor's own OK_DELETED reply.
func deleteChannel(p *Peer, actor, channel string, done func()) {
	s := p.Server

	s.DB.GetChannelCreator(channel, func(creator string, err error) {
		if !p.connected {
			return
		}
		if err != nil {
			p.internalError()
			return
		}
		if creator == "" {
			p.sendf("ERR_NOCHANNEL %s", channel)
			return
		}
		if creator != actor {
			p.sendLine("ERR_NO_PERM DELETE :You are not creator of this channel.")
			return
		}

		s.DB.GetChannelMode(channel, func(mode string, err error) {
			if err != nil || mode != "priv" {
				if err != nil {
					p.log.Warn().Err(err).Msg("skipping deletion notifications")
				}
				finishChannelDelete(p, channel, done)
				return
			}

			s.DB.GetMembers(channel, func(members []string, err error) {
				if err != nil {
					p.log.Warn().Err(err).Msg("skipping deletion notifications")
					finishChannelDelete(p, channel, done)
					return
				}

				present := s.Dispatcher.Names(channel)
				content := fmt.Sprintf("Channel %s was deleted!", channel)
				for _, member := range members {
					if member == actor || contains(present, member) {
						continue
					}
					s.notifyOrPersist(actor, member, content)
				}
				finishChannelDelete(p, channel, done)
			})
		})
	})
}

func finishChannelDelete(p *Peer, channel string, done func()) {
	s := p.Server

	s.DB.DeleteChannel(channel, func(err error) {
		if err != nil {
			if p.connected {
				p.internalError()
			}
			return
		}

		brd := wire.Message{Command: "OK_DELETED", Params: []string{channel}}
		s.Dispatcher.Publish(channel, p, brd)
		s.Dispatcher.RemoveChannel(channel)
		s.Dispatcher.Publish(dispatch.Servers, p, brd)

		if !p.connected {
			return
		}
		p.send(brd)
		if done != nil {
			done()
		}
	})
}

// quitMembership drops the actor's own membership record. done, if set, runs
// after the OK_QUIT reply.
func quitMembership(p *Peer, nick, channel string, done func()) {
	s := p.Server

	s.DB.DeleteMembers(channel, []string{nick}, func(err error) {
		if err != nil {
			if p.connected {
				p.internalError()
			}
			return
		}

		s.Dispatcher.Publish(dispatch.Servers, p, wire.Message{
			Command: "USR_QUIT",
			Params:  []string{channel, nick},
		})
		s.Dispatcher.Publish(channel, p, infoMsg(channel, "Member quit: "+nick, green))

		if !p.connected {
			return
		}
		p.sendf("OK_QUIT %s %s", channel, nick)
		if done != nil {
			done()
		}
	})
}
