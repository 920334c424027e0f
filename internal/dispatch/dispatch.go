// Package dispatch routes messages between the peers connected to this
// server. It knows which users are online locally, which peer servers are
// linked, and who is present on each runtime channel.
//
// The dispatcher is not safe for concurrent use. The server event loop is
// its only caller.
package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/wire"
)

// Servers is the pseudo-channel addressing every linked peer server. It is a
// routing target only and never exists in the store.
const Servers = "servers"

// Subscriber receives messages routed by the dispatcher. Client peers
// interpret them according to their current state; server peers forward them
// on the wire.
type Subscriber interface {
	Receive(m wire.Message)
}

// Channel is the runtime presence set of a named channel: the nicks of the
// local peers currently conversing on it. Distinct from the persistent
// membership records.
type Channel struct {
	Name  string
	users map[string]struct{}
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:  name,
		users: make(map[string]struct{}),
	}
}

// Names returns the nicks present on the channel.
func (c *Channel) Names() []string {
	names := make([]string, 0, len(c.users))
	for nick := range c.users {
		names = append(names, nick)
	}
	return names
}

// Dispatcher holds weak references only: peers are owned by the server's
// connection table, channels store nicks rather than peers.
type Dispatcher struct {
	users    map[string]Subscriber
	servers  map[Subscriber]struct{}
	channels map[string]*Channel

	log     zerolog.Logger
	metrics Metrics
}

// Metrics receives routing counters. May be nil.
type Metrics interface {
	MessagePublished(n int)
	UserNotified()
	OnlineUsers(n int)
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(log zerolog.Logger, metrics Metrics) *Dispatcher {
	return &Dispatcher{
		users:    make(map[string]Subscriber),
		servers:  make(map[Subscriber]struct{}),
		channels: make(map[string]*Channel),
		log:      log,
		metrics:  metrics,
	}
}

// AddPeer registers a peer. A non-blank nick registers a client peer,
// replacing any previous entry for that nick; a blank nick registers a peer
// server.
func (d *Dispatcher) AddPeer(peer Subscriber, nick string) {
	if nick == "" {
		d.servers[peer] = struct{}{}
		d.log.Debug().Msg("dispatch: server peer added")
		return
	}
	d.users[nick] = peer
	d.log.Debug().Str("nick", nick).Msg("dispatch: peer added")
	if d.metrics != nil {
		d.metrics.OnlineUsers(len(d.users))
	}
}

// RemovePeer forgets a peer entirely: its nick mapping, its server-set
// entry, and its presence on every channel.
func (d *Dispatcher) RemovePeer(peer Subscriber) {
	delete(d.servers, peer)

	for nick, p := range d.users {
		if p != peer {
			continue
		}
		delete(d.users, nick)
		for _, ch := range d.channels {
			delete(ch.users, nick)
		}
		d.log.Debug().Str("nick", nick).Msg("dispatch: peer removed")
	}

	if d.metrics != nil {
		d.metrics.OnlineUsers(len(d.users))
	}
}

// AddChannel creates a runtime channel. With replace false an existing
// channel (and its presence set) is kept.
func (d *Dispatcher) AddChannel(name string, replace bool) {
	if _, exists := d.channels[name]; exists && !replace {
		return
	}
	d.channels[name] = newChannel(name)
	d.log.Debug().Str("channel", name).Msg("dispatch: channel added")
}

// RemoveChannel drops a runtime channel and its presence set.
func (d *Dispatcher) RemoveChannel(name string) {
	delete(d.channels, name)
	d.log.Debug().Str("channel", name).Msg("dispatch: channel removed")
}

// IsOn returns the subset of nicks that are online locally.
func (d *Dispatcher) IsOn(nicks []string) []string {
	var on []string
	for _, nick := range nicks {
		if _, ok := d.users[nick]; ok {
			on = append(on, nick)
		}
	}
	return on
}

// Subscribe marks nick as present on the named channel. No-op if the
// channel does not exist.
func (d *Dispatcher) Subscribe(name, nick string) {
	if ch, ok := d.channels[name]; ok {
		ch.users[nick] = struct{}{}
		d.log.Debug().Str("channel", name).Str("nick", nick).Msg("dispatch: subscribed")
	}
}

// Unsubscribe removes nick from the named channel's presence set.
func (d *Dispatcher) Unsubscribe(name, nick string) {
	if ch, ok := d.channels[name]; ok {
		delete(ch.users, nick)
		d.log.Debug().Str("channel", name).Str("nick", nick).Msg("dispatch: unsubscribed")
	}
}

// Names returns the nicks present on the named channel.
func (d *Dispatcher) Names(name string) []string {
	if ch, ok := d.channels[name]; ok {
		return ch.Names()
	}
	return nil
}

// Publish delivers m to every peer present on the named channel except the
// author. Publishing to the Servers pseudo-channel delivers to every linked
// peer server instead. Channel publishes are always local; an event that
// should propagate is published to Servers separately by the caller.
func (d *Dispatcher) Publish(name string, author Subscriber, m wire.Message) {
	delivered := 0

	if name == Servers {
		for peer := range d.servers {
			if peer == author {
				continue
			}
			peer.Receive(m)
			delivered++
		}
	} else if ch, ok := d.channels[name]; ok {
		for nick := range ch.users {
			peer, online := d.users[nick]
			if !online || peer == author {
				continue
			}
			peer.Receive(m)
			delivered++
		}
	}

	d.log.Debug().Str("channel", name).Str("command", m.Command).
		Int("delivered", delivered).Msg("dispatch: publish")
	if d.metrics != nil {
		d.metrics.MessagePublished(delivered)
	}
}

// Notify delivers m directly to the named user, if online locally.
func (d *Dispatcher) Notify(nick string, m wire.Message) {
	peer, ok := d.users[nick]
	if !ok {
		return
	}
	peer.Receive(m)
	d.log.Debug().Str("nick", nick).Str("command", m.Command).Msg("dispatch: notify")
	if d.metrics != nil {
		d.metrics.UserNotified()
	}
}
