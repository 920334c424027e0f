package db

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestService opens an in-memory store. Callbacks run synchronously on
// the worker, so receiving from a result channel is enough to synchronize.
func newTestService(t *testing.T) *Service {
	t.Helper()

	s, err := Open(":memory:", func(fn func()) { fn() }, zerolog.Nop(), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})

	return s
}

func mustAddUser(t *testing.T, s *Service, nick, mail, password string) {
	t.Helper()

	errc := make(chan error, 1)
	s.AddUser(nick, mail, password, func(err error) { errc <- err })
	require.NoError(t, <-errc)
}

func mustAddChannel(t *testing.T, s *Service, name, creator string,
	public bool, nicks []string) {
	t.Helper()

	errc := make(chan error, 1)
	s.AddChannel(name, creator, public, nicks, func(err error) { errc <- err })
	require.NoError(t, <-errc)
}

func channelExists(t *testing.T, s *Service, name string) bool {
	t.Helper()

	type result struct {
		exists bool
		err    error
	}
	resc := make(chan result, 1)
	s.ChannelExists(name, func(exists bool, err error) {
		resc <- result{exists, err}
	})
	res := <-resc
	require.NoError(t, res.err)
	return res.exists
}

func isMember(t *testing.T, s *Service, nick, channel string) bool {
	t.Helper()

	type result struct {
		member bool
		err    error
	}
	resc := make(chan result, 1)
	s.IsMember(nick, channel, func(member bool, err error) {
		resc <- result{member, err}
	})
	res := <-resc
	require.NoError(t, res.err)
	return res.member
}

func getMembers(t *testing.T, s *Service, channel string) []string {
	t.Helper()

	type result struct {
		members []string
		err     error
	}
	resc := make(chan result, 1)
	s.GetMembers(channel, func(members []string, err error) {
		resc <- result{members, err}
	})
	res := <-resc
	require.NoError(t, res.err)
	return res.members
}

func TestAccountAvailable(t *testing.T) {
	s := newTestService(t)

	type result struct {
		nickFree bool
		mailFree bool
		err      error
	}
	check := func(nick, mail string) result {
		resc := make(chan result, 1)
		s.AccountAvailable(nick, mail, func(nickFree, mailFree bool, err error) {
			resc <- result{nickFree, mailFree, err}
		})
		res := <-resc
		require.NoError(t, res.err)
		return res
	}

	res := check("alice", "alice@example.com")
	assert.True(t, res.nickFree)
	assert.True(t, res.mailFree)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")

	res = check("alice", "other@example.com")
	assert.False(t, res.nickFree)
	assert.True(t, res.mailFree)

	res = check("bob", "alice@example.com")
	assert.True(t, res.nickFree)
	assert.False(t, res.mailFree)
}

func TestAddUserDuplicate(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")

	errc := make(chan error, 1)
	s.AddUser("alice", "other@example.com", "secret", func(err error) { errc <- err })
	assert.Equal(t, ErrExists, <-errc)

	errc = make(chan error, 1)
	s.AddUser("bob", "alice@example.com", "secret", func(err error) { errc <- err })
	assert.Equal(t, ErrExists, <-errc)
}

func TestUsersRegistered(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddUser(t, s, "bob", "bob@example.com", "secret")

	type result struct {
		nicks []string
		err   error
	}
	resc := make(chan result, 1)
	s.UsersRegistered([]string{"alice", "carol", "bob"},
		func(nicks []string, err error) {
			resc <- result{nicks, err}
		})
	res := <-resc
	require.NoError(t, res.err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, res.nicks)

	// No nicks means nothing to look up.
	resc = make(chan result, 1)
	s.UsersRegistered(nil, func(nicks []string, err error) {
		resc <- result{nicks, err}
	})
	res = <-resc
	require.NoError(t, res.err)
	assert.Empty(t, res.nicks)
}

func TestPasswordCorrect(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")

	type result struct {
		ok  bool
		err error
	}
	check := func(nick, password string) result {
		resc := make(chan result, 1)
		s.PasswordCorrect(nick, password, func(ok bool, err error) {
			resc <- result{ok, err}
		})
		return <-resc
	}

	res := check("alice", "secret")
	require.NoError(t, res.err)
	assert.True(t, res.ok)

	res = check("alice", "wrong")
	require.NoError(t, res.err)
	assert.False(t, res.ok)

	res = check("carol", "secret")
	assert.Equal(t, ErrNoSuchUser, res.err)
	assert.False(t, res.ok)
}

func TestAddChannel(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddUser(t, s, "bob", "bob@example.com", "secret")

	mustAddChannel(t, s, "#pub", "alice", true, []string{"alice", "bob"})
	mustAddChannel(t, s, "#priv", "alice", false, []string{"alice", "bob"})

	assert.True(t, channelExists(t, s, "#pub"))
	assert.True(t, channelExists(t, s, "#priv"))
	assert.False(t, channelExists(t, s, "#nope"))

	// Membership records only exist for private channels.
	assert.Empty(t, getMembers(t, s, "#pub"))
	assert.ElementsMatch(t, []string{"alice", "bob"}, getMembers(t, s, "#priv"))

	errc := make(chan error, 1)
	s.AddChannel("#pub", "bob", true, nil, func(err error) { errc <- err })
	assert.Equal(t, ErrExists, <-errc)
}

func TestGetChannelModeAndCreator(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddChannel(t, s, "#pub", "alice", true, nil)
	mustAddChannel(t, s, "#priv", "alice", false, []string{"alice"})

	type result struct {
		value string
		err   error
	}
	mode := func(name string) string {
		resc := make(chan result, 1)
		s.GetChannelMode(name, func(mode string, err error) {
			resc <- result{mode, err}
		})
		res := <-resc
		require.NoError(t, res.err)
		return res.value
	}
	creator := func(name string) string {
		resc := make(chan result, 1)
		s.GetChannelCreator(name, func(creator string, err error) {
			resc <- result{creator, err}
		})
		res := <-resc
		require.NoError(t, res.err)
		return res.value
	}

	assert.Equal(t, "pub", mode("#pub"))
	assert.Equal(t, "priv", mode("#priv"))
	assert.Equal(t, "", mode("#nope"))

	assert.Equal(t, "alice", creator("#pub"))
	assert.Equal(t, "", creator("#nope"))
}

func TestMembers(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddUser(t, s, "bob", "bob@example.com", "secret")
	mustAddUser(t, s, "carol", "carol@example.com", "secret")
	mustAddChannel(t, s, "#priv", "alice", false, []string{"alice"})

	errc := make(chan error, 1)
	s.AddMembers("#priv", []string{"bob", "carol"}, func(err error) { errc <- err })
	require.NoError(t, <-errc)

	// Adding someone twice keeps a single record.
	errc = make(chan error, 1)
	s.AddMembers("#priv", []string{"bob"}, func(err error) { errc <- err })
	require.NoError(t, <-errc)

	assert.ElementsMatch(t, []string{"alice", "bob", "carol"},
		getMembers(t, s, "#priv"))
	assert.True(t, isMember(t, s, "bob", "#priv"))

	errc = make(chan error, 1)
	s.DeleteMembers("#priv", []string{"bob", "carol"}, func(err error) { errc <- err })
	require.NoError(t, <-errc)

	assert.ElementsMatch(t, []string{"alice"}, getMembers(t, s, "#priv"))
	assert.False(t, isMember(t, s, "bob", "#priv"))
}

func TestChannelLists(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddUser(t, s, "bob", "bob@example.com", "secret")
	mustAddChannel(t, s, "#one", "alice", true, nil)
	mustAddChannel(t, s, "#two", "alice", true, nil)
	mustAddChannel(t, s, "#secret", "alice", false, []string{"alice", "bob"})

	type result struct {
		names []string
		err   error
	}

	resc := make(chan result, 1)
	s.GetPubChannels(func(names []string, err error) {
		resc <- result{names, err}
	})
	res := <-resc
	require.NoError(t, res.err)
	assert.ElementsMatch(t, []string{"#one", "#two"}, res.names)

	resc = make(chan result, 1)
	s.GetPrivChannels("bob", func(names []string, err error) {
		resc <- result{names, err}
	})
	res = <-resc
	require.NoError(t, res.err)
	assert.ElementsMatch(t, []string{"#secret"}, res.names)
}

func TestDeleteUserCascades(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddUser(t, s, "bob", "bob@example.com", "secret")
	mustAddChannel(t, s, "#priv", "alice", false, []string{"alice", "bob"})

	errc := make(chan error, 1)
	s.DeleteUser("alice", func(err error) { errc <- err })
	require.NoError(t, <-errc)

	// Channels she created and her membership records go with her.
	assert.False(t, channelExists(t, s, "#priv"))
	assert.False(t, isMember(t, s, "bob", "#priv"))
}

func TestDeleteChannelCascades(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddChannel(t, s, "#priv", "alice", false, []string{"alice"})

	errc := make(chan error, 1)
	s.DeleteChannel("#priv", func(err error) { errc <- err })
	require.NoError(t, <-errc)

	assert.False(t, channelExists(t, s, "#priv"))
	assert.False(t, isMember(t, s, "alice", "#priv"))
}

func TestNotifications(t *testing.T) {
	s := newTestService(t)

	mustAddUser(t, s, "alice", "alice@example.com", "secret")
	mustAddUser(t, s, "bob", "bob@example.com", "secret")

	errc := make(chan error, 1)
	s.AddNotification("alice", "bob", "You were added to channel #games!",
		func(err error) { errc <- err })
	require.NoError(t, <-errc)

	errc = make(chan error, 1)
	s.AddNotification("alice", "bob", "Channel #games was deleted!",
		func(err error) { errc <- err })
	require.NoError(t, <-errc)

	type result struct {
		ns  []Notification
		err error
	}
	get := func(nick string) []Notification {
		resc := make(chan result, 1)
		s.GetNotifications(nick, defaultTimeout, func(ns []Notification, err error) {
			resc <- result{ns, err}
		})
		res := <-resc
		require.NoError(t, res.err)
		return res.ns
	}

	assert.ElementsMatch(t, []Notification{
		{Author: "alice", Content: "You were added to channel #games!"},
		{Author: "alice", Content: "Channel #games was deleted!"},
	}, get("bob"))
	assert.Empty(t, get("alice"))

	errc = make(chan error, 1)
	s.DeleteNotifications("bob", defaultTimeout, func(err error) { errc <- err })
	require.NoError(t, <-errc)

	assert.Empty(t, get("bob"))
}
