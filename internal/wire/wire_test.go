package wire

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input  string
		output Message
	}{
		{
			"REGISTER alice alice@example.com\n",
			Message{Command: "REGISTER", Params: []string{"alice", "alice@example.com"}},
		},
		{
			"LOGIN alice\r\n",
			Message{Command: "LOGIN", Params: []string{"alice"}},
		},
		{
			"PASSWORD hunter2",
			Message{Command: "PASSWORD", Params: []string{"hunter2"}},
		},
		{
			"LIST",
			Message{Command: "LIST"},
		},
		{
			"ISON",
			Message{Command: "ISON"},
		},
		{
			"ISON alice bob carol",
			Message{Command: "ISON", Params: []string{"alice", "bob", "carol"}},
		},
		{
			"CREATE #games priv alice bob",
			Message{Command: "CREATE", Params: []string{"#games", "priv", "alice", "bob"}},
		},
		{
			"MSG #games :hello there everyone",
			Message{Command: "MSG", Params: []string{"#games", "hello there everyone"}},
		},
		{
			"MSG #games :hi",
			Message{Command: "MSG", Params: []string{"#games", "hi"}},
		},
		{
			":alice MSG #games :hello there",
			Message{
				Prefix:  "alice",
				Command: "MSG",
				Params:  []string{"#games", "hello there"},
			},
		},
		{
			"NOTIFIED alice bob :You were added to channel #games!",
			Message{
				Command: "NOTIFIED",
				Params:  []string{"alice", "bob", "You were added to channel #games!"},
			},
		},
		{
			"CONNECT sekrit",
			Message{Command: "CONNECT", Params: []string{"sekrit"}},
		},
		{
			// Unknown commands parse; the states decide what to do with them.
			"RPL_PWD",
			Message{Command: "RPL_PWD"},
		},
	}

	for _, test := range tests {
		m, err := Parse(test.input)
		require.NoError(t, err, "Parse(%q)", test.input)
		assert.Equal(t, test.output, m, "Parse(%q)", test.input)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		err   error
	}{
		{"", ErrEmpty},
		{"\r\n", ErrEmpty},
		{":alice", ErrBadPrefix},
		{": MSG #games :hi", ErrBadPrefix},
		{"123 hello", ErrBadCommand},
		{"   ", ErrBadCommand},
		{"LOGIN", ErrNumParams},
		{"LOGIN alice bob", ErrNumParams},
		{"REGISTER alice", ErrNumParams},
		{"PASSWORD", ErrNumParams},
		{"MSG #games", ErrNumParams},
		{"MSG #games hi extra", ErrNumParams},
		{"CREATE #games", ErrNumParams},
		{"ADD #games", ErrNumParams},
		{"KICK #games", ErrNumParams},
		{"NOTIFIED alice bob", ErrNumParams},
		{"CONNECT", ErrNumParams},
	}

	for _, test := range tests {
		_, err := Parse(test.input)
		require.Error(t, err, "Parse(%q)", test.input)
		assert.True(t, errors.Is(err, test.err), "Parse(%q) = %v, wanted %v",
			test.input, err, test.err)
	}
}

// Variadic commands accept their minimum and anything above it.
func TestParseVariadic(t *testing.T) {
	m, err := Parse("KICK #games bob carol dave eve")
	require.NoError(t, err)
	assert.Equal(t, []string{"#games", "bob", "carol", "dave", "eve"}, m.Params)

	m, err = Parse("CREATE #games pub")
	require.NoError(t, err)
	assert.Equal(t, []string{"#games", "pub"}, m.Params)
}

func TestString(t *testing.T) {
	tests := []struct {
		input  Message
		output string
	}{
		{
			Message{Command: "RPL_PWD"},
			"RPL_PWD",
		},
		{
			Message{Command: "OK_LOGIN", Params: []string{"alice"}},
			"OK_LOGIN alice",
		},
		{
			Message{
				Prefix:  "alice",
				Command: "MSG",
				Params:  []string{"#games", "hello there"},
			},
			":alice MSG #games :hello there",
		},
		{
			Message{
				Command: "NOTIFIED",
				Params:  []string{"alice", "bob", "Channel #games was deleted!"},
			},
			"NOTIFIED alice bob :Channel #games was deleted!",
		},
		{
			Message{Command: "RPL_LIST", Params: []string{"pub", "#a", "#b"}},
			"RPL_LIST pub #a #b",
		},
	}

	for _, test := range tests {
		assert.Equal(t, test.output, test.input.String())
	}
}

func TestRoundTrip(t *testing.T) {
	messages := []Message{
		{Command: "REGISTER", Params: []string{"alice", "alice@example.com"}},
		{Command: "OK_CREATED", Params: []string{"#games", "alice", "priv", "alice", "bob"}},
		{Prefix: "bob", Command: "MSG", Params: []string{"#games", "how goes it"}},
		{Command: "NOTIFIED", Params: []string{"alice", "bob", "You were kicked from channel #games!"}},
	}

	for _, want := range messages {
		got, err := Parse(want.String() + "\n")
		require.NoError(t, err, "%v", want)
		assert.Equal(t, want, got)
	}
}
