// Package wire provides encoding and decoding of the chat protocol's
// line-oriented messages. It is useful for implementing clients and servers.
package wire

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Errors returned by Parse. Callers that want to react to a specific parse
// failure (e.g. answering ERR_NUM_PARAMS) can test with errors.Is.
var (
	ErrEmpty      = errors.New("empty message")
	ErrBadPrefix  = errors.New("bad prefix")
	ErrBadCommand = errors.New("bad command")
	ErrNumParams  = errors.New("bad number of parameters")
)

// Message holds a protocol message.
//
// Prefix may be blank. Params holds the parameters in order; the last one
// may contain spaces if it arrived as the trailing parameter.
type Message struct {
	Prefix  string
	Command string
	Params  []string
}

// arity declares how many parameters a known command carries. Variadic
// commands accept Min or more.
type arity struct {
	Min      int
	Variadic bool
}

// arities covers every command this server consumes, from clients and from
// peer servers. Commands absent from the map (e.g. replies we only ever
// send) parse without a parameter-count check.
var arities = map[string]arity{
	// Client to server.
	"REGISTER":   {Min: 2},
	"LOGIN":      {Min: 1},
	"PASSWORD":   {Min: 1},
	"LOGOUT":     {Min: 0},
	"UNREGISTER": {Min: 0},
	"LIST":       {Min: 0},
	"ISON":       {Min: 0, Variadic: true},
	"HELP":       {Min: 0},
	"CREATE":     {Min: 2, Variadic: true},
	"DELETE":     {Min: 1},
	"JOIN":       {Min: 1},
	"QUIT":       {Min: 1},
	"ADD":        {Min: 2, Variadic: true},
	"KICK":       {Min: 2, Variadic: true},
	"NAMES":      {Min: 0},
	"LEAVE":      {Min: 0},
	"MSG":        {Min: 2},

	// Server to server.
	"CONNECT":    {Min: 1},
	"DISCONNECT": {Min: 0},
	"SYNC":       {Min: 0},

	// Mirror events between servers.
	"OK_REG":     {Min: 3},
	"OK_LOGIN":   {Min: 1},
	"OK_LOGOUT":  {Min: 1},
	"OK_UNREG":   {Min: 1},
	"OK_CREATED": {Min: 3, Variadic: true},
	"OK_DELETED": {Min: 1},
	"OK_JOINED":  {Min: 2},
	"USR_QUIT":   {Min: 2},
	"ADDED":      {Min: 2, Variadic: true},
	"KICKED":     {Min: 2, Variadic: true},
	"NOTIFIED":   {Min: 3},
}

// Parse parses one protocol line. The line may include its terminating LF or
// CRLF. Invalid UTF-8 sequences are replaced, not rejected.
func Parse(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, string(utf8.RuneError))
	}

	if len(line) == 0 {
		return Message{}, ErrEmpty
	}

	var m Message

	if line[0] == ':' {
		prefix, rest, found := strings.Cut(line[1:], " ")
		if !found {
			return Message{}, errors.Wrap(ErrBadPrefix, "prefix only")
		}
		if len(prefix) == 0 {
			return Message{}, errors.Wrap(ErrBadPrefix, "zero length prefix")
		}
		m.Prefix = prefix
		line = rest
	}

	// Anything after the first ':' is the trailing parameter and may contain
	// spaces.
	line, trailing, hasTrailing := strings.Cut(line, ":")

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Message{}, errors.Wrap(ErrBadCommand, "no command")
	}

	m.Command = fields[0]
	if !validCommand(m.Command) {
		return Message{}, errors.Wrapf(ErrBadCommand, "%q", m.Command)
	}

	m.Params = fields[1:]
	if hasTrailing && len(trailing) > 0 {
		m.Params = append(m.Params, trailing)
	}

	if a, known := arities[m.Command]; known {
		if len(m.Params) < a.Min || (!a.Variadic && len(m.Params) > a.Min) {
			return Message{}, errors.Wrapf(ErrNumParams, "%s takes %d parameters, got %d",
				m.Command, a.Min, len(m.Params))
		}
	}

	return m, nil
}

// validCommand reports whether s is entirely ASCII letters or underscores.
func validCommand(s string) bool {
	for _, c := range s {
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			continue
		}
		if c == '_' {
			continue
		}
		return false
	}
	return len(s) > 0
}

// String serializes the message without a line terminator. A final parameter
// containing a space is emitted as the trailing parameter.
func (m Message) String() string {
	var sb strings.Builder

	if len(m.Prefix) > 0 {
		sb.WriteByte(':')
		sb.WriteString(m.Prefix)
		sb.WriteByte(' ')
	}

	sb.WriteString(m.Command)

	for i, p := range m.Params {
		sb.WriteByte(' ')
		if i == len(m.Params)-1 && strings.Contains(p, " ") {
			sb.WriteByte(':')
		}
		sb.WriteString(p)
	}

	return sb.String()
}
