package main

import "strings"

// ANSI colors used to mark server-originated channel messages.
const (
	green = "\x1b[32m"
	red   = "\x1b[31m"
	reset = "\x1b[0m"
)

// mark wraps a message in an ANSI color so clients can tell server notices
// from chatter.
func mark(msg, color string) string {
	return color + msg + reset
}

// validChannelName reports whether name is usable as a channel name.
func validChannelName(name string) bool {
	return strings.HasPrefix(name, "#") && len(name) > 1
}
