package main

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// AIConnector ships chat lines to the toxicity scoring service, one short
// connection per line. Delivery is fire and forget: scoring must never slow
// down or break the chat path.
type AIConnector struct {
	addr    string
	timeout time.Duration
	log     zerolog.Logger
}

// NewAIConnector creates a connector. A blank addr disables scoring.
func NewAIConnector(addr string, timeout time.Duration, log zerolog.Logger) *AIConnector {
	return &AIConnector{addr: addr, timeout: timeout, log: log}
}

// Send forwards one line to the scoring service. It returns immediately; the
// dial and write happen in their own goroutine and failures are only logged.
func (a *AIConnector) Send(line string) {
	if a == nil || a.addr == "" {
		return
	}

	go func() {
		conn, err := net.DialTimeout("tcp", a.addr, a.timeout)
		if err != nil {
			a.log.Warn().Err(err).Msg("could not reach scoring service")
			return
		}
		defer func() {
			_ = conn.Close()
		}()

		if err := conn.SetWriteDeadline(time.Now().Add(a.timeout)); err != nil {
			a.log.Warn().Err(err).Msg("scoring service write deadline")
			return
		}
		if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
			a.log.Warn().Err(err).Msg("could not write to scoring service")
		}
	}()
}
