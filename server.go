package main

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/dispatch"
	"github.com/parley-chat/parley/internal/wire"
)

// Server holds the state for a single server instance. All of it belongs to
// the event loop goroutine; other goroutines talk to the loop through Events.
type Server struct {
	Config *Config

	DB         *db.Service
	Dispatcher *dispatch.Dispatcher
	AI         *AIConnector
	Metrics    *Metrics

	// Peers maps id to each live connection, client and server alike.
	Peers map[uint64]*Peer

	Events chan Event

	// ShutdownChan tells all goroutines to clean up and exit.
	ShutdownChan chan struct{}

	Listener net.Listener

	// WG tracks every goroutine we start.
	WG sync.WaitGroup

	// readyChan closes once the listener is up. Lets callers learn the bound
	// address when listening on port 0.
	readyChan chan struct{}

	nextID       uint64
	shutdownOnce sync.Once

	log zerolog.Logger
}

// EventType is a type of event we can tell the server about.
type EventType int

const (
	// NullEvent is a default event. This means the event was not populated.
	NullEvent EventType = iota

	// NewPeerEvent means a new connection was accepted.
	NewPeerEvent

	// DeadPeerEvent means a connection died.
	DeadPeerEvent

	// MessageFromPeerEvent means a peer sent a message.
	MessageFromPeerEvent

	// BadMessageEvent means a peer sent something we could not parse.
	BadMessageEvent

	// ContinuationEvent runs a closure on the loop. Completed database
	// operations and established outbound links come back this way.
	ContinuationEvent
)

// Event holds a message to tell the server something happened.
type Event struct {
	Type    EventType
	Peer    *Peer
	Message wire.Message
	Err     error
	Fn      func()
}

// NewServer creates a Server, opening its database.
func NewServer(cfg *Config, log zerolog.Logger) (*Server, error) {
	s := &Server{
		Config:       cfg,
		Peers:        make(map[uint64]*Peer),
		Events:       make(chan Event, 512),
		ShutdownChan: make(chan struct{}),
		readyChan:    make(chan struct{}),
		log:          log,
	}

	s.Metrics = NewMetrics()
	s.Dispatcher = dispatch.NewDispatcher(
		log.With().Str("component", "dispatch").Logger(), s.Metrics)
	s.AI = NewAIConnector(cfg.AIAddr, cfg.IOWait,
		log.With().Str("component", "ai").Logger())

	database, err := db.Open(cfg.DBPath, s.post,
		log.With().Str("component", "db").Logger(), s.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}
	s.DB = database

	return s, nil
}

// post runs fn on the event loop. It is how the database worker hands
// completed operations back.
func (s *Server) post(fn func()) {
	s.newEvent(Event{Type: ContinuationEvent, Fn: fn})
}

// Start starts the server and blocks until shutdown completes.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp",
		net.JoinHostPort(s.Config.ListenHost, s.Config.ListenPort))
	if err != nil {
		return errors.Wrap(err, "unable to listen")
	}
	s.Listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	close(s.readyChan)

	s.WG.Add(1)
	go s.acceptConnections()

	if s.Config.MetricsAddr != "" {
		s.WG.Add(1)
		go func() {
			defer s.WG.Done()
			s.Metrics.Serve(s.Config.MetricsAddr, s.ShutdownChan,
				s.log.With().Str("component", "metrics").Logger())
		}()
	}

	s.connectToPeers()

	s.eventLoop()

	for _, p := range s.Peers {
		p.state.onConnectionClosed()
		s.Dispatcher.RemovePeer(p)
		p.close("Server shutting down.")
	}
	s.Peers = make(map[uint64]*Peer)

	if err := s.DB.Close(); err != nil {
		s.log.Warn().Err(err).Msg("problem closing database")
	}

	s.WG.Wait()
	s.log.Info().Msg("server shutdown cleanly")
	return nil
}

// Shutdown tells the server to clean up and die. Safe to call more than once
// and from any goroutine.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.log.Info().Msg("server shutdown initiated")
		close(s.ShutdownChan)

		if s.Listener != nil {
			if err := s.Listener.Close(); err != nil {
				s.log.Warn().Err(err).Msg("problem closing TCP listener")
			}
		}
	})
}

func (s *Server) isShuttingDown() bool {
	select {
	case <-s.ShutdownChan:
		return true
	default:
		return false
	}
}

// newEvent tells the server something happened. It does not block during
// shutdown even with nobody draining the queue.
func (s *Server) newEvent(evt Event) {
	select {
	case s.Events <- evt:
	case <-s.ShutdownChan:
	}
}

// eventLoop processes events until shutdown. It is the owner of all server
// state; everything it calls runs on this one goroutine.
func (s *Server) eventLoop() {
	for {
		select {
		case evt := <-s.Events:
			switch evt.Type {
			case NewPeerEvent:
				s.handleNewPeer(evt.Peer)
			case DeadPeerEvent:
				s.handleDeadPeer(evt.Peer)
			case MessageFromPeerEvent:
				s.handleMessage(evt.Peer, evt.Message)
			case BadMessageEvent:
				s.handleBadMessage(evt.Peer, evt.Err)
			case ContinuationEvent:
				evt.Fn()
			default:
				s.log.Error().Int("type", int(evt.Type)).Msg("unexpected event")
			}

		case <-s.ShutdownChan:
			return
		}
	}
}

func (s *Server) handleNewPeer(p *Peer) {
	s.Peers[p.ID] = p
	s.Metrics.ConnectionAccepted()
	s.log.Info().Str("peer", p.String()).Msg("new connection")
}

// handleDeadPeer forgets a dead connection. The read and write goroutines
// both report deaths, so a second report for the same peer is normal.
func (s *Server) handleDeadPeer(p *Peer) {
	if _, ok := s.Peers[p.ID]; !ok {
		return
	}
	delete(s.Peers, p.ID)

	p.state.onConnectionClosed()
	s.Dispatcher.RemovePeer(p)
	p.close("")

	s.log.Info().Str("peer", p.String()).Msg("connection gone")
}

func (s *Server) handleMessage(p *Peer, m wire.Message) {
	if _, ok := s.Peers[p.ID]; !ok || !p.connected {
		return
	}
	p.state.handle(m)
}

func (s *Server) handleBadMessage(p *Peer, err error) {
	p.log.Debug().Err(err).Msg("unparseable message")

	if errors.Is(err, wire.ErrNumParams) {
		p.sendLine("ERR_NUM_PARAMS")
	}
}

func (s *Server) nextPeerID() uint64 {
	return atomic.AddUint64(&s.nextID, 1)
}

// acceptConnections accepts connections and tells the server about each.
func (s *Server) acceptConnections() {
	defer s.WG.Done()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				break
			}
			s.log.Warn().Err(err).Msg("problem accepting connection")
			continue
		}

		p := NewPeer(s, s.nextPeerID(), conn)
		s.newEvent(Event{Type: NewPeerEvent, Peer: p})

		s.WG.Add(1)
		go p.readLoop()
		s.WG.Add(1)
		go p.writeLoop()
	}

	s.log.Debug().Msg("accept loop done")
}

// connectToPeers dials each configured peer server.
func (s *Server) connectToPeers() {
	for _, def := range s.Config.Servers {
		def := def
		s.WG.Add(1)
		go s.linkToPeer(def)
	}
}

// linkToPeer establishes one outbound server link. Registration with the
// server tables happens on the event loop once the dial succeeds.
func (s *Server) linkToPeer(def ServerDefinition) {
	defer s.WG.Done()

	addr := net.JoinHostPort(def.Hostname, strconv.Itoa(def.Port))
	conn, err := net.DialTimeout("tcp", addr, s.Config.IOWait)
	if err != nil {
		s.log.Warn().Err(err).Str("server", def.Name).
			Msg("could not link to peer server")
		return
	}

	p := NewPeer(s, s.nextPeerID(), conn)

	s.newEvent(Event{Type: ContinuationEvent, Fn: func() {
		s.Peers[p.ID] = p
		p.setState(&serverLinkState{peer: p})
		s.Dispatcher.AddPeer(p, "")
		p.sendf("CONNECT %s", def.Pass)
		s.log.Info().Str("server", def.Name).Str("peer", p.String()).
			Msg("linked to peer server")
	}})

	s.WG.Add(1)
	go p.readLoop()
	s.WG.Add(1)
	go p.writeLoop()
}
