// Package modem implements the TCP front end for the virtualized
// answering modem and the per-call session decoder.
//
// Each accepted connection is one phone call: the Asterisk Softmodem
// relays the answering modem's 300-baud byte stream over the socket.
// The server hands the connection to a dedicated session goroutine,
// which accumulates bytes into a private buffer, evaluates it after
// every read, and closes the socket the moment the outcome is known.
// Closing early is the whole point: the remote modem would otherwise
// hold the billed call open until its own timeout.
//
// Concurrency design:
//   - One goroutine per call (handleCall); sessions share nothing but
//     the stats tracker, which is atomic.
//   - The accepted net.Conn is captured by the goroutine's argument
//     before the accept loop continues, so there is no window in which
//     a second accept could overwrite it.
//   - Shutdown closes the listener and is detected via the shutdown
//     channel in the accept loop.
package modem

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/netip"
	"sync/atomic"
	"syscall"
	"time"

	"proteld/stats"
)

// Outcome summarizes one completed call for the downstream
// collaborators (printout writer, call log, capture store, events).
// Exactly one Outcome is produced per accepted connection.
type Outcome struct {
	CallNumber  uint64
	Success     bool
	Raw         []byte // bytes accumulated up to termination
	CallerID    string // derived phone number; empty unless Success
	BytesRead   int    // total read from the socket, including buffer resets
	Strikes     int    // corruption strikes observed
	Corrections int    // marker autocorrections applied
	// RetransmitDistance is the edit distance between the payload
	// discarded at the first strike and the payload finally accepted,
	// or -1 when the call never reset (or the discarded buffer held no
	// measurable payload). Useful for judging line quality offline.
	RetransmitDistance int
	StartedAt          time.Time
	EndedAt            time.Time
}

// SinkFunc receives the Outcome after the connection has been closed.
type SinkFunc func(Outcome)

// Server accepts softmodem connections and runs one session per call.
type Server struct {
	port      int
	localOnly bool
	maxCalls  int
	echo      bool
	tracker   *stats.Tracker
	sink      SinkFunc

	listener net.Listener
	shutdown chan struct{}
	active   atomic.Int64
}

// NewServer creates a server. tracker must be non-nil; sink may be nil
// when no downstream persistence is configured.
func NewServer(port int, localOnly bool, maxCalls int, echo bool, tracker *stats.Tracker, sink SinkFunc) *Server {
	return &Server{
		port:      port,
		localOnly: localOnly,
		maxCalls:  maxCalls,
		echo:      echo,
		tracker:   tracker,
		sink:      sink,
		shutdown:  make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop. A bind or
// listen failure is returned to the caller and is fatal for the
// process: a dialer daemon that cannot answer is useless.
func (s *Server) Start() error {
	host := ""
	if s.localOnly {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", s.port))
	listener, err := listenWithReuse(addr)
	if err != nil {
		return fmt.Errorf("failed to start modem listener: %w", err)
	}
	s.listener = listener
	log.Printf("Modem listener on %s", listener.Addr())

	go s.acceptCalls()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener. In-flight sessions run to completion; the
// remote softmodem ends them when the underlying call is torn down.
func (s *Server) Stop() {
	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// ActiveCalls returns the number of sessions currently decoding.
func (s *Server) ActiveCalls() int {
	return int(s.active.Load())
}

// listenWithReuse enables SO_REUSEADDR so the daemon can rebind
// quickly after a restart. Falls back to a plain Listen on platforms
// that reject the control call.
func listenWithReuse(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			controlErr := c.Control(func(fd uintptr) {
				sockErr = setReuseAddr(fd)
			})
			if controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return net.Listen("tcp", addr)
	}
	return listener, nil
}

func (s *Server) acceptCalls() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Error accepting connection: %v", err)
				continue
			}
		}

		if s.maxCalls > 0 && s.ActiveCalls() >= s.maxCalls {
			log.Printf("Rejected connection from %s: max concurrent calls reached (%d)", conn.RemoteAddr(), s.maxCalls)
			conn.Close()
			continue
		}
		if !s.remoteAllowed(conn) {
			log.Printf("Rejected connection from %s: listener is loopback-only", conn.RemoteAddr())
			conn.Close()
			continue
		}

		// The conn is moved into the goroutine by argument; nothing is
		// shared with the next loop iteration.
		go s.handleCall(conn)
	}
}

// remoteAllowed enforces the loopback-only policy even if the bind
// address was overridden, e.g. when tests listen on all interfaces.
func (s *Server) remoteAllowed(conn net.Conn) bool {
	if !s.localOnly {
		return true
	}
	addrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	return addrPort.Addr().IsLoopback()
}

// handleCall runs one session to completion, closes the socket, then
// hands the outcome to the sink and the tracker. The close happens
// before any persistence so the phone call ends as soon as possible.
func (s *Server) handleCall(conn net.Conn) {
	s.active.Add(1)
	defer s.active.Add(-1)

	callNum := s.tracker.CallStarted()
	log.Printf("Call # %d: new connection from %s", callNum, conn.RemoteAddr())

	sess := newSession(conn, callNum, s.echo, s.tracker)
	outcome := sess.run()

	// End the phone call first; everything below can take its time.
	conn.Close()

	if outcome.Success {
		s.tracker.CallSucceeded()
	} else {
		s.tracker.CallFailed()
	}
	if s.sink != nil {
		s.sink(outcome)
	}
}
