// Package admin serves a small line-based console for operators to
// inspect live counters while the daemon runs; proteld historically
// only reported its totals when killed. Intended to be bound to
// loopback.
package admin

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	ztelnet "github.com/ziutek/telnet"

	"proteld/stats"
)

// TransportTelnet wraps accepted connections with a telnet protocol
// layer (IAC handling) so real telnet clients behave; TransportPlain
// serves raw lines for netcat and scripts.
const (
	TransportPlain  = "plain"
	TransportTelnet = "telnet"
)

// Console answers STATS/UPTIME/ACTIVE/BYE on a loopback TCP port.
type Console struct {
	port        int
	transport   string
	tracker     *stats.Tracker
	activeCalls func() int

	listener net.Listener
	shutdown chan struct{}
}

// NewConsole creates a console. activeCalls may be nil.
func NewConsole(port int, transport string, tracker *stats.Tracker, activeCalls func() int) *Console {
	if transport != TransportTelnet {
		transport = TransportPlain
	}
	return &Console{
		port:        port,
		transport:   transport,
		tracker:     tracker,
		activeCalls: activeCalls,
		shutdown:    make(chan struct{}),
	}
}

// Start binds the loopback listener and serves connections.
func (c *Console) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", c.port))
	if err != nil {
		return fmt.Errorf("admin: listen: %w", err)
	}
	c.listener = listener
	log.Printf("Admin console on %s (%s)", listener.Addr(), c.transport)
	go c.acceptLoop()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (c *Console) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Stop closes the listener.
func (c *Console) Stop() {
	close(c.shutdown)
	if c.listener != nil {
		_ = c.listener.Close()
	}
}

func (c *Console) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.shutdown:
				return
			default:
				log.Printf("Admin: accept: %v", err)
				continue
			}
		}
		go c.handleConn(conn)
	}
}

func (c *Console) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Minute))

	var rw io.ReadWriter = conn
	if c.transport == TransportTelnet {
		tconn, err := ztelnet.NewConn(conn)
		if err != nil {
			log.Printf("Admin: telnet wrap failed for %s: %v", conn.RemoteAddr(), err)
			return
		}
		rw = tconn
	}

	writeLine(rw, "proteld admin console. Commands: STATS, UPTIME, ACTIVE, BYE")
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 256), 256)
	for scanner.Scan() {
		switch strings.ToUpper(strings.TrimSpace(scanner.Text())) {
		case "":
			continue
		case "STATS":
			for _, line := range c.tracker.SnapshotLines() {
				writeLine(rw, line)
			}
			writeLine(rw, fmt.Sprintf("Bytes received: %s", humanize.Bytes(c.tracker.BytesRead())))
		case "UPTIME":
			writeLine(rw, fmt.Sprintf("Uptime: %s", c.tracker.Uptime().Round(time.Second)))
		case "ACTIVE":
			active := 0
			if c.activeCalls != nil {
				active = c.activeCalls()
			}
			writeLine(rw, fmt.Sprintf("Active calls: %d", active))
		case "BYE", "QUIT", "EXIT":
			writeLine(rw, "Goodbye.")
			return
		default:
			writeLine(rw, "Unknown command. Commands: STATS, UPTIME, ACTIVE, BYE")
		}
	}
}

func writeLine(w io.Writer, line string) {
	_, _ = io.WriteString(w, line+"\r\n")
}
