package modem

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	lev "github.com/agnivade/levenshtein"

	"proteld/protel"
)

const (
	// BufferCapacity bounds one call's accumulation buffer. A clean
	// printout with preamble and trailer is about 65 bytes; two full
	// retransmissions plus heavy line noise still fit comfortably.
	// Anything that fills 512 bytes without yielding a payload is
	// garbage, so overflow is reported and excess bytes are dropped
	// while evaluation continues on the data in hand.
	BufferCapacity = 512

	// maxCorruptionStrikes is the abort budget. The Protel unit sends
	// its printout twice per call; after the second corrupted copy
	// there is nothing more to wait for.
	maxCorruptionStrikes = 2

	readChunkSize = 256
)

// sessionTracker is the slice of the stats tracker a session touches.
type sessionTracker interface {
	RecordReset()
	AddBytes(int)
}

// session owns one call's buffer and drives the read/append/evaluate
// loop. Nothing in here is shared with other sessions.
type session struct {
	conn    net.Conn
	callNum uint64
	echo    bool
	tracker sessionTracker

	buf         []byte
	strikes     int
	corrections int
	bytesRead   int
	truncated   bool

	// firstCorrupt holds a copy of the buffer discarded at the first
	// strike so a later success can be diffed against it.
	firstCorrupt []byte
}

func newSession(conn net.Conn, callNum uint64, echo bool, tracker sessionTracker) *session {
	return &session{
		conn:    conn,
		callNum: callNum,
		echo:    echo,
		tracker: tracker,
		buf:     make([]byte, 0, BufferCapacity),
	}
}

// run reads until the printout is complete, the two-strike budget is
// spent, or the connection ends. It returns exactly one Outcome and
// never retries a read error; retransmission is the remote caller's
// job, accommodated by the buffer reset, not by reconnecting.
func (s *session) run() Outcome {
	started := time.Now().UTC()
	chunk := make([]byte, readChunkSize)
	success := false

	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.append(chunk[:n])

			ev := protel.Evaluate(s.buf)
			s.corrections += ev.Corrections
			if ev.Status == protel.StatusComplete {
				success = true
				break
			}

			// Noise past the payload region means this copy of the
			// printout is a write-off. Only look once more than a full
			// payload has been buffered, so the pre-payload filler
			// can't trip the detector.
			if s.bytesAvailable() > protel.PayloadLength && protel.HasTrailingNoise(s.buf) {
				s.strikes++
				if s.strikes >= maxCorruptionStrikes {
					log.Printf("Call # %d: duplicate corruption, aborting", s.callNum)
					break
				}
				log.Printf("Call # %d: resetting buffer (data corrupted)", s.callNum)
				s.reset()
			}
		}
		if err != nil {
			// EOF or transport error: the call is over either way.
			log.Printf("Call # %d: read ended: %v", s.callNum, err)
			break
		}
	}

	outcome := Outcome{
		CallNumber:         s.callNum,
		Success:            success,
		Raw:                append([]byte(nil), s.buf...),
		BytesRead:          s.bytesRead,
		Strikes:            s.strikes,
		Corrections:        s.corrections,
		RetransmitDistance: -1,
		StartedAt:          started,
		EndedAt:            time.Now().UTC(),
	}
	if success {
		if id, ok := protel.CallerID(s.buf); ok {
			outcome.CallerID = id
		}
		outcome.RetransmitDistance = s.retransmitDistance()
	}
	return outcome
}

// append copies incoming bytes into the bounded buffer, dropping the
// excess once capacity is reached. Truncation is logged once per fill.
func (s *session) append(p []byte) {
	s.bytesRead += len(p)
	if s.tracker != nil {
		s.tracker.AddBytes(len(p))
	}
	if s.echo {
		log.Printf("Call # %d rx: %s", s.callNum, renderPrintable(p))
	}

	free := cap(s.buf) - len(s.buf)
	if len(p) > free {
		if !s.truncated {
			log.Printf("Call # %d: buffer truncation occurred", s.callNum)
			s.truncated = true
		}
		p = p[:free]
	}
	s.buf = append(s.buf, p...)
}

func (s *session) bytesAvailable() int {
	return len(s.buf)
}

// reset clears the buffer for the retransmission without touching the
// connection; the remote side gets its second chance within the same
// call.
func (s *session) reset() {
	if p, ok := protel.Payload(s.buf); ok {
		s.firstCorrupt = append([]byte(nil), p...)
	} else {
		s.firstCorrupt = append([]byte(nil), s.buf...)
	}
	s.buf = s.buf[:0]
	s.truncated = false
	if s.tracker != nil {
		s.tracker.RecordReset()
	}
}

// retransmitDistance measures how far the discarded first printout was
// from the accepted one. Zero means the corruption was entirely in the
// trailer; large values point at a noisy trunk.
func (s *session) retransmitDistance() int {
	if len(s.firstCorrupt) == 0 {
		return -1
	}
	accepted, ok := protel.Payload(s.buf)
	if !ok {
		return -1
	}
	discarded := s.firstCorrupt
	if p, ok := protel.Payload(discarded); ok {
		discarded = p
	}
	d := lev.ComputeDistance(string(discarded), string(accepted))
	log.Printf("Call # %d: retransmitted payload differs from discarded copy by %d edits", s.callNum, d)
	return d
}

// renderPrintable formats received bytes for the per-call echo line:
// printable bytes verbatim, everything else as a bracketed decimal.
// Each call's echo goes through its own tagged log line so concurrent
// sessions never interleave mid-printout.
func renderPrintable(p []byte) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, c := range p {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, " [%d] ", c)
		}
	}
	return b.String()
}
