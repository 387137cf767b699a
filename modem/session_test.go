package modem

import (
	"bytes"
	"net"
	"testing"
	"time"
)

const samplePrintout = "*3115552368*43125*DD8822*1234*032*2312237122028*37090*"

func preamble() []byte {
	return append([]byte("TC!"), 0x00, 0x00, 0x00, 0x90, 0x00, 0x00, 0x00, 0x00)
}

func cleanStream() []byte {
	return append(preamble(), samplePrintout...)
}

// garbledStream corrupts the markers at offsets 47 and 53 along with
// their left neighbors, which blocks autocorrection and drops the star
// count below the 7-of-8 tolerance, then appends the end-of-printout
// noise trailer.
func garbledStream() []byte {
	p := []byte(samplePrintout)
	p[46] = 'Q'
	p[47] = 'Q'
	p[52] = 'Q'
	p[53] = 'Q'
	stream := append(preamble(), p...)
	return append(stream, 0x01, 0x00, 0x00, 0xef)
}

// runSession drives a session over a pipe, feeding it the given
// writes, and returns its outcome. closeAfter controls whether the
// remote side hangs up after the script.
func runSession(t *testing.T, writes [][]byte, closeAfter bool) Outcome {
	t.Helper()
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go func() {
		for _, w := range writes {
			if _, err := remote.Write(w); err != nil {
				return
			}
		}
		if closeAfter {
			remote.Close()
		}
	}()

	type result struct{ out Outcome }
	done := make(chan result, 1)
	go func() {
		sess := newSession(local, 1, false, nil)
		done <- result{sess.run()}
	}()

	select {
	case r := <-done:
		return r.out
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not complete")
		return Outcome{}
	}
}

func TestSessionCleanPrintout(t *testing.T) {
	out := runSession(t, [][]byte{cleanStream()}, false)
	if !out.Success {
		t.Fatalf("expected success")
	}
	if out.CallerID != "3115552368" {
		t.Fatalf("expected caller ID 3115552368, got %q", out.CallerID)
	}
	if out.Strikes != 0 {
		t.Fatalf("expected no strikes, got %d", out.Strikes)
	}
	if out.RetransmitDistance != -1 {
		t.Fatalf("expected no retransmit distance on a clean call, got %d", out.RetransmitDistance)
	}
}

func TestSessionRecoversAfterOneStrike(t *testing.T) {
	out := runSession(t, [][]byte{garbledStream(), cleanStream()}, false)
	if !out.Success {
		t.Fatalf("expected success after retransmission")
	}
	if out.Strikes != 1 {
		t.Fatalf("expected 1 strike, got %d", out.Strikes)
	}
	if out.CallerID != "3115552368" {
		t.Fatalf("expected caller ID from the retransmission, got %q", out.CallerID)
	}
	if out.RetransmitDistance < 0 {
		t.Fatalf("expected a measured retransmit distance, got %d", out.RetransmitDistance)
	}
	// The accepted buffer must hold only the retransmission.
	if !bytes.Equal(out.Raw, cleanStream()) {
		t.Fatalf("buffer was not reset before the retransmission")
	}
}

func TestSessionAbortsOnSecondStrike(t *testing.T) {
	// The remote side never closes: the session must decide to abort
	// on its own after the second corrupted printout.
	out := runSession(t, [][]byte{garbledStream(), garbledStream()}, false)
	if out.Success {
		t.Fatalf("expected failure")
	}
	if out.Strikes != 2 {
		t.Fatalf("expected 2 strikes, got %d", out.Strikes)
	}
}

func TestSessionFailsOnEOF(t *testing.T) {
	out := runSession(t, [][]byte{[]byte("TC! partial")}, true)
	if out.Success {
		t.Fatalf("expected failure on early hangup")
	}
	if out.BytesRead != len("TC! partial") {
		t.Fatalf("expected %d bytes read, got %d", len("TC! partial"), out.BytesRead)
	}
}

func TestSessionTruncatesAtCapacity(t *testing.T) {
	junk := bytes.Repeat([]byte{'x'}, BufferCapacity+100)
	out := runSession(t, [][]byte{junk}, true)
	if out.Success {
		t.Fatalf("expected failure")
	}
	if len(out.Raw) != BufferCapacity {
		t.Fatalf("expected buffer capped at %d, got %d", BufferCapacity, len(out.Raw))
	}
	if out.BytesRead != len(junk) {
		t.Fatalf("expected %d bytes counted, got %d", len(junk), out.BytesRead)
	}
}
