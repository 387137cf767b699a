// callprobe dials a running proteld and replays canned Protel
// printouts at 300-baud pacing, optionally corrupting the first copy
// so the daemon's reset/retransmit path can be exercised without a
// softmodem or a payphone. It reports how quickly the daemon hung up
// each call.
package main

import (
	"flag"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const samplePrintout = "*3115552368*43125*DD8822*1234*032*2312237122028*37090*"

var (
	preamble     = append([]byte("TC!"), 0x00, 0x00, 0x00, 0x90, 0x00, 0x00, 0x00, 0x00)
	noiseTrailer = []byte{0x01, 0x00, 0x00, 0xef}
)

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:8300", "daemon address to dial")
		count        = flag.Int("count", 1, "calls to place per worker")
		concurrency  = flag.Int("concurrency", 1, "concurrent callers")
		corruptFirst = flag.Bool("corrupt-first", false, "garble the first printout, then retransmit clean")
		failCall     = flag.Bool("fail", false, "send two garbled printouts (call should be aborted)")
		byteDelay    = flag.Duration("byte-delay", 33*time.Millisecond, "delay per byte (33ms approximates 300 baud)")
	)
	flag.Parse()

	if *count <= 0 || *concurrency <= 0 {
		log.Fatalf("count and concurrency must be > 0")
	}

	var placed, completed uint64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < *count; i++ {
				atomic.AddUint64(&placed, 1)
				if err := placeCall(*addr, *corruptFirst, *failCall, *byteDelay); err != nil {
					log.Printf("worker %d call %d: %v", worker, i+1, err)
					continue
				}
				atomic.AddUint64(&completed, 1)
			}
		}(w)
	}
	wg.Wait()
	log.Printf("placed %d calls, %d completed cleanly in %s",
		atomic.LoadUint64(&placed), atomic.LoadUint64(&completed), time.Since(start).Round(time.Millisecond))
}

// placeCall plays one scripted call and waits for the daemon to hang
// up. The daemon closing first is the expected outcome; a local write
// error after the final payload usually just means it hung up mid-write,
// which is the behavior being probed.
func placeCall(addr string, corruptFirst, failCall bool, byteDelay time.Duration) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	started := time.Now()

	var script [][]byte
	switch {
	case failCall:
		script = [][]byte{preamble, garbledPrintout(), noiseTrailer, preamble, garbledPrintout(), noiseTrailer}
	case corruptFirst:
		script = [][]byte{preamble, garbledPrintout(), noiseTrailer, preamble, []byte(samplePrintout)}
	default:
		script = [][]byte{preamble, []byte(samplePrintout)}
	}

	for _, part := range script {
		if err := pacedWrite(conn, part, byteDelay); err != nil {
			// The daemon hangs up as soon as it has what it needs.
			log.Printf("daemon hung up after %s (%v)", time.Since(started).Round(time.Millisecond), err)
			return nil
		}
	}

	// Wait for the remote close instead of hanging up ourselves, the
	// way the answering modem would hold the line.
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	log.Printf("call finished in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

// garbledPrintout corrupts the sample so it cannot be autocorrected:
// two markers and their left neighbors are replaced, so the neighbor
// predicates fail and the star count drops below the 7-of-8 tolerance.
func garbledPrintout() []byte {
	p := []byte(samplePrintout)
	p[46] = 'Q'
	p[47] = 'Q'
	p[52] = 'Q'
	p[53] = 'Q'
	return p
}

func pacedWrite(conn net.Conn, p []byte, byteDelay time.Duration) error {
	for _, b := range p {
		if _, err := conn.Write([]byte{b}); err != nil {
			return err
		}
		if byteDelay > 0 {
			time.Sleep(byteDelay)
		}
	}
	return nil
}
