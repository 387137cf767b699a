// Program proteld answers virtualized-modem calls relayed by the
// Asterisk Softmodem, decodes Protel payphone printouts out of the
// noisy 300-baud stream, and hangs up the moment enough data has
// arrived. It wires together the modem listener, the per-call
// persistence layers (printout files, SQLite call log, raw capture
// store), duplicate detection, the MQTT event publisher, and the admin
// stats console.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"proteld/admin"
	"proteld/capture"
	"proteld/config"
	"proteld/dedup"
	"proteld/events"
	"proteld/modem"
	"proteld/printout"
	"proteld/protel"
	"proteld/recorder"
	"proteld/stats"
)

// Version is the daemon version reported at startup.
const Version = "1.0.0"

func main() {
	var (
		configPath = flag.String("c", "", "path to YAML config file")
		port       = flag.Int("p", -1, "port on which to listen")
		localOnly  = flag.Bool("l", false, "listen only on localhost")
		outputDir  = flag.String("f", "", "log printouts to this directory")
		verbose    = flag.Bool("v", false, "echo received data per call")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	}
	cfg.Apply(config.Overrides{
		Port:      *port,
		LocalOnly: *localOnly,
		OutputDir: *outputDir,
		Verbose:   boolToCount(*verbose),
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		log.Printf("Warning: file logging unavailable: %v", err)
	}
	log.SetFlags(0) // the fanout adds its own timestamps
	log.SetOutput(fanout)
	defer fanout.Close()

	log.Printf("proteld v%s starting...", Version)
	cfg.Print()

	// Interactive runs get the live per-call echo automatically; a
	// daemonized process stays quiet unless -v asked for it.
	echo := cfg.Logging.Echo || isStdoutTTY()

	tracker := stats.NewTracker()

	var printWriter *printout.Writer
	if cfg.Output.Enabled {
		printWriter, err = printout.NewWriter(cfg.Output.Dir)
		if err != nil {
			log.Fatalf("Error preparing output directory: %v", err)
		}
	}

	var callLog *recorder.Recorder
	if cfg.Recorder.Enabled {
		callLog, err = recorder.NewRecorder(cfg.Recorder.DBPath)
		if err != nil {
			log.Printf("Warning: call log disabled: %v", err)
			callLog = nil
		}
	}

	var captureStore *capture.Store
	if cfg.Capture.Enabled {
		retention := time.Duration(cfg.Capture.RetentionHours) * time.Hour
		captureStore, err = capture.Open(cfg.Capture.Path, retention)
		if err != nil {
			log.Printf("Warning: capture store disabled: %v", err)
			captureStore = nil
		}
	}

	var detector *dedup.Detector
	if cfg.Dedup.Enabled {
		detector = dedup.New(time.Duration(cfg.Dedup.WindowMinutes) * time.Minute)
	}

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher = events.NewPublisher(cfg.Events.Broker, cfg.Events.Port, cfg.Events.Topic)
		if err := publisher.Connect(); err != nil {
			log.Printf("Warning: event publishing disabled: %v", err)
			publisher = nil
		}
	}

	sink := completionSink(printWriter, callLog, captureStore, detector, publisher)

	server := modem.NewServer(cfg.Listen.Port, cfg.Listen.LocalOnly, cfg.Listen.MaxCalls, echo, tracker, sink)
	if err := server.Start(); err != nil {
		// No listener means no calls; nothing to do but exit.
		log.Fatalf("%v", err)
	}

	var console *admin.Console
	if cfg.Admin.Enabled {
		console = admin.NewConsole(cfg.Admin.Port, cfg.Admin.Transport, tracker, server.ActiveCalls)
		if err := console.Start(); err != nil {
			log.Printf("Warning: admin console disabled: %v", err)
			console = nil
		}
	}

	stopDisplay := make(chan struct{})
	if cfg.Stats.DisplayIntervalSeconds > 0 {
		go displayStats(time.Duration(cfg.Stats.DisplayIntervalSeconds)*time.Second, tracker, server, stopDisplay)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Printf("Daemon is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)
	log.Printf("Shutting down...")

	close(stopDisplay)
	server.Stop()
	if console != nil {
		console.Stop()
	}
	if publisher != nil {
		publisher.Stop()
	}
	if detector != nil {
		detector.Stop()
	}
	if callLog != nil {
		if err := callLog.Close(); err != nil {
			log.Printf("Warning: call log close: %v", err)
		}
	}
	if captureStore != nil {
		if err := captureStore.Close(); err != nil {
			log.Printf("Warning: capture store close: %v", err)
		}
	}

	for _, line := range tracker.SummaryLines() {
		log.Printf("%s", line)
	}
	log.Printf("%-16s: %s", "Bytes Received", humanize.Bytes(tracker.BytesRead()))
}

// completionSink composes the per-call persistence chain. It runs on
// the session goroutine after the socket has been closed, so none of
// it delays the hangup.
func completionSink(printWriter *printout.Writer, callLog *recorder.Recorder, captureStore *capture.Store, detector *dedup.Detector, publisher *events.Publisher) modem.SinkFunc {
	return func(out modem.Outcome) {
		var payloadHash uint64
		duplicate := false
		if payload, ok := protel.Payload(out.Raw); ok {
			payloadHash, duplicate = detector.Check(payload, time.Now().UTC())
			if duplicate {
				log.Printf("Call # %d: repeat printout from %s", out.CallNumber, out.CallerID)
			}
		}

		if out.Success {
			log.Printf("Call # %d: complete printout from %s (%s read)",
				out.CallNumber, out.CallerID, humanize.Bytes(uint64(out.BytesRead)))
		} else {
			log.Printf("Call # %d: ended without a printout (%s read, %d strikes)",
				out.CallNumber, humanize.Bytes(uint64(out.BytesRead)), out.Strikes)
		}

		if printWriter != nil {
			if path, err := printWriter.Save(out.Raw, out.CallerID, out.Success); err != nil {
				log.Printf("Call # %d: %v", out.CallNumber, err)
			} else {
				log.Printf("Call # %d: saved to %s", out.CallNumber, path)
			}
		}
		if captureStore != nil {
			captureStore.Put(out.EndedAt, out.CallNumber, out.Raw)
		}
		if callLog != nil {
			callLog.Enqueue(recorder.Record{
				CallNumber:         out.CallNumber,
				CallerID:           out.CallerID,
				Success:            out.Success,
				BytesRead:          out.BytesRead,
				Strikes:            out.Strikes,
				Corrections:        out.Corrections,
				RetransmitDistance: out.RetransmitDistance,
				PayloadHash:        payloadHash,
				Duplicate:          duplicate,
				StartedAt:          out.StartedAt,
				EndedAt:            out.EndedAt,
			})
		}
		if publisher != nil {
			publisher.Publish(events.CallEvent{
				CallNumber:  out.CallNumber,
				Success:     out.Success,
				CallerID:    out.CallerID,
				BytesRead:   out.BytesRead,
				Strikes:     out.Strikes,
				Corrections: out.Corrections,
				Duplicate:   duplicate,
				StartedAt:   out.StartedAt.Unix(),
				EndedAt:     out.EndedAt.Unix(),
			})
		}
	}
}

// displayStats periodically emits the counter snapshot to the logs.
func displayStats(interval time.Duration, tracker *stats.Tracker, server *modem.Server, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, line := range tracker.SnapshotLines() {
				log.Printf("%s", line)
			}
			log.Printf("Active calls: %d, uptime: %s", server.ActiveCalls(), tracker.Uptime().Round(time.Second))
		}
	}
}

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
