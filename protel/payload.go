// Package protel implements recognition and repair of Protel COCOT
// printouts inside a noisy 300-baud modem byte stream.
//
// A printout looks like this on the wire (byte values in brackets):
//
//	TC! [0] [0] [0] [144] [0] [0] [0] [0] *3115552368*43125*DD8822*1234*032*2312237122028*37090*
//
// followed, typically, by [1] [0] [0] [239/240]. The structured region
// starts at the first '*' and spans 54 bytes delimited by 8 '*'
// characters. The exact number of filler bytes before the payload is
// not fixed, so the scanner anchors on the first marker rather than on
// absolute stream offsets.
//
// There is no error correction at 300 baud, so single-byte corruption
// of the markers themselves is common. Repair is deliberately narrow:
// only a fixed table of marker positions is eligible, and each repair
// is gated on both neighbors matching their expected byte class.
package protel

import (
	"bytes"
	"log"
)

const (
	// PayloadLength is the size of the structured region measured from
	// the first marker byte.
	PayloadLength = 54

	// ExpectedMarkers is the number of '*' bytes in a clean printout.
	// MinMarkers tolerates a missing trailing marker, which is not
	// needed if everything before it arrived intact.
	ExpectedMarkers = 8
	MinMarkers      = ExpectedMarkers - 1

	// Marker delimits payload fields and signals payload start.
	Marker = '*'

	// CallerIDLength is the width of the phone-number field
	// immediately after the first marker.
	CallerIDLength = 10

	// noiseSkip is how many bytes at the head of the session buffer are
	// ignored when searching for trailing-noise signatures, so the
	// filler bytes before the payload cannot trip the detector.
	noiseSkip = 30
)

// noiseSignatures are the byte runs the answering modem emits after a
// printout. Seeing one past the payload region means the payload came
// through garbled and will be retransmitted.
var noiseSignatures = [2][]byte{
	{0x01, 0x00, 0x00},
	{0x00, 0x00, 0x00},
}

// Status is the outcome of evaluating the accumulated session buffer.
type Status uint8

const (
	// StatusIncomplete means more bytes are needed before the payload
	// can be located or measured.
	StatusIncomplete Status = iota
	// StatusMalformed means a payload-sized region is present but its
	// structure is wrong (too few markers, or the scan ends before the
	// trailing marker offset). It is a diagnostic refinement of
	// StatusIncomplete: callers treat both identically and keep
	// reading, since the region may still be completed or superseded by
	// a retransmission. Only the log line differs.
	StatusMalformed
	// StatusComplete means a well-formed printout has arrived.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusMalformed:
		return "malformed"
	default:
		return "incomplete"
	}
}

// Evaluation reports the scan result and, when complete, where the
// payload starts within the session buffer.
type Evaluation struct {
	Status       Status
	PayloadStart int // index of the first marker byte; valid for StatusComplete
	Corrections  int // marker repairs applied during this evaluation
}

type predicate func(byte) bool

func isDigit(b byte) bool   { return b >= '0' && b <= '9' }
func isLetterD(b byte) bool { return b == 'D' }
func anyByte(byte) bool     { return true }

// repairRule describes one position (relative to payload start) whose
// byte may be restored to the expected marker when both neighbors
// match their byte class.
type repairRule struct {
	pos   int
	want  byte
	left  predicate
	right predicate
}

// The table mirrors the printout layout: every eligible position is an
// interior field delimiter flanked by digits, except offset 17 (the
// serial field starts with "DD") and offset 53 (the trailing marker,
// whose right neighbor is uncontrolled noise).
var repairRules = []repairRule{
	{11, Marker, isDigit, isDigit},
	{17, Marker, isDigit, isLetterD},
	{24, Marker, isDigit, isDigit},
	{29, Marker, isDigit, isDigit},
	{33, Marker, isDigit, isDigit},
	{47, Marker, isDigit, isDigit},
	{53, Marker, isDigit, anyByte},
}

// CanAutocorrect reports whether the byte at pos may be overwritten,
// based solely on its neighbors. It never mutates the buffer. The byte
// strictly before pos must satisfy left and the byte strictly after
// must satisfy right; positions at either end of the buffer are never
// correctable.
func CanAutocorrect(buf []byte, pos int, left, right predicate) bool {
	if pos <= 0 || pos+1 >= len(buf) {
		return false
	}
	return left(buf[pos-1]) && right(buf[pos+1])
}

// Autocorrect repairs corrupted marker bytes at the fixed table of
// positions, in place, and returns how many were rewritten. buf must
// begin at the payload start (the first marker byte). Positions whose
// neighbors fail their predicates are logged and left untouched;
// evaluation continues with the uncorrected byte. Applying Autocorrect
// twice yields the same buffer as applying it once.
func Autocorrect(buf []byte) int {
	if len(buf) <= PayloadLength {
		// Too short; the trailing rule needs a byte past the payload.
		return 0
	}
	applied := 0
	for _, r := range repairRules {
		if buf[r.pos] == r.want {
			continue
		}
		if CanAutocorrect(buf, r.pos, r.left, r.right) {
			log.Printf("Protel: autocorrecting pos %d to %c", r.pos, r.want)
			buf[r.pos] = r.want
			applied++
		} else {
			log.Printf("Protel: position %d should be %c but could not autocorrect", r.pos, r.want)
		}
	}
	return applied
}

// HasTrailingNoise reports whether either noise signature occurs past
// the skip offset in the accumulated buffer. The caller is expected to
// invoke this only once more than a full payload has been buffered;
// within the payload the signatures cannot occur (all payload bytes
// are printable).
func HasTrailingNoise(buf []byte) bool {
	if len(buf) <= noiseSkip {
		return false
	}
	tail := buf[noiseSkip:]
	return bytes.Contains(tail, noiseSignatures[0]) || bytes.Contains(tail, noiseSignatures[1])
}

// Evaluate scans the accumulated session buffer for a complete
// printout. It repairs eligible marker bytes in place as a side
// effect, so a buffer that evaluates complete has already been
// autocorrected.
func Evaluate(buf []byte) Evaluation {
	if len(buf) < PayloadLength {
		return Evaluation{Status: StatusIncomplete}
	}

	start := bytes.IndexByte(buf, Marker)
	if start < 0 {
		return Evaluation{Status: StatusIncomplete}
	}

	payload := buf[start:]
	if len(payload) < PayloadLength {
		return Evaluation{Status: StatusIncomplete}
	}

	applied := Autocorrect(payload)

	// The structure scan ends at the first NUL: a corrupted copy is
	// NUL-padded by the answering modem, and those bytes must never
	// count toward the payload. Markers are still only counted inside
	// the fixed span, so a stray 0x2a in printable trailing noise
	// cannot inflate the total either.
	scanLen := len(payload)
	if i := bytes.IndexByte(payload, 0x00); i >= 0 {
		scanLen = i
	}
	countEnd := PayloadLength
	if scanLen < countEnd {
		countEnd = scanLen
	}
	stars := bytes.Count(payload[:countEnd], []byte{Marker})
	if stars < MinMarkers {
		log.Printf("Protel: expecting at least %d stars, got %d", MinMarkers, stars)
		return Evaluation{Status: StatusMalformed, Corrections: applied}
	}

	// The trailing marker sits 53 bytes past the first one; a scan that
	// ends before that offset means the markers are bunched inside a
	// garbled, padded copy.
	if scanLen < PayloadLength-1 {
		log.Printf("Protel: payload is not long enough")
		return Evaluation{Status: StatusMalformed, Corrections: applied}
	}

	return Evaluation{Status: StatusComplete, PayloadStart: start, Corrections: applied}
}

// Payload returns the fixed-length structured region beginning at the
// first marker byte, or false if no such region has been buffered.
func Payload(buf []byte) ([]byte, bool) {
	start := bytes.IndexByte(buf, Marker)
	if start < 0 || len(buf)-start < PayloadLength {
		return nil, false
	}
	return buf[start : start+PayloadLength], true
}

// CallerID extracts the ten-digit phone number that follows the first
// marker byte. It does not validate that the field is numeric; the
// saved printout is the source of truth and post-processing handles
// semantic cleanup.
func CallerID(buf []byte) (string, bool) {
	start := bytes.IndexByte(buf, Marker)
	if start < 0 || len(buf) < start+1+CallerIDLength {
		return "", false
	}
	return string(buf[start+1 : start+1+CallerIDLength]), true
}
