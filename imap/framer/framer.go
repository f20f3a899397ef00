// Package framer breaks an incoming IMAP byte stream into logical lines,
// honoring RFC 3501 literal syntax (`{N}`, `{N+}`, `{N-}`): a literal's
// octets are part of the line they terminate, not line-delimited text, so
// a naive LF scan would split a line in the middle of a literal payload
// that happens to contain a newline byte.
//
// Framer never blocks. Feed appends newly-read bytes; Next pulls the next
// logical line out, reporting that it needs more bytes rather than
// waiting for them. Once a literal is larger than the configured buffer
// cap, the Framer stops buffering it and switches to streaming mode,
// handing the caller raw chunks directly instead.
package framer

import (
	"bytes"
	"errors"
	"strconv"
)

// ErrLineTooLong is returned by Next when the accumulator has grown past
// the configured buffer limit without completing a line, and no literal
// streaming mode was entered to explain the size.
var ErrLineTooLong = errors.New("imapcodec: line too long")

// Framer incrementally frames a byte stream into logical IMAP lines.
type Framer struct {
	limit int

	acc      []byte
	searched int // offset into acc already scanned for LF; avoids re-scanning

	streaming bool
	remaining int64 // bytes left to stream raw, valid while streaming
	owed      int   // continuations owed, accumulated since the last line/chunk was returned
}

// New returns a Framer that buffers up to limit bytes per logical line
// before falling back to streaming mode for an oversized literal.
func New(limit int) *Framer {
	return &Framer{limit: limit}
}

// Feed appends newly-read bytes to the framer's input. The bytes are
// copied; p is not retained.
func (f *Framer) Feed(p []byte) {
	f.acc = append(f.acc, p...)
}

// Streaming reports whether the framer is currently waiting for raw
// literal bytes rather than a terminated line.
func (f *Framer) Streaming() bool { return f.streaming }

// Remaining reports how many raw literal bytes remain to be streamed.
// Only meaningful while Streaming() is true.
func (f *Framer) Remaining() int64 { return f.remaining }

// StreamChunk consumes and returns whatever fed bytes are available
// toward the current streamed literal, up to Remaining(). ok is false if
// no bytes are available yet. Only valid while Streaming() is true.
func (f *Framer) StreamChunk() (chunk []byte, ok bool) {
	if !f.streaming || len(f.acc) == 0 {
		return nil, false
	}
	n := int64(len(f.acc))
	if n > f.remaining {
		n = f.remaining
	}
	chunk = f.acc[:n]
	f.acc = f.acc[n:]
	f.remaining -= n
	f.searched = 0
	if f.remaining == 0 {
		f.streaming = false
	}
	return chunk, true
}

// Next attempts to produce the next logical line, including any literal
// payloads that fit under the buffer limit. ok is false if more bytes are
// needed (call Feed then Next again); it is not an error. Line is a view
// into the framer's internal accumulator and is only valid until the next
// call to Feed or Next.
//
// Next must not be called while Streaming() is true; drain StreamChunk
// first.
func (f *Framer) Next() (line []byte, continuationsOwed int, ok bool, err error) {
	for {
		rel := bytes.IndexByte(f.acc[f.searched:], '\n')
		if rel == -1 {
			if len(f.acc) > f.limit {
				return nil, 0, false, ErrLineTooLong
			}
			f.searched = len(f.acc)
			return nil, 0, false, nil
		}
		lfPos := f.searched + rel

		hdr, isLiteral := detectLiteralHeader(f.acc[:lfPos+1])
		if !isLiteral {
			line = f.acc[:lfPos+1]
			f.acc = f.acc[lfPos+1:]
			f.searched = 0
			owed := f.owed
			f.owed = 0
			return line, owed, true, nil
		}

		if hdr.sync {
			f.owed++
		}
		need := lfPos + 1 + hdr.n
		if need <= f.limit {
			if len(f.acc) >= need {
				// Literal payload already fully present; keep scanning
				// for the next LF after it.
				f.searched = need
				continue
			}
			if len(f.acc) > f.limit {
				return nil, 0, false, ErrLineTooLong
			}
			// Not enough bytes yet for a literal that will fit; wait.
			// This header is scanned again on the next call, so its
			// continuation is not counted yet.
			if hdr.sync {
				f.owed--
			}
			return nil, 0, false, nil
		}

		// The literal would overflow the buffer cap: hand back what has
		// accumulated (through the header's CRLF) and switch to raw
		// streaming for the payload.
		line = f.acc[:lfPos+1]
		rest := f.acc[lfPos+1:]
		f.acc = append([]byte(nil), rest...)
		f.searched = 0
		f.streaming = true
		f.remaining = int64(hdr.n)
		owed := f.owed
		f.owed = 0
		return line, owed, true, nil
	}
}

type literalHeader struct {
	n    int
	sync bool
}

// detectLiteralHeader checks whether lineBytes (which must end in '\n')
// ends with a literal header of the form "{N}\r\n", "{N+}\r\n" or
// "{N-}\r\n", scanning backward from the LF.
func detectLiteralHeader(lineBytes []byte) (literalHeader, bool) {
	i := len(lineBytes) - 1
	if i < 0 || lineBytes[i] != '\n' {
		return literalHeader{}, false
	}
	i--
	if i >= 0 && lineBytes[i] == '\r' {
		i--
	}
	if i < 0 || lineBytes[i] != '}' {
		return literalHeader{}, false
	}
	i--

	sync := true
	if i >= 0 && (lineBytes[i] == '+' || lineBytes[i] == '-') {
		sync = false
		i--
	}

	end := i // inclusive index of the last digit
	start := i
	for start >= 0 && lineBytes[start] >= '0' && lineBytes[start] <= '9' {
		start--
	}
	if start == end {
		return literalHeader{}, false // no digits
	}
	digits := lineBytes[start+1 : end+1]
	if start < 0 || lineBytes[start] != '{' {
		return literalHeader{}, false
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil || n < 0 {
		return literalHeader{}, false
	}
	return literalHeader{n: n, sync: sync}, true
}
