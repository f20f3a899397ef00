// Package command wraps framer.Framer and grammar parsing into
// CommandParser, the server-side ingest state machine from spec.md §4.3:
// it turns a byte stream from a connected IMAP client into a sequence of
// Command/Bytes/IdleDone events.
package command

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"crawshaw.io/iox"

	"spilled.ink/imapcodec/imap/cursor"
	"spilled.ink/imapcodec/imap/framer"
	"spilled.ink/imapcodec/imap/grammar"
)

// EventKind discriminates an Event's payload.
type EventKind int

const (
	// EventCommand carries a freshly parsed command line.
	EventCommand EventKind = iota
	// EventBytes carries one chunk of an APPEND literal payload. Bytes is
	// a view into either the parser's internal line buffer or the
	// framer's raw streaming accumulator; callers that need to retain it
	// past the next Next call must copy it.
	EventBytes
	// EventIdleDone reports that the client sent the DONE sentinel that
	// ends an IDLE command.
	EventIdleDone
)

// Event is one item from Parser.Next.
type Event struct {
	Kind    EventKind
	Command *grammar.Command
	Bytes   []byte
}

type mode int

const (
	modeLines mode = iota
	modeIdle
	modeStreamingAppend
)

// Parser is the command-parsing side of an IMAP connection: server-side
// ingest of client commands. It is not safe for concurrent use; callers
// serialize Feed/Next the same way they serialize reads off the
// underlying connection (spec.md §5).
type Parser struct {
	framer *framer.Framer
	depth  *cursor.Depth
	filer  *iox.Filer

	mode mode

	// StreamingAppend state.
	pending   *grammar.Command
	literal   *iox.BufferFile
	remaining int64
	leftover  []byte
}

// New returns a Parser that buffers at most bufferLimit bytes per logical
// line (see framer.New) and bounds recursive-descent nesting to maxDepth
// (see cursor.NewDepth). filer mints the *iox.BufferFile sinks used to
// accumulate APPEND literal payloads; it may be shared across many
// Parsers.
func New(filer *iox.Filer, bufferLimit, maxDepth int) *Parser {
	return &Parser{
		framer: framer.New(bufferLimit),
		depth:  cursor.NewDepth(maxDepth),
		filer:  filer,
		mode:   modeLines,
	}
}

// Feed appends newly-read bytes to the parser's input. The bytes are
// copied; p is not retained.
func (p *Parser) Feed(b []byte) { p.framer.Feed(b) }

// Next produces the next event. ok is false if more bytes are needed
// (call Feed then Next again); that is not an error.
func (p *Parser) Next() (Event, bool, error) {
	switch p.mode {
	case modeIdle:
		return p.nextIdle()
	case modeStreamingAppend:
		return p.nextStreamingAppend()
	default:
		return p.nextLine()
	}
}

func (p *Parser) nextLine() (Event, bool, error) {
	if p.framer.Streaming() {
		return Event{}, false, &cursor.InvariantError{Hint: "command parser: framer left streaming outside StreamingAppend mode"}
	}
	line, _, ok, err := p.framer.Next()
	if err != nil {
		return Event{}, false, err
	}
	if !ok {
		return Event{}, false, nil
	}
	cmd, rest, err := grammar.ParseCommandLine(line, p.depth)
	if err != nil {
		return Event{}, false, err
	}

	switch cmd.Name {
	case "IDLE":
		p.mode = modeIdle
		return Event{Kind: EventCommand, Command: cmd}, true, nil
	case "APPEND":
		return p.beginAppend(cmd, rest)
	default:
		return Event{Kind: EventCommand, Command: cmd}, true, nil
	}
}

// beginAppend opens the *iox.BufferFile literal sink for cmd and switches
// to StreamingAppend mode, mirroring teacher Command.Literal: the
// grammar package parses the literal header ({N}/{N+}/{N-}) but never
// touches the payload bytes themselves, leaving it to the command
// package to decide (by comparing N against what the framer already
// handed back in rest) whether those bytes are already in hand or still
// need to be drained from the framer's raw streaming mode.
func (p *Parser) beginAppend(cmd *grammar.Command, rest []byte) (Event, bool, error) {
	n, _ := cmd.AppendLiteralHeader()
	lf := p.filer.BufferFile(0)
	cmd.Literal = lf

	p.pending = cmd
	p.literal = lf
	p.remaining = n
	p.leftover = rest
	p.mode = modeStreamingAppend
	return Event{Kind: EventCommand, Command: cmd}, true, nil
}

func (p *Parser) nextStreamingAppend() (Event, bool, error) {
	if p.remaining > 0 {
		if len(p.leftover) > 0 {
			n := int64(len(p.leftover))
			if n > p.remaining {
				n = p.remaining
			}
			chunk := p.leftover[:n]
			p.leftover = p.leftover[n:]
			p.remaining -= n
			if _, err := p.literal.Write(chunk); err != nil {
				return Event{}, false, err
			}
			return Event{Kind: EventBytes, Bytes: chunk}, true, nil
		}
		if !p.framer.Streaming() {
			return Event{}, false, &cursor.InvariantError{Hint: "command parser: APPEND literal pending but framer is not streaming"}
		}
		chunk, ok := p.framer.StreamChunk()
		if !ok {
			return Event{}, false, nil
		}
		p.remaining -= int64(len(chunk))
		if _, err := p.literal.Write(chunk); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventBytes, Bytes: chunk}, true, nil
	}
	return p.finishAppend()
}

// finishAppend consumes the CRLF that terminates an APPEND command's
// literal and returns to Lines mode. The terminator is either already
// sitting in leftover (a literal small enough for the framer to have
// inlined, along with the command's own closing CRLF, in a single call
// to framer.Next) or must be read as the framer's next logical line (a
// literal big enough to have forced raw streaming mode; the trailing
// CRLF is the next thing the framer can frame once the stream drains).
func (p *Parser) finishAppend() (Event, bool, error) {
	if len(p.leftover) > 0 {
		tail := p.leftover
		p.leftover = nil
		if err := consumeCRLFTail(tail); err != nil {
			return Event{}, false, err
		}
		return p.returnToLines()
	}
	line, _, ok, err := p.framer.Next()
	if err != nil {
		return Event{}, false, err
	}
	if !ok {
		return Event{}, false, nil
	}
	if err := consumeCRLFTail(line); err != nil {
		return Event{}, false, err
	}
	return p.returnToLines()
}

func (p *Parser) returnToLines() (Event, bool, error) {
	if _, err := p.literal.Seek(0, io.SeekStart); err != nil {
		return Event{}, false, err
	}
	p.literal = nil
	p.pending = nil
	p.mode = modeLines
	return p.nextLine()
}

// consumeCRLFTail validates that tail holds exactly the line terminator
// following an APPEND literal: CRLF, or a bare LF (spec.md §4.1 accepts
// either on input).
func consumeCRLFTail(tail []byte) error {
	if bytes.Equal(tail, []byte("\r\n")) || bytes.Equal(tail, []byte("\n")) {
		return nil
	}
	return &cursor.InvariantError{Hint: "APPEND left unconsumed bytes after its literal: " + strconv.Quote(string(tail))}
}

func (p *Parser) nextIdle() (Event, bool, error) {
	line, _, ok, err := p.framer.Next()
	if err != nil {
		return Event{}, false, err
	}
	if !ok {
		return Event{}, false, nil
	}
	trimmed := bytes.TrimRight(line, "\r\n")
	if !strings.EqualFold(string(trimmed), "DONE") {
		return Event{}, false, &cursor.SyntaxError{Hint: "expected DONE, got " + strconv.Quote(string(line))}
	}
	p.mode = modeLines
	return Event{Kind: EventIdleDone}, true, nil
}
