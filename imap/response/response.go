// Package response wraps framer.Framer and grammar parsing into
// ResponseParser, the client-side ingest state machine from spec.md
// §4.4: it turns a byte stream from a connected IMAP server into a
// sequence of events, with FETCH attribute lists delivered lazily
// (SimpleAttribute | StreamingAttributeBegin…StreamingAttributeBytes*…
// StreamingAttributeEnd) rather than buffered whole.
package response

import (
	"errors"

	"spilled.ink/imapcodec/imap/cursor"
	"spilled.ink/imapcodec/imap/framer"
	"spilled.ink/imapcodec/imap/grammar"
)

// EventKind discriminates an Event's payload.
type EventKind int

const (
	EventGreeting EventKind = iota
	EventResponseBegin
	EventFetchStart
	EventSimpleAttribute
	EventStreamingAttributeBegin
	EventStreamingAttributeBytes
	EventStreamingAttributeEnd
	EventAttributesFinish
	EventResponseEnd
	EventContinuationRequest
)

// Event is one item from Parser.Next.
type Event struct {
	Kind EventKind

	Greeting     grammar.Greeting
	ResponseData grammar.UntaggedData
	FetchSeq     uint32
	Attr         grammar.FetchAttr
	StreamKind   string
	StreamSize   int64
	StreamBytes  []byte
	Tagged       grammar.TaggedResponse
	Continuation grammar.ContinuationRequest
}

type mode int

const (
	modeGreeting mode = iota
	modeResponse
	modeFetchHead
	modeFetchAttr
	modeFetchSep
	modeStreamingBytes
)

// Parser is the response-parsing side of an IMAP connection: client-side
// ingest of server responses. It is not safe for concurrent use.
type Parser struct {
	fr    *framer.Framer
	depth *cursor.Depth
	mode  mode

	// cur holds whatever bytes are available for the production
	// currently being parsed. It is nil when nothing is in hand yet and
	// the next step must pull a fresh logical line from fr.
	cur *cursor.Cursor

	fetchSeq   uint32
	remaining  int64
	streamKind string
}

// New returns a Parser that buffers at most bufferLimit bytes per
// logical line and bounds recursive-descent nesting to maxDepth.
func New(bufferLimit, maxDepth int) *Parser {
	return &Parser{
		fr:    framer.New(bufferLimit),
		depth: cursor.NewDepth(maxDepth),
		mode:  modeGreeting,
	}
}

// Feed appends newly-read bytes to the parser's input. The bytes are
// copied; p is not retained.
func (p *Parser) Feed(b []byte) { p.fr.Feed(b) }

// Next produces the next event. ok is false if more bytes are needed.
func (p *Parser) Next() (Event, bool, error) {
	switch p.mode {
	case modeGreeting:
		return p.nextGreeting()
	case modeFetchHead:
		return p.nextFetchHead()
	case modeFetchAttr:
		return p.nextFetchAttr()
	case modeFetchSep:
		return p.nextFetchSep()
	case modeStreamingBytes:
		return p.nextStreamingBytes()
	default:
		return p.nextResponse()
	}
}

// cursorOrPull returns the in-progress cursor, or pulls the next logical
// line from the framer if nothing is currently being parsed.
func (p *Parser) cursorOrPull() (*cursor.Cursor, bool, error) {
	if p.cur != nil {
		return p.cur, true, nil
	}
	line, _, ok, err := p.fr.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	p.cur = cursor.New(line)
	return p.cur, true, nil
}

// stepParse drives one grammar production to completion, pulling
// further logical lines from the framer and grafting them onto the
// remainder of the current attempt whenever the production reports
// cursor.ErrIncomplete. This is what lets a FETCH response whose
// attribute list spans more than one framer-level "line" (because a
// streamed literal split it) be parsed as one continuous production.
func stepParse[T any](p *Parser, fn func(*cursor.Cursor) (T, error)) (T, bool, error) {
	var zero T
	for {
		c, ok, err := p.cursorOrPull()
		if err != nil || !ok {
			return zero, ok, err
		}
		mark := c.Mark()
		v, err := fn(c)
		if err == nil {
			if c.AtEnd() {
				p.cur = nil
			}
			return v, true, nil
		}
		if errors.Is(err, cursor.ErrIncomplete) {
			more, _, ok2, err2 := p.fr.Next()
			if err2 != nil {
				return zero, false, err2
			}
			if !ok2 {
				c.Reset(mark)
				return zero, false, nil
			}
			combined := append(append([]byte(nil), c.Slice(mark, c.Len())...), more...)
			p.cur = cursor.New(combined)
			continue
		}
		return zero, false, err
	}
}

func (p *Parser) nextGreeting() (Event, bool, error) {
	g, ok, err := stepParse(p, grammar.ParseGreeting)
	if err != nil || !ok {
		return Event{}, ok, err
	}
	p.mode = modeResponse
	return Event{Kind: EventGreeting, Greeting: g}, true, nil
}

type responseData struct {
	data    grammar.UntaggedData
	isFetch bool
	seq     uint32
}

func (p *Parser) nextResponse() (Event, bool, error) {
	c, ok, err := p.cursorOrPull()
	if err != nil || !ok {
		return Event{}, ok, err
	}
	b, err := c.PeekByte()
	if err != nil {
		return Event{}, false, err
	}

	switch b {
	case '+':
		cr, ok, err := stepParse(p, grammar.ParseContinuationRequest)
		if err != nil || !ok {
			return Event{}, ok, err
		}
		return Event{Kind: EventContinuationRequest, Continuation: cr}, true, nil

	case '*':
		rd, ok, err := stepParse(p, func(c *cursor.Cursor) (responseData, error) {
			data, isFetch, seq, err := grammar.ParseResponseData(c)
			return responseData{data, isFetch, seq}, err
		})
		if err != nil || !ok {
			return Event{}, ok, err
		}
		if rd.isFetch {
			p.fetchSeq = rd.seq
			p.mode = modeFetchHead
			return Event{Kind: EventFetchStart, FetchSeq: rd.seq}, true, nil
		}
		return Event{Kind: EventResponseBegin, ResponseData: rd.data}, true, nil

	default:
		tr, ok, err := stepParse(p, grammar.ParseTaggedResponse)
		if err != nil || !ok {
			return Event{}, ok, err
		}
		return Event{Kind: EventResponseEnd, Tagged: tr}, true, nil
	}
}

func (p *Parser) nextFetchHead() (Event, bool, error) {
	_, ok, err := stepParse(p, func(c *cursor.Cursor) (struct{}, error) {
		return struct{}{}, grammar.ConsumeByte(c, '(')
	})
	if err != nil || !ok {
		return Event{}, ok, err
	}
	p.mode = modeFetchAttr
	return p.nextFetchAttr()
}

func (p *Parser) nextFetchAttr() (Event, bool, error) {
	attr, ok, err := stepParse(p, func(c *cursor.Cursor) (grammar.FetchAttr, error) {
		return grammar.ParseFetchAttr(c, p.depth)
	})
	if err != nil || !ok {
		return Event{}, ok, err
	}
	if attr.IsLiteral {
		p.remaining = attr.Literal.N
		p.streamKind = attr.Kind
		p.mode = modeStreamingBytes
		return Event{
			Kind:       EventStreamingAttributeBegin,
			Attr:       attr,
			StreamKind: attr.Kind,
			StreamSize: attr.Literal.N,
		}, true, nil
	}
	p.mode = modeFetchSep
	return Event{Kind: EventSimpleAttribute, Attr: attr}, true, nil
}

// nextFetchSep implements the Sep state: a SP continues the attribute
// list, a ")" plus its trailing newline ends it. Per spec.md §9, any
// CR/LF following the closing paren is consumed here, as part of this
// transition, rather than left for a subsequent state to stumble on.
func (p *Parser) nextFetchSep() (Event, bool, error) {
	done, ok, err := stepParse(p, func(c *cursor.Cursor) (bool, error) {
		if sp, err := grammar.Try(c, ' '); err != nil {
			return false, err
		} else if sp {
			c.Advance(1)
			return false, nil
		}
		if err := grammar.ConsumeByte(c, ')'); err != nil {
			return false, err
		}
		if err := grammar.ParseNewline(c); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil || !ok {
		return Event{}, ok, err
	}
	if done {
		p.mode = modeResponse
		return Event{Kind: EventAttributesFinish}, true, nil
	}
	p.mode = modeFetchAttr
	return p.nextFetchAttr()
}

func (p *Parser) nextStreamingBytes() (Event, bool, error) {
	if p.remaining > 0 {
		if p.cur != nil {
			avail := int64(len(p.cur.Remaining()))
			n := p.remaining
			if avail < n {
				n = avail
			}
			if n > 0 {
				chunk, err := p.cur.ReadN(int(n))
				if err != nil {
					return Event{}, false, err
				}
				if p.cur.AtEnd() {
					p.cur = nil
				}
				p.remaining -= n
				return Event{Kind: EventStreamingAttributeBytes, StreamBytes: chunk}, true, nil
			}
			p.cur = nil
		}
		if !p.fr.Streaming() {
			return Event{}, false, &cursor.InvariantError{Hint: "response parser: literal pending but framer is not streaming"}
		}
		chunk, ok := p.fr.StreamChunk()
		if !ok {
			return Event{}, false, nil
		}
		p.remaining -= int64(len(chunk))
		return Event{Kind: EventStreamingAttributeBytes, StreamBytes: chunk}, true, nil
	}
	p.mode = modeFetchSep
	return Event{Kind: EventStreamingAttributeEnd}, true, nil
}
