package grammar

import (
	"strings"

	"spilled.ink/imapcodec/imap/cursor"
)

// Greeting is the server's initial untagged response, sent before any
// command has been read. RFC 3501 section 7.1.1-7.1.3.
type Greeting struct {
	Kind string // OK, PREAUTH, BYE
	Text RespText
}

// ContinuationRequest is a "+ ..." line: an invitation to keep sending
// (synchronizing-literal data, or the next leg of an AUTHENTICATE
// exchange). Text holds whatever follows "+ ", not further interpreted:
// per spec.md's AUTHENTICATE open-question decision, mechanism challenge
// bytes are opaque to this codec.
type ContinuationRequest struct {
	Text []byte
}

// TaggedResponse is a command's tagged completion: OK, NO, or BAD.
type TaggedResponse struct {
	Tag    []byte
	Status string // OK, NO, BAD
	Text   RespText
}

// RespText is a [resp-text-code] plus trailing human-readable text,
// shared by greetings, tagged completions, and untagged status
// responses. Code is the bracketed atom (e.g. "ALERT", "UIDVALIDITY");
// CodeArgs holds whatever followed it inside the brackets, raw, since
// spec.md's Non-goals leave response-code argument shapes opaque.
type RespText struct {
	Code     string
	CodeArgs []byte
	Text     []byte
}

// UntaggedData is every untagged ("* ...") response this codec models
// with concrete fields, besides FETCH (handled by the attribute state
// machine in the response package) and the three status kinds already
// covered by Greeting (OK/PREAUTH/BYE can also arrive mid-session, so
// Kind overlaps are intentional: Status below carries OK/NO/BAD/BYE).
type UntaggedData struct {
	Kind string // one of the UntaggedKind* constants

	SeqNum uint32 // Kind is Exists, Recent, or Expunge (a FETCH's number is returned separately by ParseResponseData)

	Flags []string // Kind is Flags

	Status RespText // Kind is Status (untagged OK/NO/BAD/BYE)

	Capabilities []string // Kind is Capability

	List List // Kind is List or Lsub

	StatusMailbox []byte       // Kind is StatusReport
	StatusItems   []StatusItem // Kind is StatusReport
	StatusValues  []int64      // Kind is StatusReport, parallel to StatusItems

	Search      []uint32 // Kind is Search
	SearchModSeq int64   // Kind is Search, set if a MODSEQ trailer was present

	// Namespace/ID/Enable are kept as the raw bytes of their argument
	// lists: spec.md's Non-goals explicitly leave full namespace/ID
	// sub-structure unmodeled, and a generic codec has no use for
	// interpreting vendor ID key/value pairs itself.
	Raw []byte // Kind is Namespace, ID, or Enabled

	Exists uint32 // Kind is Exists
}

const (
	UntaggedExists    = "EXISTS"
	UntaggedRecent    = "RECENT"
	UntaggedExpunge   = "EXPUNGE"
	UntaggedFetch     = "FETCH"
	UntaggedFlags     = "FLAGS"
	UntaggedStatus    = "STATUS-RESPONSE" // untagged OK/NO/BAD/BYE/PREAUTH
	UntaggedCapability = "CAPABILITY"
	UntaggedList      = "LIST"
	UntaggedLsub      = "LSUB"
	UntaggedStatusRpt = "STATUS"
	UntaggedSearch    = "SEARCH"
	UntaggedNamespace = "NAMESPACE"
	UntaggedID        = "ID"
	UntaggedEnabled   = "ENABLED"
)

// ParseGreeting reads a server greeting: "* " (OK/PREAUTH/BYE) SP
// resp-text CRLF.
func ParseGreeting(c *cursor.Cursor) (Greeting, error) {
	if err := ConsumeByte(c, '*'); err != nil {
		return Greeting{}, err
	}
	if err := ParseSpace(c); err != nil {
		return Greeting{}, err
	}
	kw, err := ParseAtom(c)
	if err != nil {
		return Greeting{}, err
	}
	kind := strings.ToUpper(string(kw))
	switch kind {
	case "OK", "PREAUTH", "BYE":
	default:
		return Greeting{}, cursor.Invalid(c, "invalid greeting status: %q", kw)
	}
	if err := ParseSpace(c); err != nil {
		return Greeting{}, err
	}
	text, err := ParseRespText(c)
	if err != nil {
		return Greeting{}, err
	}
	if err := ParseNewline(c); err != nil {
		return Greeting{}, err
	}
	return Greeting{Kind: kind, Text: text}, nil
}

// ParseContinuationRequest reads "+ " followed by arbitrary text to the
// end of the line (the text may be a base64 SASL challenge, a plain
// "Ready for additional text" banner, or empty).
func ParseContinuationRequest(c *cursor.Cursor) (ContinuationRequest, error) {
	if err := ConsumeByte(c, '+'); err != nil {
		return ContinuationRequest{}, err
	}
	// RFC 3501 requires a SP before the text, but some servers send a
	// bare "+\r\n"; tolerate both, matching the grammar's general
	// leniency (ParseSpace already tolerates runs of SP/TAB elsewhere).
	if ok, err := Try(c, ' '); err != nil {
		return ContinuationRequest{}, err
	} else if ok {
		c.Advance(1)
	}
	start := c.Pos()
	for {
		b, err := c.PeekByte()
		if err != nil {
			return ContinuationRequest{}, err
		}
		if b == '\r' || b == '\n' {
			break
		}
		c.Advance(1)
	}
	text := append([]byte(nil), c.Slice(start, c.Pos())...)
	if err := ParseNewline(c); err != nil {
		return ContinuationRequest{}, err
	}
	return ContinuationRequest{Text: text}, nil
}

// ParseTaggedResponse reads a command's tagged completion: tag SP
// (OK/NO/BAD) SP resp-text CRLF.
func ParseTaggedResponse(c *cursor.Cursor) (TaggedResponse, error) {
	tag, err := ParseTag(c)
	if err != nil {
		return TaggedResponse{}, err
	}
	if err := ParseSpace(c); err != nil {
		return TaggedResponse{}, err
	}
	kw, err := ParseAtom(c)
	if err != nil {
		return TaggedResponse{}, err
	}
	status := strings.ToUpper(string(kw))
	switch status {
	case "OK", "NO", "BAD":
	default:
		return TaggedResponse{}, cursor.Invalid(c, "invalid tagged response status: %q", kw)
	}
	if err := ParseSpace(c); err != nil {
		return TaggedResponse{}, err
	}
	text, err := ParseRespText(c)
	if err != nil {
		return TaggedResponse{}, err
	}
	if err := ParseNewline(c); err != nil {
		return TaggedResponse{}, err
	}
	return TaggedResponse{Tag: append([]byte(nil), tag...), Status: status, Text: text}, nil
}

// ParseRespText reads resp-text: ["[" resp-text-code "]" SP] text. The
// bracketed code's argument payload, if any, is kept as raw bytes: the
// set of resp-text-codes (ALERT, CAPABILITY, PERMANENTFLAGS, UIDNEXT,
// UIDVALIDITY, UNSEEN, READ-ONLY, READ-WRITE, TRYCREATE, APPENDUID,
// COPYUID, HIGHESTMODSEQ, NOMODSEQ, and vendor atom-SP-value extensions)
// is exactly the tagged-extension grammar spec.md §4.2 scopes as an
// opaque leaf value.
func ParseRespText(c *cursor.Cursor) (RespText, error) {
	var rt RespText
	if ok, err := Try(c, '['); err != nil {
		return RespText{}, err
	} else if ok {
		c.Advance(1)
		code, err := ParseAtom(c)
		if err != nil {
			return RespText{}, err
		}
		rt.Code = strings.ToUpper(string(code))
		start := c.Pos()
		depth := 1
		for {
			b, err := c.PeekByte()
			if err != nil {
				return RespText{}, err
			}
			if b == '[' {
				depth++
			}
			if b == ']' {
				depth--
				if depth == 0 {
					break
				}
			}
			c.Advance(1)
		}
		rt.CodeArgs = append([]byte(nil), c.Slice(start, c.Pos())...)
		rt.CodeArgs = trimLeadingSpace(rt.CodeArgs)
		c.Advance(1) // ']'
		if err := ParseSpace(c); err != nil {
			return RespText{}, err
		}
	}
	start := c.Pos()
	for {
		b, err := c.PeekByte()
		if err != nil {
			return RespText{}, err
		}
		if b == '\r' || b == '\n' {
			break
		}
		c.Advance(1)
	}
	rt.Text = append([]byte(nil), c.Slice(start, c.Pos())...)
	return rt, nil
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	return b
}

// ParseResponseData reads one untagged ("* ...") response and classifies
// it. When the response is a FETCH, parsing stops immediately after the
// "FETCH " keyword and its following SP: fetchSeq is set and isFetch is
// true, and the caller (imap/response) takes over parsing the
// parenthesized attribute list via ParseFetchAttr, since that list is
// streamed lazily rather than buffered whole. Every other kind is fully
// parsed through its trailing CRLF.
func ParseResponseData(c *cursor.Cursor) (data UntaggedData, isFetch bool, fetchSeq uint32, err error) {
	if err := ConsumeByte(c, '*'); err != nil {
		return UntaggedData{}, false, 0, err
	}
	if err := ParseSpace(c); err != nil {
		return UntaggedData{}, false, 0, err
	}

	b, err := c.PeekByte()
	if err != nil {
		return UntaggedData{}, false, 0, err
	}

	if isDigit(b) {
		n, err := ParseNumber(c)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		if err := ParseSpace(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		kw, err := ParseAtom(c)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		switch strings.ToUpper(string(kw)) {
		case "EXISTS":
			if err := ParseNewline(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			return UntaggedData{Kind: UntaggedExists, SeqNum: n, Exists: n}, false, 0, nil
		case "RECENT":
			if err := ParseNewline(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			return UntaggedData{Kind: UntaggedRecent, SeqNum: n}, false, 0, nil
		case "EXPUNGE":
			if err := ParseNewline(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			return UntaggedData{Kind: UntaggedExpunge, SeqNum: n}, false, 0, nil
		case "FETCH":
			if err := ParseSpace(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			return UntaggedData{}, true, n, nil
		}
		return UntaggedData{}, false, 0, cursor.Invalid(c, "unknown numbered untagged response: %q", kw)
	}

	kw, err := ParseAtom(c)
	if err != nil {
		return UntaggedData{}, false, 0, err
	}
	name := strings.ToUpper(string(kw))
	switch name {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
		if err := ParseSpace(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		text, err := ParseRespText(c)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		if err := ParseNewline(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		text.Code = name + "|" + text.Code // disambiguate status kind while keeping RespText's shape
		return UntaggedData{Kind: UntaggedStatus, Status: text}, false, 0, nil

	case "CAPABILITY":
		var caps []string
		for {
			if err := ParseSpace(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			atom, err := ParseAtom(c)
			if err != nil {
				return UntaggedData{}, false, 0, err
			}
			caps = append(caps, string(atom))
			if atEndOfLine(c) {
				break
			}
		}
		if err := ParseNewline(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		return UntaggedData{Kind: UntaggedCapability, Capabilities: caps}, false, 0, nil

	case "FLAGS":
		if err := ParseSpace(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		if err := ConsumeByte(c, '('); err != nil {
			return UntaggedData{}, false, 0, err
		}
		var flags []string
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return UntaggedData{}, false, 0, err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return UntaggedData{}, false, 0, err
				}
			}
			first = false
			flag, err := ParseFlag(c)
			if err != nil {
				return UntaggedData{}, false, 0, err
			}
			flags = append(flags, string(flag))
		}
		if err := ParseNewline(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		return UntaggedData{Kind: UntaggedFlags, Flags: flags}, false, 0, nil

	case "LIST", "LSUB":
		if err := ParseSpace(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		l, err := parseListResponse(c)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		if err := ParseNewline(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		kind := UntaggedList
		if name == "LSUB" {
			kind = UntaggedLsub
		}
		return UntaggedData{Kind: kind, List: l}, false, 0, nil

	case "STATUS":
		if err := ParseSpace(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		mbox, err := parseMailboxName(c, nil)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		if err := ParseSpace(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		if err := ConsumeByte(c, '('); err != nil {
			return UntaggedData{}, false, 0, err
		}
		var items []StatusItem
		var values []int64
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return UntaggedData{}, false, 0, err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return UntaggedData{}, false, 0, err
				}
			}
			first = false
			item, err := parseStatusRespItem(c)
			if err != nil {
				return UntaggedData{}, false, 0, err
			}
			if err := ParseSpace(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			v, err := parseUintDigits(c)
			if err != nil {
				return UntaggedData{}, false, 0, err
			}
			items = append(items, item)
			values = append(values, int64(v))
		}
		if err := ParseNewline(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		return UntaggedData{Kind: UntaggedStatusRpt, StatusMailbox: mbox, StatusItems: items, StatusValues: values}, false, 0, nil

	case "SEARCH", "ESEARCH":
		var nums []uint32
		var modSeq int64
		for {
			if atEndOfLine(c) {
				break
			}
			if err := ParseSpace(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			if atEndOfLine(c) {
				break
			}
			if ok, err := Try(c, '('); err != nil {
				return UntaggedData{}, false, 0, err
			} else if ok {
				// ESEARCH correlator/return-data groups: kept opaque.
				start := c.Pos()
				depth := 1
				c.Advance(1)
				for depth > 0 {
					bb, err := c.ReadByte()
					if err != nil {
						return UntaggedData{}, false, 0, err
					}
					if bb == '(' {
						depth++
					} else if bb == ')' {
						depth--
					}
				}
				_ = c.Slice(start, c.Pos())
				continue
			}
			kwb, ok, err := peekAtomOrNumber(c)
			if err != nil {
				return UntaggedData{}, false, 0, err
			}
			if !ok {
				n, err := ParseNumber(c)
				if err != nil {
					return UntaggedData{}, false, 0, err
				}
				nums = append(nums, n)
				continue
			}
			if strings.EqualFold(kwb, "MODSEQ") {
				if _, err := ParseAtom(c); err != nil {
					return UntaggedData{}, false, 0, err
				}
				if err := ParseSpace(c); err != nil {
					return UntaggedData{}, false, 0, err
				}
				v, err := ParseModSeqValue(c)
				if err != nil {
					return UntaggedData{}, false, 0, err
				}
				modSeq = v
				continue
			}
			// Unknown ESEARCH return-data tag (e.g. ALL/MIN/MAX/COUNT):
			// skip the tag and, if a value follows, skip it too.
			if _, err := ParseAtom(c); err != nil {
				return UntaggedData{}, false, 0, err
			}
			if rest := c.Remaining(); len(rest) > 1 && rest[0] == ' ' && (isDigit(rest[1]) || rest[1] == '*') {
				c.Advance(1)
				for rest = c.Remaining(); len(rest) > 0 && rest[0] != ' ' && rest[0] != '\r' && rest[0] != '\n'; rest = c.Remaining() {
					c.Advance(1)
				}
			}
		}
		if err := ParseNewline(c); err != nil {
			return UntaggedData{}, false, 0, err
		}
		return UntaggedData{Kind: UntaggedSearch, Search: nums, SearchModSeq: modSeq}, false, 0, nil

	case "NAMESPACE":
		raw, err := scanRestOfLine(c)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		return UntaggedData{Kind: UntaggedNamespace, Raw: raw}, false, 0, nil

	case "ID":
		raw, err := scanRestOfLine(c)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		return UntaggedData{Kind: UntaggedID, Raw: raw}, false, 0, nil

	case "ENABLED":
		raw, err := scanRestOfLine(c)
		if err != nil {
			return UntaggedData{}, false, 0, err
		}
		return UntaggedData{Kind: UntaggedEnabled, Raw: raw}, false, 0, nil
	}

	return UntaggedData{}, false, 0, cursor.Invalid(c, "unknown untagged response: %q", kw)
}

// scanRestOfLine consumes through (and including) the trailing CRLF,
// returning everything up to but not including it.
func scanRestOfLine(c *cursor.Cursor) ([]byte, error) {
	if ok, err := Try(c, ' '); err != nil {
		return nil, err
	} else if ok {
		c.Advance(1)
	}
	start := c.Pos()
	for {
		b, err := c.PeekByte()
		if err != nil {
			return nil, err
		}
		if b == '\r' || b == '\n' {
			break
		}
		c.Advance(1)
	}
	out := append([]byte(nil), c.Slice(start, c.Pos())...)
	if err := ParseNewline(c); err != nil {
		return nil, err
	}
	return out, nil
}

// peekAtomOrNumber peeks whether the next token is an atom (returning it
// upper-cased, ok=true) rather than a number (ok=false), without
// consuming anything in the number case.
func peekAtomOrNumber(c *cursor.Cursor) (string, bool, error) {
	b, err := c.PeekByte()
	if err != nil {
		return "", false, err
	}
	if isDigit(b) {
		return "", false, nil
	}
	mark := c.Mark()
	defer c.Reset(mark)
	atom, err := ParseAtom(c)
	if err != nil {
		return "", false, err
	}
	return strings.ToUpper(string(atom)), true, nil
}

func parseStatusRespItem(c *cursor.Cursor) (StatusItem, error) {
	atom, err := ParseAtom(c)
	if err != nil {
		return StatusUnknownItem, err
	}
	switch strings.ToUpper(string(atom)) {
	case "MESSAGES":
		return StatusMessages, nil
	case "RECENT":
		return StatusRecent, nil
	case "UIDNEXT":
		return StatusUIDNext, nil
	case "UIDVALIDITY":
		return StatusUIDValidity, nil
	case "UNSEEN":
		return StatusUnseen, nil
	case "HIGHESTMODSEQ":
		return StatusHighestModSeq, nil
	}
	return StatusUnknownItem, cursor.Invalid(c, "unknown STATUS item: %q", atom)
}

// parseListResponse reads a LIST/LSUB response's argument list: "("
// name-attributes ")" SP hierarchy-delimiter SP mailbox, with RFC 5258
// LIST-EXTENDED child-info groups tolerated and discarded.
func parseListResponse(c *cursor.Cursor) (List, error) {
	var l List
	if err := ConsumeByte(c, '('); err != nil {
		return List{}, err
	}
	first := true
	for {
		if ok, err := Try(c, ')'); err != nil {
			return List{}, err
		} else if ok {
			c.Advance(1)
			break
		}
		if !first {
			if err := ParseSpace(c); err != nil {
				return List{}, err
			}
		}
		first = false
		attr, err := ParseFlag(c)
		if err != nil {
			return List{}, err
		}
		l.ReturnOptions = append(l.ReturnOptions, string(attr))
	}
	if err := ParseSpace(c); err != nil {
		return List{}, err
	}
	if ok, err := Try(c, '"'); err != nil {
		return List{}, err
	} else if ok {
		if _, err := ParseQuotedString(c); err != nil {
			return List{}, err
		}
	} else {
		if err := FixedString(c, "NIL", false); err != nil {
			return List{}, err
		}
	}
	if err := ParseSpace(c); err != nil {
		return List{}, err
	}
	mbox, err := parseMailboxName(c, nil)
	if err != nil {
		return List{}, err
	}
	l.MailboxGlob = mbox

	// Optional RFC 5258 child-info extension: SP "(" tagged-ext-label SP
	// tagged-ext-val ")". Kept unparsed beyond balancing parens.
	if ok, err := Try(c, ' '); err == nil && ok {
		mark := c.Mark()
		c.Advance(1)
		if ok2, err2 := Try(c, '('); err2 == nil && ok2 {
			depth := 1
			c.Advance(1)
			for depth > 0 {
				bb, err := c.ReadByte()
				if err != nil {
					return List{}, err
				}
				if bb == '(' {
					depth++
				} else if bb == ')' {
					depth--
				}
			}
		} else {
			c.Reset(mark)
		}
	}
	return l, nil
}

// FetchAttr is one parsed FETCH response attribute. When IsLiteral is
// true, Literal describes a pending literal whose N payload bytes have
// not been consumed: the response package decides whether those bytes
// are already sitting in its cursor (the framer inlined them) or must be
// drained from the framer's raw streaming mode, then emits them as
// StreamingAttributeBytes events rather than populating Value.
type FetchAttr struct {
	Kind string // FLAGS, UID, INTERNALDATE, RFC822.SIZE, MODSEQ, ENVELOPE,
	// BODYSTRUCTURE, BODY[<section>], BINARY[<section>], RFC822.HEADER,
	// RFC822.TEXT

	Flags        []string
	UID          uint32
	InternalDate string // raw date-time text; parsing is the caller's job
	Size         uint32
	ModSeq       int64

	// Envelope/BodyStructure are kept as raw balanced-parenthesis bytes:
	// spec.md's Non-goals explicitly leave these sub-structures
	// unmodeled by this codec.
	Envelope      []byte
	BodyStructure []byte

	Section FetchItemSection
	Offset  uint32 // BODY[section]<offset> prefix, 0 if absent

	IsLiteral bool
	Literal   LiteralHeader
}

// isStreamingAttrName reports the FETCH attribute names whose value,
// once it turns out to be a literal, is delivered as a StreamingBytes
// event sequence rather than a SimpleAttribute: RFC822.TEXT,
// RFC822.HEADER, and any BODY[...]/BINARY[...] section.
func isStreamingAttrName(name string) bool {
	switch name {
	case "RFC822.TEXT", "RFC822.HEADER", "BODY", "BINARY":
		return true
	}
	return false
}

// ParseFetchAttr reads one attribute out of a FETCH response's
// parenthesized list, stopping right before the following SP or ")".
func ParseFetchAttr(c *cursor.Cursor, depth *cursor.Depth) (FetchAttr, error) {
	name, err := scanFetchAttrName(c)
	if err != nil {
		return FetchAttr{}, err
	}
	switch name {
	case "FLAGS":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		if err := ConsumeByte(c, '('); err != nil {
			return FetchAttr{}, err
		}
		var flags []string
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return FetchAttr{}, err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return FetchAttr{}, err
				}
			}
			first = false
			flag, err := ParseFlag(c)
			if err != nil {
				return FetchAttr{}, err
			}
			flags = append(flags, string(flag))
		}
		return FetchAttr{Kind: "FLAGS", Flags: flags}, nil

	case "UID":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		n, err := ParseNumber(c)
		if err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: "UID", UID: n}, nil

	case "INTERNALDATE":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		mark := c.Mark()
		if err := ConsumeByte(c, '"'); err != nil {
			return FetchAttr{}, err
		}
		start := c.Pos()
		for {
			b, err := c.PeekByte()
			if err != nil {
				return FetchAttr{}, err
			}
			if b == '"' {
				break
			}
			c.Advance(1)
		}
		raw := append([]byte(nil), c.Slice(start, c.Pos())...)
		c.Advance(1)
		_ = mark
		return FetchAttr{Kind: "INTERNALDATE", InternalDate: string(raw)}, nil

	case "RFC822.SIZE":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		n, err := ParseNumber(c)
		if err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: "RFC822.SIZE", Size: n}, nil

	case "MODSEQ":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		if err := ConsumeByte(c, '('); err != nil {
			return FetchAttr{}, err
		}
		v, err := ParseModSeqValue(c)
		if err != nil {
			return FetchAttr{}, err
		}
		if err := ConsumeByte(c, ')'); err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: "MODSEQ", ModSeq: v}, nil

	case "ENVELOPE":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		raw, err := scanBalancedParens(c, depth)
		if err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: "ENVELOPE", Envelope: raw}, nil

	case "BODYSTRUCTURE", "BODY-unsectioned":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		raw, err := scanBalancedParens(c, depth)
		if err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: "BODYSTRUCTURE", BodyStructure: raw}, nil

	case "RFC822.HEADER", "RFC822.TEXT":
		if err := ParseSpace(c); err != nil {
			return FetchAttr{}, err
		}
		hdr, err := ParseLiteralHeader(c)
		if err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: name, IsLiteral: true, Literal: hdr}, nil

	case "BODY", "BINARY", "BINARY.SIZE":
		return parseFetchAttrSection(c, name, depth)
	}
	return FetchAttr{}, cursor.Invalid(c, "unknown FETCH attribute: %q", name)
}

// scanFetchAttrName reads an attribute keyword, tolerating the '.'
// characters that make up compound names like RFC822.SIZE: '.' is not an
// atom-special so these are read whole. The scan stops at '[' so that a
// section is left for parseFetchAttrSection, mirroring scanFetchItemName
// in command_grammar.go.
func scanFetchAttrName(c *cursor.Cursor) (string, error) {
	atom, err := scanWhile(c, func(b byte) bool { return b == '[' || isAtomSpecial(b) })
	if err != nil {
		return "", err
	}
	return strings.ToUpper(string(atom)), nil
}

func parseFetchAttrSection(c *cursor.Cursor, name string, depth *cursor.Depth) (FetchAttr, error) {
	var sec FetchItemSection
	if ok, err := Try(c, '['); err != nil {
		return FetchAttr{}, err
	} else if ok {
		if err := depth.Enter(); err != nil {
			return FetchAttr{}, err
		}
		defer depth.Exit()
		c.Advance(1)
		for {
			b, err := c.PeekByte()
			if err != nil {
				return FetchAttr{}, err
			}
			if !isDigit(b) {
				break
			}
			v, err := ParseNumber(c)
			if err != nil {
				return FetchAttr{}, err
			}
			sec.Path = append(sec.Path, uint16(v))
			if ok, err := Try(c, '.'); err != nil {
				return FetchAttr{}, err
			} else if ok {
				c.Advance(1)
			} else {
				break
			}
		}
		if ok, err := Try(c, ']'); err == nil && !ok {
			sectionName, err := ParseAtom(c)
			if err != nil {
				return FetchAttr{}, err
			}
			sec.Name = strings.ToUpper(string(sectionName))
			if strings.HasPrefix(sec.Name, "HEADER.FIELDS") {
				if err := ParseSpace(c); err != nil {
					return FetchAttr{}, err
				}
				if err := ConsumeByte(c, '('); err != nil {
					return FetchAttr{}, err
				}
				first := true
				for {
					if ok, err := Try(c, ')'); err != nil {
						return FetchAttr{}, err
					} else if ok {
						c.Advance(1)
						break
					}
					if !first {
						if err := ParseSpace(c); err != nil {
							return FetchAttr{}, err
						}
					}
					first = false
					hdr, err := ParseAstring(c)
					if err != nil {
						return FetchAttr{}, err
					}
					sec.Headers = append(sec.Headers, append([]byte(nil), hdr...))
				}
			}
		} else if err != nil {
			return FetchAttr{}, err
		}
		if err := ConsumeByte(c, ']'); err != nil {
			return FetchAttr{}, err
		}
	}

	var offset uint32
	if ok, err := Try(c, '<'); err != nil {
		return FetchAttr{}, err
	} else if ok {
		c.Advance(1)
		n, err := ParseNumber(c)
		if err != nil {
			return FetchAttr{}, err
		}
		offset = n
		if err := ConsumeByte(c, '>'); err != nil {
			return FetchAttr{}, err
		}
	}

	if err := ParseSpace(c); err != nil {
		return FetchAttr{}, err
	}

	if name == "BINARY.SIZE" {
		n, err := ParseNumber(c)
		if err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: "BINARY.SIZE", Section: sec, Offset: offset, Size: n}, nil
	}

	if isStreamingAttrName(name) {
		// NIL is a legal value for an absent/empty section (RFC 3501
		// section 7.4.2); only a literal header triggers streaming.
		if ok, err := Try(c, 'N'); err != nil {
			return FetchAttr{}, err
		} else if ok {
			if err := FixedString(c, "NIL", false); err != nil {
				return FetchAttr{}, err
			}
			return FetchAttr{Kind: name, Section: sec, Offset: offset}, nil
		}
		hdr, err := ParseLiteralHeader(c)
		if err != nil {
			return FetchAttr{}, err
		}
		return FetchAttr{Kind: name, Section: sec, Offset: offset, IsLiteral: true, Literal: hdr}, nil
	}
	return FetchAttr{}, cursor.Invalid(c, "unhandled FETCH attribute kind: %q", name)
}

// scanBalancedParens reads a NIL or a "(" ... ")" value, tracking nesting
// depth and respecting quoted strings and inlined literals so that a
// literal parenthesis byte inside one doesn't unbalance the scan. The raw
// matched bytes (including the outer parens, or "NIL") are returned
// unparsed, per spec.md's Non-goal on ENVELOPE/BODYSTRUCTURE leaf shapes.
func scanBalancedParens(c *cursor.Cursor, dpt *cursor.Depth) ([]byte, error) {
	if ok, err := Try(c, 'N'); err != nil {
		return nil, err
	} else if ok {
		start := c.Pos()
		if err := FixedString(c, "NIL", false); err != nil {
			return nil, err
		}
		return append([]byte(nil), c.Slice(start, c.Pos())...), nil
	}
	if err := dpt.Enter(); err != nil {
		return nil, err
	}
	defer dpt.Exit()
	start := c.Pos()
	if err := ConsumeByte(c, '('); err != nil {
		return nil, err
	}
	level := 1
	for level > 0 {
		b, err := c.PeekByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case '"':
			if _, err := ParseQuotedString(c); err != nil {
				return nil, err
			}
			continue
		case '{':
			if _, err := ParseInlinedLiteral(c); err != nil {
				return nil, err
			}
			continue
		case '(':
			level++
		case ')':
			level--
		}
		c.Advance(1)
	}
	return append([]byte(nil), c.Slice(start, c.Pos())...), nil
}
