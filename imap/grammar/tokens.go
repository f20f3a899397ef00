package grammar

import (
	"strconv"
	"time"

	"spilled.ink/imapcodec/imap/cursor"
)

// is7bitPrint reports whether b is a printable 7-bit ASCII character.
// RFC 3501: "Characters are 7-bit US-ASCII unless otherwise specified."
func is7bitPrint(b byte) bool { return b >= 0x20 && b <= 0x7e }

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func asciiUpper(buf []byte) {
	for i, b := range buf {
		if 'a' <= b && b <= 'z' {
			buf[i] = 'A' + b - 'a'
		}
	}
}

// ParseSpace consumes one or more SP/TAB. RFC 3501 section 9 requires
// exactly one SP; this parser is lenient like the teacher's scanner and
// accepts a run of spaces or tabs.
func ParseSpace(c *cursor.Cursor) error {
	n := 0
	for {
		b, err := c.PeekByte()
		if err != nil {
			if n > 0 {
				return nil
			}
			return err
		}
		if b != ' ' && b != '\t' {
			break
		}
		c.Advance(1)
		n++
	}
	if n == 0 {
		return cursor.Invalid(c, "expected SP")
	}
	return nil
}

// ParseNewline consumes a line ending: CRLF, or a bare LF.
func ParseNewline(c *cursor.Cursor) error {
	b, err := c.PeekByte()
	if err != nil {
		return err
	}
	if b == '\r' {
		c.Advance(1)
		return ConsumeByte(c, '\n')
	}
	return ConsumeByte(c, '\n')
}

// isAtomSpecial reports whether b is one of RFC 3501's atom-specials,
// which terminate (and cannot appear within) an atom.
func isAtomSpecial(b byte) bool {
	switch b {
	case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
		return true
	}
	return b < 0x20 || b == 0x7f
}

// isTagSpecial is isAtomSpecial plus '+', per the tag-specials production.
func isTagSpecial(b byte) bool {
	return b == '+' || isAtomSpecial(b)
}

func scanWhile(c *cursor.Cursor, stop func(byte) bool) ([]byte, error) {
	start := c.Pos()
	for {
		b, err := c.PeekByte()
		if err != nil {
			return nil, err
		}
		if stop(b) {
			break
		}
		if !is7bitPrint(b) {
			break
		}
		c.Advance(1)
	}
	if c.Pos() == start {
		return nil, cursor.Invalid(c, "expected at least one character")
	}
	return c.Slice(start, c.Pos()), nil
}

// ParseAtom reads one or more 7-bit printable bytes, stopping at
// atom-specials.
func ParseAtom(c *cursor.Cursor) ([]byte, error) {
	return scanWhile(c, isAtomSpecial)
}

// ParseTag reads an IMAP tag: an atom that additionally excludes '+'.
func ParseTag(c *cursor.Cursor) ([]byte, error) {
	return scanWhile(c, isTagSpecial)
}

// ParseQuotedString reads a double-quoted string, processing \" and \\
// escapes. Assumes the opening '"' has not yet been consumed.
func ParseQuotedString(c *cursor.Cursor) ([]byte, error) {
	mark := c.Mark()
	if err := ConsumeByte(c, '"'); err != nil {
		return nil, err
	}
	var out []byte
	for {
		b, err := c.ReadByte()
		if err != nil {
			c.Reset(mark)
			return nil, err
		}
		switch b {
		case '"':
			return out, nil
		case '\r', '\n':
			return nil, cursor.Invalid(c, "invalid character in quoted string: %q", b)
		case '\\':
			esc, err := c.ReadByte()
			if err != nil {
				c.Reset(mark)
				return nil, err
			}
			switch esc {
			case '\\', '"':
				out = append(out, esc)
			default:
				return nil, cursor.Invalid(c, "invalid escape character in quoted string: %q", esc)
			}
		default:
			out = append(out, b)
		}
	}
}

// parseUintDigits reads one or more decimal digits and parses them as a
// uint64.
func parseUintDigits(c *cursor.Cursor) (uint64, error) {
	start := c.Pos()
	for {
		b, err := c.PeekByte()
		if err != nil {
			break
		}
		if !isDigit(b) {
			break
		}
		c.Advance(1)
	}
	if c.Pos() == start {
		return 0, cursor.Invalid(c, "expected digits")
	}
	v, err := strconv.ParseUint(string(c.Slice(start, c.Pos())), 10, 64)
	if err != nil {
		return 0, cursor.Invalid(c, "invalid number: %v", err)
	}
	return v, nil
}

// ParseNumber reads a "number" production (an unsigned 32-bit integer).
func ParseNumber(c *cursor.Cursor) (uint32, error) {
	v, err := parseUintDigits(c)
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, cursor.Invalid(c, "number %d overflows uint32", v)
	}
	return uint32(v), nil
}

// ParseNZNumber reads an "nz-number" production: a nonzero uint32.
func ParseNZNumber(c *cursor.Cursor) (uint32, error) {
	v, err := ParseNumber(c)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, cursor.Invalid(c, "nz-number must not be 0")
	}
	return v, nil
}

// ParseModSeqValue reads a mod-sequence value: a uint63 used by
// CONDSTORE/QRESYNC. Zero is accepted.
func ParseModSeqValue(c *cursor.Cursor) (int64, error) {
	v, err := parseUintDigits(c)
	if err != nil {
		return 0, err
	}
	if v > 1<<63-1 {
		return 0, cursor.Invalid(c, "mod-sequence value %d exceeds 63 bits", v)
	}
	return int64(v), nil
}

// ParseSeqNumber reads a seq-number: an nz-number or '*' (reported as 0,
// the SeqRange placeholder for "the largest message/UID in the mailbox").
func ParseSeqNumber(c *cursor.Cursor) (uint32, error) {
	b, err := c.PeekByte()
	if err != nil {
		return 0, err
	}
	if b == '*' {
		c.Advance(1)
		return 0, nil
	}
	return ParseNZNumber(c)
}

// ParseSeqRange reads a single seq-range: seq-number, or
// seq-number ":" seq-number.
func ParseSeqRange(c *cursor.Cursor) (SeqRange, error) {
	mark := c.Mark()
	min, err := ParseSeqNumber(c)
	if err != nil {
		c.Reset(mark)
		return SeqRange{}, err
	}
	b, err := c.PeekByte()
	if err != nil {
		// A lone trailing number is still a valid (if degenerate)
		// seq-range once we know no more input is coming for this
		// production's continuation; propagate Incomplete so the caller
		// can wait and see whether a ':' follows.
		return SeqRange{}, err
	}
	if b != ':' {
		return SeqRange{Min: min, Max: min}, nil
	}
	c.Advance(1)
	max, err := ParseSeqNumber(c)
	if err != nil {
		c.Reset(mark)
		return SeqRange{}, err
	}
	r := SeqRange{Min: min, Max: max}
	if r.Min != 0 && r.Max != 0 && r.Min > r.Max {
		r.Min, r.Max = r.Max, r.Min
	}
	return r, nil
}

// ParseSequences reads a sequence-set: one or more comma-separated
// seq-ranges.
func ParseSequences(c *cursor.Cursor) ([]SeqRange, error) {
	var out []SeqRange
	for {
		r, err := ParseSeqRange(c)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		b, err := c.PeekByte()
		if err != nil {
			return nil, err
		}
		if b != ',' {
			return out, nil
		}
		c.Advance(1)
	}
}

// ParseFlag reads a flag: either a backslash-atom system/keyword flag, or
// a bare atom (a keyword). Unlike the teacher's scanner, which rejects
// any backslash-atom outside the five RFC 3501 system flags, this parser
// accepts any backslash-atom as a flag: servers define additional system
// flags (\Recent, \*) and this is a generic codec, not one server's flag
// policy.
func ParseFlag(c *cursor.Cursor) ([]byte, error) {
	b, err := c.PeekByte()
	if err != nil {
		return nil, err
	}
	if b != '\\' {
		return ParseAtom(c)
	}
	mark := c.Mark()
	c.Advance(1)
	if nb, err := c.PeekByte(); err == nil && nb == '*' {
		c.Advance(1)
		return c.Slice(mark, c.Pos()), nil
	} else if err != nil {
		c.Reset(mark)
		return nil, err
	}
	atom, err := ParseAtom(c)
	if err != nil {
		c.Reset(mark)
		return nil, err
	}
	return append([]byte{'\\'}, atom...), nil
}

// ParseAstring reads an astring: a quoted string, an inlined literal, or
// an unquoted run of 7-bit printable bytes excluding atom-specials,
// except that ']' is permitted (RFC 3501 ASTRING-CHAR). The unquoted run
// stops at the first excluded byte; it does not reject it.
func ParseAstring(c *cursor.Cursor) ([]byte, error) {
	b, err := c.PeekByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case '"':
		return ParseQuotedString(c)
	case '{':
		return ParseInlinedLiteral(c)
	}
	return scanWhile(c, func(b byte) bool {
		switch b {
		case '(', ')', '{', ' ', '\r', '\n', '%', '*', '"', '\\':
			return true
		}
		return false
	})
}

// ParseListMailbox reads a list-mailbox: an astring that additionally
// permits '%' and '*' unquoted, for LIST/LSUB glob patterns.
func ParseListMailbox(c *cursor.Cursor) ([]byte, error) {
	b, err := c.PeekByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case '"':
		return ParseQuotedString(c)
	case '{':
		return ParseInlinedLiteral(c)
	}
	return scanWhile(c, func(b byte) bool {
		switch b {
		case '(', ')', '{', ' ', '\r', '\n', '"', '\\':
			return true
		}
		return false
	})
}

// ParseInlinedLiteral reads a literal header "{N}" or "{N+}"/"{N-}"
// followed by CRLF and then exactly N bytes, all of which the framer has
// already folded into the cursor's buffer (literals that overflowed the
// buffer cap never reach the grammar layer as bytes at all; see the
// command/response packages' streaming modes).
func ParseInlinedLiteral(c *cursor.Cursor) ([]byte, error) {
	mark := c.Mark()
	if err := ConsumeByte(c, '{'); err != nil {
		return nil, err
	}
	n, err := parseUintDigits(c)
	if err != nil {
		c.Reset(mark)
		return nil, err
	}
	if b, err := c.PeekByte(); err != nil {
		c.Reset(mark)
		return nil, err
	} else if b == '+' || b == '-' {
		c.Advance(1)
	}
	if err := ConsumeByte(c, '}'); err != nil {
		c.Reset(mark)
		return nil, err
	}
	if err := ParseNewline(c); err != nil {
		c.Reset(mark)
		return nil, err
	}
	lit, err := c.ReadN(int(n))
	if err != nil {
		c.Reset(mark)
		return nil, err
	}
	return lit, nil
}

// LiteralHeader is the result of parsing a bare "{N}"/"{N+}"/"{N-}" marker
// and its trailing newline, without consuming the N bytes that follow.
// APPEND's message literal is the one production that stops here instead
// of calling ParseInlinedLiteral: its body can be too large for the
// framer to have inlined, so the command package decides, by comparing N
// against however many bytes actually followed the header, whether the
// literal arrived already or needs to be drained from the framer's
// streaming mode.
type LiteralHeader struct {
	N    int64
	Sync bool // true unless the client used a non-synchronizing "{N+}"/"{N-}" marker
}

// ParseLiteralHeader reads "{" number ["+"|"-"] "}" newline and stops,
// leaving the N literal-body bytes (if any are even present in the
// cursor) unconsumed.
func ParseLiteralHeader(c *cursor.Cursor) (LiteralHeader, error) {
	mark := c.Mark()
	if err := ConsumeByte(c, '{'); err != nil {
		return LiteralHeader{}, err
	}
	n, err := parseUintDigits(c)
	if err != nil {
		c.Reset(mark)
		return LiteralHeader{}, err
	}
	sync := true
	if b, err := c.PeekByte(); err != nil {
		c.Reset(mark)
		return LiteralHeader{}, err
	} else if b == '+' || b == '-' {
		sync = false
		c.Advance(1)
	}
	if err := ConsumeByte(c, '}'); err != nil {
		c.Reset(mark)
		return LiteralHeader{}, err
	}
	if err := ParseNewline(c); err != nil {
		c.Reset(mark)
		return LiteralHeader{}, err
	}
	return LiteralHeader{N: int64(n), Sync: sync}, nil
}

// ParseNString reads an nstring: NIL, or a string (quoted or literal).
// A nil return with ok=false means NIL.
func ParseNString(c *cursor.Cursor) (value []byte, ok bool, err error) {
	b, err := c.PeekByte()
	if err != nil {
		return nil, false, err
	}
	if b == 'N' || b == 'n' {
		if err := FixedString(c, "NIL", false); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	v, err := ParseAstring(c)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

var monthNames = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// ParseDate reads a date-text production: DD-Mon-YYYY, optionally quoted
// (date-day-fixed "-" date-month "-" date-year).
func ParseDate(c *cursor.Cursor) (time.Time, error) {
	mark := c.Mark()
	quoted := false
	if b, err := c.PeekByte(); err != nil {
		return time.Time{}, err
	} else if b == '"' {
		c.Advance(1)
		quoted = true
	}

	day, err := parseUintDigits(c)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	if day == 0 || day > 31 {
		return time.Time{}, cursor.Invalid(c, "invalid day: %d", day)
	}
	if err := ConsumeByte(c, '-'); err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	monthBytes, err := c.ReadN(3)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	monthBuf := append([]byte(nil), monthBytes...)
	asciiUpper(monthBuf)
	month, ok := monthNames[string(monthBuf)]
	if !ok {
		return time.Time{}, cursor.Invalid(c, "invalid month: %q", monthBuf)
	}
	if err := ConsumeByte(c, '-'); err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	year, err := parseUintDigits(c)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	if quoted {
		if err := ConsumeByte(c, '"'); err != nil {
			c.Reset(mark)
			return time.Time{}, err
		}
	}
	return time.Date(int(year), month, int(day), 0, 0, 0, 0, time.UTC), nil
}

// ParseDateTime reads a full date-time: DQUOTE date-day-fixed "-" date-month
// "-" date-year SP time SP zone DQUOTE, e.g. "17-Jul-1996 02:44:25 -0700".
func ParseDateTime(c *cursor.Cursor) (time.Time, error) {
	mark := c.Mark()
	if err := ConsumeByte(c, '"'); err != nil {
		return time.Time{}, err
	}
	day, err := parseUintDigits(c)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	if err := ConsumeByte(c, '-'); err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	monthBytes, err := c.ReadN(3)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	monthBuf := append([]byte(nil), monthBytes...)
	asciiUpper(monthBuf)
	month, ok := monthNames[string(monthBuf)]
	if !ok {
		return time.Time{}, cursor.Invalid(c, "invalid month: %q", monthBuf)
	}
	if err := ConsumeByte(c, '-'); err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	year, err := parseUintDigits(c)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	if err := ConsumeByte(c, ' '); err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	hh, mm, ss, err := parseTimeOfDay(c)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	if err := ConsumeByte(c, ' '); err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	zoneSign, err := c.ReadByte()
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	if zoneSign != '+' && zoneSign != '-' {
		return time.Time{}, cursor.Invalid(c, "invalid zone sign: %q", zoneSign)
	}
	zoneDigits, err := c.ReadN(4)
	if err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	zh, err1 := strconv.Atoi(string(zoneDigits[:2]))
	zm, err2 := strconv.Atoi(string(zoneDigits[2:]))
	if err1 != nil || err2 != nil {
		return time.Time{}, cursor.Invalid(c, "invalid zone offset: %q", zoneDigits)
	}
	offset := zh*3600 + zm*60
	if zoneSign == '-' {
		offset = -offset
	}
	if err := ConsumeByte(c, '"'); err != nil {
		c.Reset(mark)
		return time.Time{}, err
	}
	loc := time.FixedZone("", offset)
	return time.Date(int(year), month, int(day), hh, mm, ss, 0, loc), nil
}

func parseTimeOfDay(c *cursor.Cursor) (hh, mm, ss int, err error) {
	digits, err := c.ReadN(2)
	if err != nil {
		return 0, 0, 0, err
	}
	hh, e := strconv.Atoi(string(digits))
	if e != nil {
		return 0, 0, 0, cursor.Invalid(c, "invalid hour")
	}
	if err := ConsumeByte(c, ':'); err != nil {
		return 0, 0, 0, err
	}
	digits, err = c.ReadN(2)
	if err != nil {
		return 0, 0, 0, err
	}
	mm, e = strconv.Atoi(string(digits))
	if e != nil {
		return 0, 0, 0, cursor.Invalid(c, "invalid minute")
	}
	if err := ConsumeByte(c, ':'); err != nil {
		return 0, 0, 0, err
	}
	digits, err = c.ReadN(2)
	if err != nil {
		return 0, 0, 0, err
	}
	ss, e = strconv.Atoi(string(digits))
	if e != nil {
		return 0, 0, 0, cursor.Invalid(c, "invalid second")
	}
	return hh, mm, ss, nil
}
