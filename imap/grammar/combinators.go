package grammar

import (
	"errors"
	"strings"

	"spilled.ink/imapcodec/imap/cursor"
)

// OneOf tries each alternative in order, rewinding the cursor between
// attempts. If an alternative fails with cursor.ErrIncomplete, OneOf stops
// and propagates that immediately rather than trying the next
// alternative: more bytes might still complete the one that ran out.
func OneOf[T any](c *cursor.Cursor, alts ...func(*cursor.Cursor) (T, error)) (T, error) {
	var zero T
	var lastErr error = cursor.Invalid(c, "no alternative matched")
	for _, alt := range alts {
		mark := c.Mark()
		v, err := alt(c)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, cursor.ErrIncomplete) {
			c.Reset(mark)
			return zero, err
		}
		c.Reset(mark)
		lastErr = err
	}
	return zero, lastErr
}

// Optional runs p once. If p fails with a syntax error, Optional rewinds
// and reports found=false rather than propagating the error. An
// ErrIncomplete from p is propagated unchanged, since p might yet succeed.
func Optional[T any](c *cursor.Cursor, p func(*cursor.Cursor) (T, error)) (v T, found bool, err error) {
	mark := c.Mark()
	v, err = p(c)
	if err == nil {
		return v, true, nil
	}
	if errors.Is(err, cursor.ErrIncomplete) {
		var zero T
		return zero, false, err
	}
	c.Reset(mark)
	var zero T
	return zero, false, nil
}

// ZeroOrMore applies p until it fails with a (non-incomplete) syntax
// error, rewinding to just before the failed attempt. An ErrIncomplete
// from p is propagated: the caller doesn't yet know whether another
// element follows.
func ZeroOrMore[T any](c *cursor.Cursor, p func(*cursor.Cursor) (T, error)) ([]T, error) {
	var out []T
	for {
		mark := c.Mark()
		v, err := p(c)
		if err != nil {
			if errors.Is(err, cursor.ErrIncomplete) {
				return nil, err
			}
			c.Reset(mark)
			return out, nil
		}
		out = append(out, v)
	}
}

// OneOrMore is ZeroOrMore but requires at least one match.
func OneOrMore[T any](c *cursor.Cursor, p func(*cursor.Cursor) (T, error)) ([]T, error) {
	out, err := ZeroOrMore(c, p)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, cursor.Invalid(c, "expected at least one element")
	}
	return out, nil
}

// Composite runs body, rewinding the cursor to its starting point if body
// fails with a syntax error (but not on ErrIncomplete, so a partially
// consumed Composite can be retried as more bytes arrive).
func Composite[T any](c *cursor.Cursor, body func(*cursor.Cursor) (T, error)) (T, error) {
	mark := c.Mark()
	v, err := body(c)
	if err != nil {
		if !errors.Is(err, cursor.ErrIncomplete) {
			c.Reset(mark)
		}
		var zero T
		return zero, err
	}
	return v, nil
}

// FixedString consumes exactly s, case-insensitively unless
// caseSensitive is set (used for tags, which RFC 3501 treats as opaque
// octets, vs command/attribute keywords, which are case-insensitive).
func FixedString(c *cursor.Cursor, s string, caseSensitive bool) error {
	b, err := c.PeekN(len(s))
	if err != nil {
		return err
	}
	if caseSensitive {
		if string(b) != s {
			return cursor.Invalid(c, "expected %q", s)
		}
	} else if !strings.EqualFold(string(b), s) {
		return cursor.Invalid(c, "expected %q", s)
	}
	c.Advance(len(s))
	return nil
}

// Try peeks at the next byte and reports whether it equals want, without
// consuming it. Returns ErrIncomplete if there is no next byte yet.
func Try(c *cursor.Cursor, want byte) (bool, error) {
	b, err := c.PeekByte()
	if err != nil {
		return false, err
	}
	return b == want, nil
}

// ConsumeByte consumes the next byte if it equals want, else fails with a
// syntax error (or ErrIncomplete if no byte is available yet).
func ConsumeByte(c *cursor.Cursor, want byte) error {
	b, err := c.PeekByte()
	if err != nil {
		return err
	}
	if b != want {
		return cursor.Invalid(c, "expected %q, got %q", want, b)
	}
	c.Advance(1)
	return nil
}
