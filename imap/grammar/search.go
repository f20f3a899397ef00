package grammar

import (
	"strings"

	"spilled.ink/imapcodec/imap/cursor"
)

// searchKeys whitelists every RFC 3501 search-key atom, plus the
// extensions this codec also recognizes: AND, the implicit wrapper every
// SEARCH command produces at its root; MODSEQ (RFC 7162); OLDER/YOUNGER
// (RFC 5032); and FILTER (RFC 5466).
var searchKeys = map[string]SearchKey{
	"ALL": "ALL", "ANSWERED": "ANSWERED", "BCC": "BCC", "BEFORE": "BEFORE",
	"BODY": "BODY", "CC": "CC", "DELETED": "DELETED", "DRAFT": "DRAFT",
	"FLAGGED": "FLAGGED", "FROM": "FROM", "HEADER": "HEADER", "KEYWORD": "KEYWORD",
	"LARGER": "LARGER", "NEW": "NEW", "NOT": "NOT", "OLD": "OLD", "ON": "ON",
	"OR": "OR", "RECENT": "RECENT", "SEEN": "SEEN", "SENTBEFORE": "SENTBEFORE",
	"SENTON": "SENTON", "SENTSINCE": "SENTSINCE", "SINCE": "SINCE",
	"SMALLER": "SMALLER", "SUBJECT": "SUBJECT", "TEXT": "TEXT", "TO": "TO",
	"UID": "UID", "UNANSWERED": "UNANSWERED", "UNDELETED": "UNDELETED",
	"UNDRAFT": "UNDRAFT", "UNFLAGGED": "UNFLAGGED", "UNKEYWORD": "UNKEYWORD",
	"UNSEEN": "UNSEEN", "MODSEQ": "MODSEQ", "AND": "AND",
	"OLDER": "OLDER", "YOUNGER": "YOUNGER", "FILTER": "FILTER",
}

var boolSearchKeys = map[SearchKey]bool{
	"ALL": true, "ANSWERED": true, "DELETED": true, "DRAFT": true,
	"FLAGGED": true, "NEW": true, "OLD": true, "RECENT": true, "SEEN": true,
	"UNANSWERED": true, "UNDELETED": true, "UNFLAGGED": true, "UNSEEN": true,
}

var stringSearchKeys = map[SearchKey]bool{
	"BCC": true, "BODY": true, "CC": true, "FROM": true,
	"SUBJECT": true, "TEXT": true, "TO": true,
}

var dateSearchKeys = map[SearchKey]bool{
	"BEFORE": true, "ON": true, "SINCE": true,
	"SENTBEFORE": true, "SENTON": true, "SENTSINCE": true,
}

// ParseSearch reads a full SEARCH command argument list: an optional
// CHARSET clause, an optional ESEARCH RETURN clause, then one or more
// search keys, which are collapsed into a single top-level AND SearchOp
// (or returned bare, if there was only one).
func ParseSearch(c *cursor.Cursor, depth *cursor.Depth) (Search, error) {
	var s Search

	if err := ParseSpace(c); err != nil {
		return Search{}, err
	}

	kw, err := peekUpperAtom(c)
	if err != nil {
		return Search{}, err
	}
	if kw == "CHARSET" {
		if _, err := ParseAtom(c); err != nil {
			return Search{}, err
		}
		if err := ParseSpace(c); err != nil {
			return Search{}, err
		}
		charset, err := ParseAstring(c)
		if err != nil {
			return Search{}, err
		}
		switch strings.ToUpper(string(charset)) {
		case "UTF-8":
			s.Charset = "UTF-8"
		case "US-ASCII":
			s.Charset = "US-ASCII"
		default:
			return Search{}, cursor.Invalid(c, "unsupported CHARSET %q", charset)
		}
		if err := ParseSpace(c); err != nil {
			return Search{}, err
		}
		kw, err = peekUpperAtom(c)
		if err != nil {
			return Search{}, err
		}
	}

	if kw == "RETURN" {
		if _, err := ParseAtom(c); err != nil {
			return Search{}, err
		}
		if err := ParseSpace(c); err != nil {
			return Search{}, err
		}
		if err := ConsumeByte(c, '('); err != nil {
			return Search{}, err
		}
		for {
			if ok, err := Try(c, ')'); err != nil {
				return Search{}, err
			} else if ok {
				c.Advance(1)
				break
			}
			if len(s.Return) > 0 {
				if err := ParseSpace(c); err != nil {
					return Search{}, err
				}
			}
			opt, err := ParseAtom(c)
			if err != nil {
				return Search{}, err
			}
			switch strings.ToUpper(string(opt)) {
			case "MIN", "MAX", "ALL", "COUNT", "SAVE":
				s.Return = append(s.Return, strings.ToUpper(string(opt)))
			default:
				return Search{}, cursor.Invalid(c, "unknown search RETURN option %q", opt)
			}
		}
		if len(s.Return) == 0 {
			s.Return = append(s.Return, "ALL") // RFC 4731: RETURN () means ALL
		}
		if err := ParseSpace(c); err != nil {
			return Search{}, err
		}
	}

	root := SearchOp{Key: "AND"}
	for {
		op, err := ParseSearchKey(c, depth)
		if err != nil {
			return Search{}, err
		}
		root.Children = append(root.Children, op)

		if _, ok, err := Optional(c, parseSpace1); err != nil {
			return Search{}, err
		} else if !ok {
			break
		}
	}
	if len(root.Children) == 1 {
		s.Op = &root.Children[0]
	} else {
		s.Op = &root
	}
	return s, nil
}

func parseSpace1(c *cursor.Cursor) (struct{}, error) {
	return struct{}{}, ParseSpace(c)
}

// peekUpperAtom peeks the next atom without consuming it, upper-cased,
// for lookahead on CHARSET/RETURN keywords and search-key atoms. It
// leaves the cursor unmoved.
func peekUpperAtom(c *cursor.Cursor) (string, error) {
	mark := c.Mark()
	defer c.Reset(mark)
	atom, err := ParseAtom(c)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(string(atom)), nil
}

// ParseSearchKey reads a single search-key, recursing for NOT/OR/AND
// composites. A leading digit or '*' is a bare sequence-set
// (the implicit SEQSET key); a leading '(' is an AND-list.
func ParseSearchKey(c *cursor.Cursor, depth *cursor.Depth) (SearchOp, error) {
	if err := depth.Enter(); err != nil {
		return SearchOp{}, err
	}
	defer depth.Exit()

	b, err := c.PeekByte()
	if err != nil {
		return SearchOp{}, err
	}
	if isDigit(b) || b == '*' {
		seqs, err := ParseSequences(c)
		if err != nil {
			return SearchOp{}, err
		}
		return SearchOp{Key: "SEQSET", Sequences: seqs}, nil
	}
	if b == '(' {
		return parseAndList(c, depth)
	}

	atom, err := ParseAtom(c)
	if err != nil {
		return SearchOp{}, err
	}
	key, ok := searchKeys[strings.ToUpper(string(atom))]
	if !ok {
		return SearchOp{}, cursor.Invalid(c, "unknown SEARCH key %q", atom)
	}
	op := SearchOp{Key: key}

	switch {
	case boolSearchKeys[key]:
		return op, nil

	case stringSearchKeys[key]:
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		v, err := ParseAstring(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Value = string(v)
		return op, nil

	case key == "KEYWORD" || key == "UNKEYWORD":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		v, err := ParseAtom(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Value = string(v)
		return op, nil

	case dateSearchKeys[key]:
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		d, err := ParseDate(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Date = d
		return op, nil

	case key == "HEADER":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		name, err := ParseAstring(c)
		if err != nil {
			return SearchOp{}, err
		}
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		value, err := ParseAstring(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Value = string(name) + ": " + string(value)
		return op, nil

	case key == "LARGER" || key == "SMALLER":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		n, err := ParseNumber(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Num = int64(n)
		return op, nil

	case key == "OLDER" || key == "YOUNGER":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		n, err := ParseNumber(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Num = int64(n)
		return op, nil

	case key == "FILTER":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		v, err := ParseAstring(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Value = string(v)
		return op, nil

	case key == "NOT":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		child, err := ParseSearchKey(c, depth)
		if err != nil {
			return SearchOp{}, err
		}
		op.Children = []SearchOp{child}
		return op, nil

	case key == "OR":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		lhs, err := ParseSearchKey(c, depth)
		if err != nil {
			return SearchOp{}, err
		}
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		rhs, err := ParseSearchKey(c, depth)
		if err != nil {
			return SearchOp{}, err
		}
		op.Children = []SearchOp{lhs, rhs}
		return op, nil

	case key == "UID" || key == "UNDRAFT":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		seqs, err := ParseSequences(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Sequences = seqs
		return op, nil

	case key == "AND":
		// An atom that happened to spell "AND" outside of a paren-list
		// isn't valid IMAP; AND only arises via parseAndList below.
		return SearchOp{}, cursor.Invalid(c, "AND is not a standalone search key")

	case key == "MODSEQ":
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
		// Optional "<entry-name> <entry-type-req>" pair (RFC 7162
		// Section 3.1.5), ignored: a server without per-entry
		// mod-sequences must ignore both.
		if ok, err := Try(c, '"'); err != nil {
			return SearchOp{}, err
		} else if ok {
			if _, err := ParseQuotedString(c); err != nil {
				return SearchOp{}, err
			}
			if err := ParseSpace(c); err != nil {
				return SearchOp{}, err
			}
			if _, err := ParseAtom(c); err != nil {
				return SearchOp{}, err
			}
			if err := ParseSpace(c); err != nil {
				return SearchOp{}, err
			}
		}
		n, err := ParseModSeqValue(c)
		if err != nil {
			return SearchOp{}, err
		}
		op.Num = n
		return op, nil
	}

	return SearchOp{}, cursor.Invalid(c, "unhandled SEARCH key %q", key)
}

// parseAndList reads "(" search-key *(SP search-key) ")", collapsing to
// the single child when the list holds exactly one key.
func parseAndList(c *cursor.Cursor, depth *cursor.Depth) (SearchOp, error) {
	if err := ConsumeByte(c, '('); err != nil {
		return SearchOp{}, err
	}
	op := SearchOp{Key: "AND"}
	for {
		child, err := ParseSearchKey(c, depth)
		if err != nil {
			return SearchOp{}, err
		}
		op.Children = append(op.Children, child)

		if ok, err := Try(c, ')'); err != nil {
			return SearchOp{}, err
		} else if ok {
			c.Advance(1)
			break
		}
		if err := ParseSpace(c); err != nil {
			return SearchOp{}, err
		}
	}
	if len(op.Children) == 1 {
		return op.Children[0], nil
	}
	return op, nil
}
