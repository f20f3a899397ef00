package grammar

import (
	"strconv"
	"strings"

	"spilled.ink/imapcodec/imap/cursor"
	"spilled.ink/imapcodec/imap/imapparser/utf7mod"
)

// commandNames whitelists every command this codec recognizes, keyed by
// its upper-cased atom spelling.
var commandNames = map[string]string{
	"CAPABILITY": "CAPABILITY", "COMPRESS": "COMPRESS", "LOGOUT": "LOGOUT",
	"NOOP": "NOOP", "LOGIN": "LOGIN", "AUTHENTICATE": "AUTHENTICATE",
	"STARTTLS": "STARTTLS", "APPEND": "APPEND", "CREATE": "CREATE",
	"DELETE": "DELETE", "ENABLE": "ENABLE", "ID": "ID", "IDLE": "IDLE",
	"EXAMINE": "EXAMINE", "LIST": "LIST", "LSUB": "LSUB", "RENAME": "RENAME",
	"SELECT": "SELECT", "STATUS": "STATUS", "SUBSCRIBE": "SUBSCRIBE",
	"UNSUBSCRIBE": "UNSUBSCRIBE", "CHECK": "CHECK", "CLOSE": "CLOSE",
	"UNSELECT": "UNSELECT",
	"EXPUNGE": "EXPUNGE", "COPY": "COPY", "MOVE": "MOVE", "FETCH": "FETCH",
	"STORE": "STORE", "SEARCH": "SEARCH", "UID": "UID",
	"XAPPLEPUSHSERVICE": "XAPPLEPUSHSERVICE", "NAMESPACE": "NAMESPACE",
	"GETQUOTA": "GETQUOTA", "GETQUOTAROOT": "GETQUOTAROOT",
	"SETQUOTA": "SETQUOTA", "GETMETADATA": "GETMETADATA",
	"SETMETADATA": "SETMETADATA", "GENURLAUTH": "GENURLAUTH",
	"RESETKEY": "RESETKEY",
}

// ParseCommandLine parses one full client command, starting at a tag and
// ending at the line's terminating newline. line must hold a complete
// logical command line as produced by the framer: for every command
// except APPEND, the whole of line is consumed and rest is empty; for
// APPEND, the grammar stops right after the literal header's CRLF and
// returns whatever bytes follow it as rest (either the complete literal
// body plus trailing CRLF, if the framer managed to inline it, or
// nothing, if the framer instead switched to streaming mode for an
// oversized literal). See imap/command for how rest is interpreted.
func ParseCommandLine(line []byte, depth *cursor.Depth) (*Command, []byte, error) {
	c := cursor.New(line)
	cmd, err := parseCommand(c, depth)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Name != "APPEND" {
		if !c.AtEnd() {
			return nil, nil, &cursor.InvariantError{Hint: cmd.Name + " left unconsumed bytes"}
		}
		return cmd, nil, nil
	}
	return cmd, append([]byte(nil), c.Remaining()...), nil
}

func parseCommand(c *cursor.Cursor, depth *cursor.Depth) (*Command, error) {
	cmd := &Command{}

	tag, err := ParseTag(c)
	if err != nil {
		return nil, err
	}
	cmd.Tag = append([]byte(nil), tag...)

	if err := ParseSpace(c); err != nil {
		return nil, err
	}
	name, err := parseCommandName(c)
	if err != nil {
		return nil, err
	}
	cmd.Name = name

	if cmd.Name == "UID" {
		cmd.UID = true
		if err := ParseSpace(c); err != nil {
			return nil, err
		}
		name, err := parseCommandName(c)
		if err != nil {
			return nil, err
		}
		switch name {
		case "COPY", "FETCH", "STORE", "SEARCH", "MOVE", "EXPUNGE":
		default:
			return nil, cursor.Invalid(c, "command %s does not support the UID prefix", name)
		}
		cmd.Name = name
	}

	if err := parseCommandArgs(c, cmd, depth); err != nil {
		return nil, err
	}

	if cmd.Name != "APPEND" {
		if !atEndOfLine(c) {
			return nil, cursor.Invalid(c, "%s has trailing arguments", cmd.Name)
		}
		if err := ParseNewline(c); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func parseCommandName(c *cursor.Cursor) (string, error) {
	atom, err := ParseAtom(c)
	if err != nil {
		return "", err
	}
	upper := strings.ToUpper(string(atom))
	name, ok := commandNames[upper]
	if !ok {
		return "", cursor.Invalid(c, "unknown command: %q", atom)
	}
	return name, nil
}

// parseMailboxName reads a mailbox astring and folds it into cmd.Mailbox,
// applying the INBOX case-insensitive alias and Modified UTF-7 decoding
// RFC 3501 section 5.1.3 requires for every other mailbox name.
func parseMailboxName(c *cursor.Cursor, dst []byte) ([]byte, error) {
	raw, err := ParseAstring(c)
	if err != nil {
		return nil, err
	}
	if len(raw) == 5 && strings.EqualFold("INBOX", string(raw)) {
		return append(dst, "INBOX"...), nil
	}
	return utf7mod.AppendDecode(dst, raw)
}

func atEndOfLine(c *cursor.Cursor) bool {
	b, err := c.PeekByte()
	if err != nil {
		return false
	}
	return b == '\r' || b == '\n'
}

func parseCommandArgs(c *cursor.Cursor, cmd *Command, depth *cursor.Depth) error {
	switch cmd.Name {
	case "CAPABILITY", "NOOP", "LOGOUT", "STARTTLS", "CHECK", "CLOSE", "UNSELECT":
		return nil

	case "COMPRESS":
		if err := ParseSpace(c); err != nil {
			return err
		}
		mech, err := ParseAtom(c)
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(mech), "DEFLATE") {
			return cursor.Invalid(c, "COMPRESS unsupported mechanism: %q", mech)
		}
		return nil

	case "ID":
		return parseID(c, cmd)

	case "IDLE":
		return nil

	case "AUTHENTICATE":
		return parseAuthenticate(c, cmd)

	case "LOGIN":
		if err := ParseSpace(c); err != nil {
			return err
		}
		user, err := ParseAstring(c)
		if err != nil {
			return err
		}
		cmd.Auth.Username = append([]byte(nil), user...)
		if err := ParseSpace(c); err != nil {
			return err
		}
		pass, err := ParseAstring(c)
		if err != nil {
			return err
		}
		cmd.Auth.Password = append([]byte(nil), pass...)
		return nil

	case "ENABLE":
		if err := ParseSpace(c); err != nil {
			return err
		}
		atoms, err := sepBy1(c, ParseAtom)
		if err != nil {
			return err
		}
		for _, a := range atoms {
			cmd.Params = append(cmd.Params, append([]byte(nil), a...))
		}
		return nil

	case "SELECT", "EXAMINE":
		return parseSelect(c, cmd)

	case "CREATE", "DELETE", "SUBSCRIBE", "UNSUBSCRIBE":
		if err := ParseSpace(c); err != nil {
			return err
		}
		mbox, err := parseMailboxName(c, nil)
		if err != nil {
			return err
		}
		cmd.Mailbox = mbox
		return nil

	case "RENAME":
		if err := ParseSpace(c); err != nil {
			return err
		}
		old, err := parseMailboxName(c, nil)
		if err != nil {
			return err
		}
		cmd.Rename.OldMailbox = old
		if err := ParseSpace(c); err != nil {
			return err
		}
		nu, err := parseMailboxName(c, nil)
		if err != nil {
			return err
		}
		cmd.Rename.NewMailbox = nu
		return nil

	case "LIST", "LSUB":
		return parseList(c, cmd)

	case "STATUS":
		return parseStatus(c, cmd)

	case "APPEND":
		return parseAppend(c, cmd)

	case "EXPUNGE":
		if !cmd.UID {
			return nil
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
		seqs, err := ParseSequences(c)
		if err != nil {
			return err
		}
		cmd.Sequences = seqs
		return nil

	case "SEARCH":
		s, err := ParseSearch(c, depth)
		if err != nil {
			return err
		}
		cmd.Search = s
		return nil

	case "FETCH":
		return parseFetch(c, cmd, depth)

	case "STORE":
		return parseStore(c, cmd)

	case "COPY", "MOVE":
		if err := ParseSpace(c); err != nil {
			return err
		}
		seqs, err := ParseSequences(c)
		if err != nil {
			return err
		}
		cmd.Sequences = seqs
		if err := ParseSpace(c); err != nil {
			return err
		}
		mbox, err := parseMailboxName(c, nil)
		if err != nil {
			return err
		}
		cmd.Mailbox = mbox
		return nil

	case "XAPPLEPUSHSERVICE":
		return parseApplePushService(c, cmd)

	case "NAMESPACE":
		return nil

	case "GETQUOTAROOT":
		if err := ParseSpace(c); err != nil {
			return err
		}
		mbox, err := parseMailboxName(c, nil)
		if err != nil {
			return err
		}
		cmd.Mailbox = mbox
		return nil

	case "GETQUOTA":
		if err := ParseSpace(c); err != nil {
			return err
		}
		root, err := ParseAstring(c)
		if err != nil {
			return err
		}
		cmd.Mailbox = append([]byte(nil), root...)
		return nil

	case "SETQUOTA":
		return parseSetQuota(c, cmd)

	case "GETMETADATA":
		return parseGetMetadata(c, cmd)

	case "SETMETADATA":
		return parseSetMetadata(c, cmd)

	case "GENURLAUTH":
		return parseGenURLAuth(c, cmd)

	case "RESETKEY":
		return parseResetKey(c, cmd)
	}
	return cursor.Invalid(c, "unsupported command: %s", cmd.Name)
}

// sepBy1 reads p, then p again after each run of one-or-more SPs, for as
// long as a SP precedes another successful p. Stops (without consuming
// the trailing SP) once the line ends or a non-SP byte follows.
func sepBy1[T any](c *cursor.Cursor, p func(*cursor.Cursor) (T, error)) ([]T, error) {
	first, err := p(c)
	if err != nil {
		return nil, err
	}
	out := []T{first}
	for {
		mark := c.Mark()
		if atEndOfLine(c) {
			return out, nil
		}
		if err := ParseSpace(c); err != nil {
			if err == cursor.ErrIncomplete {
				return nil, err
			}
			c.Reset(mark)
			return out, nil
		}
		if atEndOfLine(c) {
			c.Reset(mark)
			return out, nil
		}
		v, err := p(c)
		if err != nil {
			c.Reset(mark)
			return out, nil
		}
		out = append(out, v)
	}
}

func parseID(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	if ok, err := Try(c, '('); err != nil {
		return err
	} else if !ok {
		if err := FixedString(c, "NIL", false); err != nil {
			return cursor.Invalid(c, "ID missing parameter list")
		}
		return nil
	}
	c.Advance(1)
	for {
		if ok, err := Try(c, ')'); err != nil {
			return err
		} else if ok {
			c.Advance(1)
			break
		}
		if len(cmd.Params) > 0 {
			if err := ParseSpace(c); err != nil {
				return err
			}
		}
		v, ok, err := ParseNString(c)
		if err != nil {
			return err
		}
		if !ok {
			cmd.Params = append(cmd.Params, nil)
		} else {
			cmd.Params = append(cmd.Params, append([]byte(nil), v...))
		}
		if len(cmd.Params) > 100 {
			return cursor.Invalid(c, "too many ID parameters")
		}
	}
	if len(cmd.Params)%2 == 1 {
		return cursor.Invalid(c, "ID parameter is missing a value")
	}
	return nil
}

func parseAuthenticate(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	mech, err := ParseAtom(c)
	if err != nil {
		return err
	}
	cmd.Mechanism = strings.ToUpper(string(mech))

	if _, ok, err := Optional(c, parseSpace1); err != nil {
		return err
	} else if ok {
		ir, err := ParseAstring(c)
		if err != nil {
			return err
		}
		cmd.InitialResponse = append([]byte(nil), ir...)
		cmd.HasInitialResp = true
	}
	return nil
}

// parseSelect reads the optional CONDSTORE/QRESYNC select-params list per
// RFC 7162.
func parseSelect(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	mbox, err := parseMailboxName(c, nil)
	if err != nil {
		return err
	}
	cmd.Mailbox = mbox

	if _, ok, err := Optional(c, parseSpace1); err != nil {
		return err
	} else if !ok {
		return nil
	}
	if err := ConsumeByte(c, '('); err != nil {
		return err
	}
	first := true
	for {
		if ok, err := Try(c, ')'); err != nil {
			return err
		} else if ok {
			c.Advance(1)
			break
		}
		if !first {
			if err := ParseSpace(c); err != nil {
				return err
			}
		}
		first = false
		param, err := ParseAtom(c)
		if err != nil {
			return err
		}
		switch strings.ToUpper(string(param)) {
		case "CONDSTORE":
			cmd.Condstore = true
		case "QRESYNC":
			if err := ParseSpace(c); err != nil {
				return err
			}
			if err := parseQresyncParam(c, cmd); err != nil {
				return err
			}
		default:
			return cursor.Invalid(c, "%s invalid select-param: %q", cmd.Name, param)
		}
	}
	return nil
}

func parseQresyncParam(c *cursor.Cursor, cmd *Command) error {
	if err := ConsumeByte(c, '('); err != nil {
		return err
	}
	uidValidity, err := ParseNumber(c)
	if err != nil {
		return err
	}
	if uidValidity == 0 {
		return cursor.Invalid(c, "QRESYNC UIDVALIDITY invalid")
	}
	cmd.Qresync.UIDValidity = uidValidity

	if err := ParseSpace(c); err != nil {
		return err
	}
	modSeq, err := ParseModSeqValue(c)
	if err != nil {
		return err
	}
	cmd.Qresync.ModSeq = modSeq

	if ok, err := Try(c, ')'); err != nil {
		return err
	} else if ok {
		c.Advance(1)
		return nil
	}

	if err := ParseSpace(c); err != nil {
		return err
	}
	uids, err := ParseSequences(c)
	if err != nil {
		return err
	}
	if len(uids) == 1 && uids[0] == (SeqRange{}) {
		return cursor.Invalid(c, "QRESYNC known UIDs: '*' is not allowed")
	}
	cmd.Qresync.UIDs = uids

	if ok, err := Try(c, ')'); err != nil {
		return err
	} else if ok {
		c.Advance(1)
		return nil
	}

	if err := ParseSpace(c); err != nil {
		return err
	}
	if err := ConsumeByte(c, '('); err != nil {
		return err
	}
	seqMatch, err := ParseSequences(c)
	if err != nil {
		return err
	}
	if len(seqMatch) == 1 && seqMatch[0] == (SeqRange{}) {
		return cursor.Invalid(c, "QRESYNC seq-match: '*' is not allowed")
	}
	cmd.Qresync.KnownSeqNumMatch = seqMatch
	if err := ParseSpace(c); err != nil {
		return err
	}
	uidMatch, err := ParseSequences(c)
	if err != nil {
		return err
	}
	if len(uidMatch) == 1 && uidMatch[0] == (SeqRange{}) {
		return cursor.Invalid(c, "QRESYNC uid-match: '*' is not allowed")
	}
	cmd.Qresync.KnownUIDMatch = uidMatch
	if err := ConsumeByte(c, ')'); err != nil {
		return err
	}
	if err := ConsumeByte(c, ')'); err != nil {
		return err
	}
	return nil
}

func parseList(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	if ok, err := Try(c, '('); err != nil {
		return err
	} else if ok {
		c.Advance(1)
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return err
				}
			}
			first = false
			opt, err := ParseAstring(c)
			if err != nil {
				return err
			}
			switch strings.ToUpper(string(opt)) {
			case "SUBSCRIBED", "REMOTE", "RECURSIVEMATCH", "SPECIAL-USE":
				cmd.List.SelectOptions = append(cmd.List.SelectOptions, strings.ToUpper(string(opt)))
			default:
				return cursor.Invalid(c, "%s bad selection option: %q", cmd.Name, opt)
			}
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
	}

	ref, err := ParseAstring(c)
	if err != nil {
		return err
	}
	cmd.List.ReferenceName = append([]byte(nil), ref...)

	if err := ParseSpace(c); err != nil {
		return err
	}
	glob, err := ParseListMailbox(c)
	if err != nil {
		return err
	}
	cmd.List.MailboxGlob = append([]byte(nil), glob...)

	if atEndOfLine(c) {
		return nil
	}
	if err := ParseSpace(c); err != nil {
		return err
	}
	if atEndOfLine(c) {
		return nil
	}

	kw, err := ParseAtom(c)
	if err != nil {
		return err
	}
	switch strings.ToUpper(string(kw)) {
	case "RETURN":
		if err := ParseSpace(c); err != nil {
			return err
		}
		if err := ConsumeByte(c, '('); err != nil {
			return err
		}
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return err
				}
			}
			first = false
			opt, err := ParseAtom(c)
			if err != nil {
				return err
			}
			switch strings.ToUpper(string(opt)) {
			case "SUBSCRIBED", "CHILDREN", "SPECIAL-USE":
				cmd.List.ReturnOptions = append(cmd.List.ReturnOptions, strings.ToUpper(string(opt)))
			case "STATUS":
				items, err := parseStatusItemList(c)
				if err != nil {
					return err
				}
				cmd.List.ReturnOptions = append(cmd.List.ReturnOptions, "STATUS")
				cmd.List.StatusItems = items
			default:
				return cursor.Invalid(c, "%s bad RETURN option: %q", cmd.Name, opt)
			}
		}
		return nil
	default:
		return cursor.Invalid(c, "%s expecting RETURN, got %q", cmd.Name, kw)
	}
}

func parseStatusItemList(c *cursor.Cursor) ([]StatusItem, error) {
	if err := ParseSpace(c); err != nil {
		return nil, err
	}
	if err := ConsumeByte(c, '('); err != nil {
		return nil, err
	}
	var items []StatusItem
	first := true
	for {
		if ok, err := Try(c, ')'); err != nil {
			return nil, err
		} else if ok {
			c.Advance(1)
			break
		}
		if !first {
			if err := ParseSpace(c); err != nil {
				return nil, err
			}
		}
		first = false
		item, err := parseStatusItem(c)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func parseStatusItem(c *cursor.Cursor) (StatusItem, error) {
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

func parseStatus(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	mbox, err := parseMailboxName(c, nil)
	if err != nil {
		return err
	}
	cmd.Mailbox = mbox
	items, err := parseStatusItemList(c)
	if err != nil {
		return err
	}
	cmd.Status.Items = items
	return nil
}

// parseAppend reads the mailbox name, optional flag list, optional
// date-time, then the literal header only: per ParseCommandLine's
// contract, it never tries to read the N literal-body bytes itself.
func parseAppend(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	mbox, err := parseMailboxName(c, nil)
	if err != nil {
		return err
	}
	cmd.Mailbox = mbox

	if err := ParseSpace(c); err != nil {
		return err
	}

	if ok, err := Try(c, '('); err != nil {
		return err
	} else if ok {
		c.Advance(1)
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return err
				}
			}
			first = false
			flag, err := ParseFlag(c)
			if err != nil {
				return err
			}
			cmd.Append.Flags = append(cmd.Append.Flags, append([]byte(nil), flag...))
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
	}

	if ok, err := Try(c, '"'); err != nil {
		return err
	} else if ok {
		date, err := ParseQuotedString(c)
		if err != nil {
			return err
		}
		cmd.Append.Date = append([]byte(nil), date...)
		if err := ParseSpace(c); err != nil {
			return err
		}
	}

	hdr, err := ParseLiteralHeader(c)
	if err != nil {
		return err
	}
	// Stashed for the command package: it owns the decision of whether
	// the N bytes that should follow are already present in rest.
	cmd.appendLiteralLen = hdr.N
	cmd.appendLiteralSync = hdr.Sync
	return nil
}

func parseFetch(c *cursor.Cursor, cmd *Command, depth *cursor.Depth) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	seqs, err := ParseSequences(c)
	if err != nil {
		return err
	}
	cmd.Sequences = seqs

	if err := ParseSpace(c); err != nil {
		return err
	}

	if ok, err := Try(c, '('); err != nil {
		return err
	} else if ok {
		c.Advance(1)
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return err
				}
			}
			first = false
			item, err := parseFetchItem(c, depth)
			if err != nil {
				return err
			}
			switch item.Type {
			case FetchAll, FetchFull, FetchFast:
				return cursor.Invalid(c, "FETCH item %s is only valid as a top-level item", item.Type)
			}
			cmd.FetchItems = append(cmd.FetchItems, item)
		}
		if len(cmd.FetchItems) == 0 {
			return cursor.Invalid(c, "FETCH empty items list")
		}
	} else {
		item, err := parseFetchItem(c, depth)
		if err != nil {
			return err
		}
		cmd.FetchItems = append(cmd.FetchItems, item)
	}

	if cmd.UID {
		hasUID := false
		for _, item := range cmd.FetchItems {
			if item.Type == FetchUID {
				hasUID = true
			}
		}
		if !hasUID {
			cmd.FetchItems = append(cmd.FetchItems, FetchItem{Type: FetchUID})
		}
	}

	if atEndOfLine(c) {
		return nil
	}
	if err := ParseSpace(c); err != nil {
		return err
	}
	if atEndOfLine(c) {
		return nil
	}
	if err := ConsumeByte(c, '('); err != nil {
		return err
	}
	first := true
	for {
		if ok, err := Try(c, ')'); err != nil {
			return err
		} else if ok {
			c.Advance(1)
			break
		}
		if !first {
			if err := ParseSpace(c); err != nil {
				return err
			}
		}
		first = false
		mod, err := ParseAtom(c)
		if err != nil {
			return err
		}
		switch strings.ToUpper(string(mod)) {
		case "CHANGEDSINCE":
			if err := ParseSpace(c); err != nil {
				return err
			}
			v, err := ParseModSeqValue(c)
			if err != nil {
				return err
			}
			cmd.ChangedSince = v
		case "VANISHED":
			cmd.Vanished = true
		default:
			return cursor.Invalid(c, "FETCH unknown modifier: %q", mod)
		}
	}
	return nil
}

// parseFetchItem reads one fetch-att: a bare keyword (ALL/FAST/FULL/
// FLAGS/UID/...), or BODY[.PEEK][<section>][<partial>], or
// BINARY[.PEEK]<section>[<partial>] (RFC 3516).
func parseFetchItem(c *cursor.Cursor, depth *cursor.Depth) (FetchItem, error) {
	name, err := scanFetchItemName(c)
	if err != nil {
		return FetchItem{}, err
	}
	var item FetchItem
	switch name {
	case "ALL":
		item.Type = FetchAll
	case "FAST":
		item.Type = FetchFast
	case "FULL":
		item.Type = FetchFull
	case "ENVELOPE":
		item.Type = FetchEnvelope
	case "FLAGS":
		item.Type = FetchFlags
	case "INTERNALDATE":
		item.Type = FetchInternalDate
	case "RFC822.HEADER":
		item.Type = FetchRFC822Header
	case "RFC822.SIZE":
		item.Type = FetchRFC822Size
	case "RFC822.TEXT":
		item.Type = FetchRFC822Text
	case "UID":
		item.Type = FetchUID
	case "MODSEQ":
		item.Type = FetchModSeq
	case "BODYSTRUCTURE":
		item.Type = FetchBodyStructure
	case "BODY":
		item.Type = FetchBody
	case "BODY.PEEK":
		item.Type = FetchBody
		item.Peek = true
	case "BINARY.SIZE":
		item.Type = FetchBinarySize
		item.Binary = true
	case "BINARY":
		item.Type = FetchBody
		item.Binary = true
	case "BINARY.PEEK":
		item.Type = FetchBody
		item.Binary = true
		item.Peek = true
	default:
		return FetchItem{}, cursor.Invalid(c, "FETCH unknown item: %q", name)
	}

	if ok, err := Try(c, '['); err != nil {
		if err == cursor.ErrIncomplete {
			return FetchItem{}, err
		}
		return item, nil
	} else if !ok {
		return item, nil
	}
	if item.Type != FetchBody && item.Type != FetchBinarySize {
		return FetchItem{}, cursor.Invalid(c, "FETCH item %s does not take a section", name)
	}
	if err := depth.Enter(); err != nil {
		return FetchItem{}, err
	}
	defer depth.Exit()
	c.Advance(1)

	for {
		b, err := c.PeekByte()
		if err != nil {
			return FetchItem{}, err
		}
		if !isDigit(b) {
			break
		}
		v, err := ParseNumber(c)
		if err != nil {
			return FetchItem{}, err
		}
		if v >= 1<<16 {
			return FetchItem{}, cursor.Invalid(c, "FETCH section path number too big")
		}
		item.Section.Path = append(item.Section.Path, uint16(v))
		if ok, err := Try(c, '.'); err != nil {
			return FetchItem{}, err
		} else if ok {
			c.Advance(1)
		} else {
			break
		}
	}

	if ok, err := Try(c, ']'); err == nil && ok {
		// bare numeric path, no section name
	} else if err != nil && err != cursor.ErrIncomplete {
		return FetchItem{}, err
	} else {
		sectionName, err := ParseAtom(c)
		if err != nil {
			return FetchItem{}, err
		}
		switch strings.ToUpper(string(sectionName)) {
		case "HEADER":
			item.Section.Name = "HEADER"
		case "HEADER.FIELDS":
			item.Section.Name = "HEADER.FIELDS"
		case "HEADER.FIELDS.NOT":
			item.Section.Name = "HEADER.FIELDS.NOT"
		case "TEXT":
			item.Section.Name = "TEXT"
		case "MIME":
			if len(item.Section.Path) == 0 {
				return FetchItem{}, cursor.Invalid(c, "MIME section requires a numeric path")
			}
			item.Section.Name = "MIME"
		default:
			return FetchItem{}, cursor.Invalid(c, "invalid section name: %q", sectionName)
		}

		if strings.HasPrefix(item.Section.Name, "HEADER.FIELDS") {
			if err := ParseSpace(c); err != nil {
				return FetchItem{}, err
			}
			if err := ConsumeByte(c, '('); err != nil {
				return FetchItem{}, err
			}
			first := true
			for {
				if ok, err := Try(c, ')'); err != nil {
					return FetchItem{}, err
				} else if ok {
					c.Advance(1)
					break
				}
				if !first {
					if err := ParseSpace(c); err != nil {
						return FetchItem{}, err
					}
				}
				first = false
				hdr, err := ParseAstring(c)
				if err != nil {
					return FetchItem{}, err
				}
				item.Section.Headers = append(item.Section.Headers, append([]byte(nil), hdr...))
			}
		}
	}

	if err := ConsumeByte(c, ']'); err != nil {
		return FetchItem{}, err
	}

	if ok, err := Try(c, '<'); err != nil {
		if err == cursor.ErrIncomplete {
			return FetchItem{}, err
		}
		return item, nil
	} else if !ok {
		return item, nil
	}
	c.Advance(1)
	start, err := ParseNumber(c)
	if err != nil {
		return FetchItem{}, err
	}
	if err := ConsumeByte(c, '.'); err != nil {
		return FetchItem{}, err
	}
	length, err := ParseNZNumber(c)
	if err != nil {
		return FetchItem{}, err
	}
	if err := ConsumeByte(c, '>'); err != nil {
		return FetchItem{}, err
	}
	item.Partial.Start = start
	item.Partial.Length = length
	return item, nil
}

// scanFetchItemName reads a fetch-att keyword. '.' is not an
// atom-special, so names like "BODY.PEEK"/"RFC822.SIZE"/"BINARY.SIZE"
// come back whole; the scan also stops at '[' so that a section
// ("BODY[TEXT]") is left for the section parser.
func scanFetchItemName(c *cursor.Cursor) (string, error) {
	atom, err := scanWhile(c, func(b byte) bool { return b == '[' || isAtomSpecial(b) })
	if err != nil {
		return "", err
	}
	return strings.ToUpper(string(atom)), nil
}

func parseStore(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	seqs, err := ParseSequences(c)
	if err != nil {
		return err
	}
	cmd.Sequences = seqs

	if err := ParseSpace(c); err != nil {
		return err
	}
	if ok, err := Try(c, '('); err != nil {
		return err
	} else if ok {
		c.Advance(1)
		mod, err := ParseAtom(c)
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(mod), "UNCHANGEDSINCE") {
			return cursor.Invalid(c, "STORE unknown modifier: %q", mod)
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
		v, err := ParseModSeqValue(c)
		if err != nil {
			return err
		}
		cmd.Store.UnchangedSince = v
		if err := ConsumeByte(c, ')'); err != nil {
			return err
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
	}

	name, err := ParseAtom(c)
	if err != nil {
		return err
	}
	switch strings.ToUpper(string(name)) {
	case "+FLAGS":
		cmd.Store.Mode = StoreAdd
	case "+FLAGS.SILENT":
		cmd.Store.Mode = StoreAdd
		cmd.Store.Silent = true
	case "-FLAGS":
		cmd.Store.Mode = StoreRemove
	case "-FLAGS.SILENT":
		cmd.Store.Mode = StoreRemove
		cmd.Store.Silent = true
	case "FLAGS":
		cmd.Store.Mode = StoreReplace
	case "FLAGS.SILENT":
		cmd.Store.Mode = StoreReplace
		cmd.Store.Silent = true
	default:
		return cursor.Invalid(c, "STORE invalid data item name: %q", name)
	}

	if err := ParseSpace(c); err != nil {
		return err
	}
	if err := ConsumeByte(c, '('); err != nil {
		return err
	}
	first := true
	for {
		if ok, err := Try(c, ')'); err != nil {
			return err
		} else if ok {
			c.Advance(1)
			break
		}
		if !first {
			if err := ParseSpace(c); err != nil {
				return err
			}
		}
		first = false
		flag, err := ParseFlag(c)
		if err != nil {
			return err
		}
		cmd.Store.Flags = append(cmd.Store.Flags, append([]byte(nil), flag...))
	}
	return nil
}

func parseApplePushService(c *cursor.Cursor, cmd *Command) error {
	aps := &ApplePushService{}
	cmd.ApplePushService = aps
	for {
		if atEndOfLine(c) {
			return nil
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
		if atEndOfLine(c) {
			return nil
		}
		key, err := ParseAstring(c)
		if err != nil {
			return err
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
		switch string(key) {
		case "mailboxes":
			if err := ConsumeByte(c, '('); err != nil {
				return err
			}
			first := true
			for {
				if ok, err := Try(c, ')'); err != nil {
					return err
				} else if ok {
					c.Advance(1)
					break
				}
				if !first {
					if err := ParseSpace(c); err != nil {
						return err
					}
				}
				first = false
				mbox, err := ParseAstring(c)
				if err != nil {
					return err
				}
				aps.Mailboxes = append(aps.Mailboxes, string(mbox))
			}
		case "aps-version":
			v, err := ParseNumber(c)
			if err != nil {
				return err
			}
			aps.Version = int(v)
		case "aps-account-id":
			v, err := ParseAstring(c)
			if err != nil {
				return err
			}
			aps.Device.AccountID = string(v)
		case "aps-device-token":
			v, err := ParseAstring(c)
			if err != nil {
				return err
			}
			aps.Device.DeviceToken = string(v)
		case "aps-subtopic":
			v, err := ParseAstring(c)
			if err != nil {
				return err
			}
			aps.Subtopic = string(v)
		default:
			return cursor.Invalid(c, "XAPPLEPUSHSERVICE unknown parameter: %q", key)
		}
	}
}

// parseSetQuota reads SETQUOTA quota-root (resource-name SP number ...),
// supplementing RFC 2087.
func parseSetQuota(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	root, err := ParseAstring(c)
	if err != nil {
		return err
	}
	cmd.Mailbox = append([]byte(nil), root...)
	if err := ParseSpace(c); err != nil {
		return err
	}
	if err := ConsumeByte(c, '('); err != nil {
		return err
	}
	first := true
	for {
		if ok, err := Try(c, ')'); err != nil {
			return err
		} else if ok {
			c.Advance(1)
			break
		}
		if !first {
			if err := ParseSpace(c); err != nil {
				return err
			}
		}
		first = false
		resource, err := ParseAtom(c)
		if err != nil {
			return err
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
		limit, err := ParseNumber(c)
		if err != nil {
			return err
		}
		cmd.Params = append(cmd.Params, append([]byte(nil), resource...),
			[]byte(strconv.FormatUint(uint64(limit), 10)))
	}
	return nil
}

// parseGetMetadata reads GETMETADATA mailbox (entry ...), per RFC 5464.
func parseGetMetadata(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	mbox, err := parseMailboxName(c, nil)
	if err != nil {
		return err
	}
	cmd.Mailbox = mbox
	if err := ParseSpace(c); err != nil {
		return err
	}
	if ok, err := Try(c, '('); err != nil {
		return err
	} else if ok {
		c.Advance(1)
		first := true
		for {
			if ok, err := Try(c, ')'); err != nil {
				return err
			} else if ok {
				c.Advance(1)
				break
			}
			if !first {
				if err := ParseSpace(c); err != nil {
					return err
				}
			}
			first = false
			entry, err := ParseAstring(c)
			if err != nil {
				return err
			}
			cmd.Params = append(cmd.Params, append([]byte(nil), entry...))
		}
		return nil
	}
	entry, err := ParseAstring(c)
	if err != nil {
		return err
	}
	cmd.Params = append(cmd.Params, append([]byte(nil), entry...))
	return nil
}

// parseGenURLAuth reads GENURLAUTH 1*(SP url-rump SP mechanism), per
// RFC 4467. Each url-rump/mechanism pair is appended to Params as two
// consecutive opaque astrings, matching the treatment GETMETADATA gives
// its entry list: this codec frames the URL/AUTH ops without
// interpreting the URL or verifying the mechanism.
func parseGenURLAuth(c *cursor.Cursor, cmd *Command) error {
	for {
		if err := ParseSpace(c); err != nil {
			return err
		}
		urlRump, err := ParseAstring(c)
		if err != nil {
			return err
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
		mechanism, err := ParseAtom(c)
		if err != nil {
			return err
		}
		cmd.Params = append(cmd.Params, append([]byte(nil), urlRump...),
			append([]byte(nil), mechanism...))
		if atEndOfLine(c) {
			return nil
		}
	}
}

// parseResetKey reads RESETKEY [SP mailbox SP mechanism *(SP mechanism)],
// per RFC 4467. The optional mailbox goes in Mailbox; each mechanism is
// appended to Params as an opaque atom.
func parseResetKey(c *cursor.Cursor, cmd *Command) error {
	if atEndOfLine(c) {
		return nil
	}
	if err := ParseSpace(c); err != nil {
		return err
	}
	mbox, err := parseMailboxName(c, nil)
	if err != nil {
		return err
	}
	cmd.Mailbox = mbox
	for {
		if err := ParseSpace(c); err != nil {
			return err
		}
		mechanism, err := ParseAtom(c)
		if err != nil {
			return err
		}
		cmd.Params = append(cmd.Params, append([]byte(nil), mechanism...))
		if atEndOfLine(c) {
			return nil
		}
	}
}

// parseSetMetadata reads SETMETADATA mailbox (entry value ...).
func parseSetMetadata(c *cursor.Cursor, cmd *Command) error {
	if err := ParseSpace(c); err != nil {
		return err
	}
	mbox, err := parseMailboxName(c, nil)
	if err != nil {
		return err
	}
	cmd.Mailbox = mbox
	if err := ParseSpace(c); err != nil {
		return err
	}
	if err := ConsumeByte(c, '('); err != nil {
		return err
	}
	first := true
	for {
		if ok, err := Try(c, ')'); err != nil {
			return err
		} else if ok {
			c.Advance(1)
			break
		}
		if !first {
			if err := ParseSpace(c); err != nil {
				return err
			}
		}
		first = false
		entry, err := ParseAstring(c)
		if err != nil {
			return err
		}
		if err := ParseSpace(c); err != nil {
			return err
		}
		value, ok, err := ParseNString(c)
		if err != nil {
			return err
		}
		cmd.Params = append(cmd.Params, append([]byte(nil), entry...))
		if !ok {
			cmd.Params = append(cmd.Params, nil)
		} else {
			cmd.Params = append(cmd.Params, append([]byte(nil), value...))
		}
	}
	return nil
}

