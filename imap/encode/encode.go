// Package encode serializes the grammar package's Command AST back to
// the wire format, chunking output at synchronizing-literal boundaries
// so a caller driving a real connection knows where it must await a
// "+" continuation before sending the next chunk (spec.md §4.5).
package encode

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"spilled.ink/imapcodec/imap/grammar"
)

// Chunk is one ready-to-send piece of output.
type Chunk struct {
	Data []byte
	// WaitForContinuation is true iff Data ends exactly before a
	// synchronizing literal: the caller must read and discard a "+ ...\r\n"
	// continuation request from the server before sending the next chunk.
	WaitForContinuation bool
}

// Encoder builds a sequence of Chunks from Command values. The zero
// value is not usable; use New.
type Encoder struct {
	chunks []Chunk
	cur    bytes.Buffer
	pos    int
}

// New returns an empty Encoder.
func New() *Encoder {
	return &Encoder{}
}

// HasMoreChunks reports whether NextChunk has more chunks to return.
func (e *Encoder) HasMoreChunks() bool { return e.pos < len(e.chunks) }

// NextChunk returns the next ready-to-send chunk. ok is false once every
// chunk WriteCommand produced has been consumed.
func (e *Encoder) NextChunk() (data []byte, waitForContinuation bool, ok bool) {
	if !e.HasMoreChunks() {
		return nil, false, false
	}
	c := e.chunks[e.pos]
	e.pos++
	return c.Data, c.WaitForContinuation, true
}

// flush closes out the buffer accumulated so far into a Chunk.
func (e *Encoder) flush(waitForContinuation bool) {
	if e.cur.Len() == 0 && !waitForContinuation {
		return
	}
	e.chunks = append(e.chunks, Chunk{
		Data:                append([]byte(nil), e.cur.Bytes()...),
		WaitForContinuation: waitForContinuation,
	})
	e.cur.Reset()
}

func (e *Encoder) lit(s string)         { e.cur.WriteString(s) }
func (e *Encoder) byt(b byte)           { e.cur.WriteByte(b) }
func (e *Encoder) raw(b []byte)         { e.cur.Write(b) }
func (e *Encoder) space()               { e.cur.WriteByte(' ') }
func (e *Encoder) printf(f string, v ...interface{}) { fmt.Fprintf(&e.cur, f, v...) }

// WriteCommand appends cmd, fully encoded, to the chunk stream. Errors
// are returned for command shapes this encoder does not (yet) produce;
// every shape ParseCommandLine can return for a command this function
// handles is accepted.
func (e *Encoder) WriteCommand(cmd *grammar.Command) error {
	e.raw(cmd.Tag)
	e.space()
	if cmd.UID {
		e.lit("UID ")
	}
	e.lit(cmd.Name)

	if err := e.writeArgs(cmd); err != nil {
		return err
	}
	e.lit("\r\n")
	e.flush(false)
	return nil
}

func (e *Encoder) writeArgs(cmd *grammar.Command) error {
	switch cmd.Name {
	case "CAPABILITY", "NOOP", "LOGOUT", "STARTTLS", "CHECK", "CLOSE", "IDLE", "NAMESPACE", "UNSELECT":
		return nil

	case "COMPRESS":
		e.lit(" DEFLATE")
		return nil

	case "ID":
		e.byt(' ')
		if len(cmd.Params) == 0 {
			e.lit("NIL")
			return nil
		}
		e.byt('(')
		for i := 0; i+1 < len(cmd.Params); i += 2 {
			if i > 0 {
				e.space()
			}
			e.writeAstring(cmd.Params[i])
			e.space()
			e.writeAstring(cmd.Params[i+1])
		}
		e.byt(')')
		return nil

	case "AUTHENTICATE":
		e.space()
		e.lit(cmd.Mechanism)
		if cmd.HasInitialResp {
			e.space()
			if len(cmd.InitialResponse) == 0 {
				e.byt('=')
			} else {
				e.raw(cmd.InitialResponse)
			}
		}
		return nil

	case "LOGIN":
		e.space()
		e.writeAstring(cmd.Auth.Username)
		e.space()
		e.writeAstring(cmd.Auth.Password)
		return nil

	case "ENABLE":
		e.space()
		for i, p := range cmd.Params {
			if i > 0 {
				e.space()
			}
			e.raw(p)
		}
		return nil

	case "SELECT", "EXAMINE":
		e.space()
		e.writeMailbox(cmd.Mailbox)
		if cmd.Condstore {
			e.lit(" (CONDSTORE)")
		}
		return nil

	case "CREATE", "DELETE", "SUBSCRIBE", "UNSUBSCRIBE":
		e.space()
		e.writeMailbox(cmd.Mailbox)
		return nil

	case "RENAME":
		e.space()
		e.writeMailbox(cmd.Rename.OldMailbox)
		e.space()
		e.writeMailbox(cmd.Rename.NewMailbox)
		return nil

	case "LIST", "LSUB":
		return e.writeList(cmd)

	case "STATUS":
		e.space()
		e.writeMailbox(cmd.Mailbox)
		e.lit(" (")
		for i, it := range cmd.Status.Items {
			if i > 0 {
				e.space()
			}
			e.lit(statusItemName(it))
		}
		e.byt(')')
		return nil

	case "APPEND":
		return e.writeAppend(cmd)

	case "EXPUNGE":
		if cmd.UID {
			e.space()
			e.writeSequences(cmd.Sequences)
		}
		return nil

	case "SEARCH":
		return e.writeSearch(cmd)

	case "FETCH":
		return e.writeFetch(cmd)

	case "STORE":
		return e.writeStore(cmd)

	case "COPY", "MOVE":
		e.space()
		e.writeSequences(cmd.Sequences)
		e.space()
		e.writeMailbox(cmd.Mailbox)
		return nil

	case "XAPPLEPUSHSERVICE":
		return e.writeApplePushService(cmd)

	case "GETQUOTAROOT":
		e.space()
		e.writeMailbox(cmd.Mailbox)
		return nil

	case "GETQUOTA":
		e.space()
		e.writeAstring(cmd.Mailbox)
		return nil

	case "GENURLAUTH":
		if len(cmd.Params) == 0 || len(cmd.Params)%2 != 0 {
			return fmt.Errorf("imapcodec/encode: GENURLAUTH: Params must hold (url-rump, mechanism) pairs")
		}
		for i := 0; i < len(cmd.Params); i += 2 {
			e.space()
			e.writeAstring(cmd.Params[i])
			e.space()
			e.raw(cmd.Params[i+1])
		}
		return nil

	case "RESETKEY":
		if len(cmd.Mailbox) == 0 && len(cmd.Params) == 0 {
			return nil
		}
		e.space()
		e.writeMailbox(cmd.Mailbox)
		for _, mechanism := range cmd.Params {
			e.space()
			e.raw(mechanism)
		}
		return nil
	}
	return fmt.Errorf("imapcodec/encode: unsupported command: %s", cmd.Name)
}

func (e *Encoder) writeMailbox(name []byte) {
	if strings.EqualFold(string(name), "INBOX") {
		e.lit("INBOX")
		return
	}
	e.writeAstring(name)
}

func (e *Encoder) writeSequences(seqs []grammar.SeqRange) {
	for i, r := range seqs {
		if i > 0 {
			e.byt(',')
		}
		e.writeSeqNum(r.Min)
		if r.Max != r.Min {
			e.byt(':')
			e.writeSeqNum(r.Max)
		}
	}
}

func (e *Encoder) writeSeqNum(n uint32) {
	if n == 0 {
		e.byt('*')
		return
	}
	e.printf("%d", n)
}

func (e *Encoder) writeList(cmd *grammar.Command) error {
	e.space()
	if len(cmd.List.SelectOptions) > 0 {
		e.byt('(')
		for i, o := range cmd.List.SelectOptions {
			if i > 0 {
				e.space()
			}
			e.lit(o)
		}
		e.lit(") ")
	}
	e.writeAstring(cmd.List.ReferenceName)
	e.space()
	e.writeAstring(cmd.List.MailboxGlob)
	if len(cmd.List.ReturnOptions) > 0 {
		e.lit(" RETURN (")
		for i, o := range cmd.List.ReturnOptions {
			if i > 0 {
				e.space()
			}
			e.lit(o)
			if o == "STATUS" && len(cmd.List.StatusItems) > 0 {
				e.lit(" (")
				for j, it := range cmd.List.StatusItems {
					if j > 0 {
						e.space()
					}
					e.lit(statusItemName(it))
				}
				e.byt(')')
			}
		}
		e.byt(')')
	}
	return nil
}

func statusItemName(it grammar.StatusItem) string {
	switch it {
	case grammar.StatusMessages:
		return "MESSAGES"
	case grammar.StatusRecent:
		return "RECENT"
	case grammar.StatusUIDNext:
		return "UIDNEXT"
	case grammar.StatusUIDValidity:
		return "UIDVALIDITY"
	case grammar.StatusUnseen:
		return "UNSEEN"
	case grammar.StatusHighestModSeq:
		return "HIGHESTMODSEQ"
	default:
		return "MESSAGES"
	}
}

// writeAppend encodes APPEND's message literal via Command.Literal,
// reading it back from the start, mirroring the symmetric role that
// field plays on the command-parsing side (spec.md §6 "ownership of
// byte slices"): the same *iox.BufferFile type stages a payload too
// large to hold as a plain Go string.
func (e *Encoder) writeAppend(cmd *grammar.Command) error {
	e.space()
	e.writeMailbox(cmd.Mailbox)
	if len(cmd.Append.Flags) > 0 {
		e.lit(" (")
		for i, f := range cmd.Append.Flags {
			if i > 0 {
				e.space()
			}
			e.raw(f)
		}
		e.byt(')')
	}
	if len(cmd.Append.Date) > 0 {
		e.byt(' ')
		e.byt('"')
		e.raw(cmd.Append.Date)
		e.byt('"')
	}
	e.space()

	if cmd.Literal == nil {
		return fmt.Errorf("imapcodec/encode: APPEND command has no message literal")
	}
	n, err := cmd.Literal.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := cmd.Literal.Seek(0, io.SeekStart); err != nil {
		return err
	}
	e.printf("{%d}\r\n", n)
	e.flush(true)

	if _, err := io.Copy(&e.cur, cmd.Literal); err != nil {
		return err
	}
	return nil
}

func (e *Encoder) writeSearch(cmd *grammar.Command) error {
	s := cmd.Search
	if s.Charset != "" {
		e.printf(" CHARSET %s", s.Charset)
	}
	if len(s.Return) > 0 {
		e.lit(" RETURN (")
		for i, o := range s.Return {
			if i > 0 {
				e.space()
			}
			e.lit(o)
		}
		e.byt(')')
	}
	e.space()
	if s.Op == nil {
		return fmt.Errorf("imapcodec/encode: SEARCH command has no key")
	}
	return e.writeSearchOp(*s.Op, true)
}

func (e *Encoder) writeSearchOp(op grammar.SearchOp, top bool) error {
	switch op.Key {
	case "AND":
		if !top {
			e.byt('(')
		}
		for i, child := range op.Children {
			if i > 0 {
				e.space()
			}
			if err := e.writeSearchOp(child, false); err != nil {
				return err
			}
		}
		if !top {
			e.byt(')')
		}
		return nil

	case "OR":
		e.lit("OR ")
		if err := e.writeSearchOp(op.Children[0], false); err != nil {
			return err
		}
		e.space()
		return e.writeSearchOp(op.Children[1], false)

	case "NOT":
		e.lit("NOT ")
		return e.writeSearchOp(op.Children[0], false)

	case "SEQSET":
		e.writeSequences(op.Sequences)
		return nil

	case "UID", "UNDRAFT":
		e.lit(string(op.Key))
		e.space()
		e.writeSequences(op.Sequences)
		return nil

	case "LARGER", "SMALLER", "MODSEQ", "OLDER", "YOUNGER":
		e.lit(string(op.Key))
		e.space()
		e.printf("%d", op.Num)
		return nil

	case "FILTER":
		e.lit("FILTER ")
		e.writeAstring([]byte(op.Value))
		return nil

	case "BEFORE", "ON", "SINCE", "SENTBEFORE", "SENTON", "SENTSINCE":
		e.lit(string(op.Key))
		e.space()
		e.printf("%02d-%s-%04d", op.Date.Day(), strings.ToUpper(op.Date.Month().String()[:3]), op.Date.Year())
		return nil

	case "HEADER":
		// Value holds "<field-name>: <string>" as ParseSearchKey joins them.
		name, value, _ := strings.Cut(op.Value, ": ")
		e.lit("HEADER ")
		e.writeAstring([]byte(name))
		e.space()
		e.writeAstring([]byte(value))
		return nil

	case "BCC", "BODY", "CC", "FROM", "SUBJECT", "TEXT", "TO", "KEYWORD", "UNKEYWORD":
		e.lit(string(op.Key))
		e.space()
		e.writeAstring([]byte(op.Value))
		return nil

	default:
		e.lit(string(op.Key)) // bare keyless boolean keys: ALL, ANSWERED, ...
		return nil
	}
}

func (e *Encoder) writeFetch(cmd *grammar.Command) error {
	e.space()
	e.writeSequences(cmd.Sequences)
	e.space()

	items := cmd.FetchItems
	if cmd.UID {
		items = dropUID(items)
	}
	if len(items) == 1 {
		writeFetchItem(&e.cur, items[0])
	} else {
		e.byt('(')
		for i, it := range items {
			if i > 0 {
				e.space()
			}
			writeFetchItem(&e.cur, it)
		}
		e.byt(')')
	}

	if cmd.ChangedSince != 0 || cmd.Vanished {
		e.lit(" (")
		wrote := false
		if cmd.ChangedSince != 0 {
			e.printf("CHANGEDSINCE %d", cmd.ChangedSince)
			wrote = true
		}
		if cmd.Vanished {
			if wrote {
				e.space()
			}
			e.lit("VANISHED")
		}
		e.byt(')')
	}
	return nil
}

// dropUID removes a trailing UID item, which parseFetch appends for a
// UID FETCH command whose item list lacks one, so a round trip doesn't
// accumulate one on every encode/parse cycle.
func dropUID(items []grammar.FetchItem) []grammar.FetchItem {
	if len(items) == 0 || items[len(items)-1].Type != grammar.FetchUID {
		return items
	}
	return items[:len(items)-1]
}

func writeFetchItem(w *bytes.Buffer, it grammar.FetchItem) {
	switch it.Type {
	case grammar.FetchBody:
		name := "BODY"
		if it.Binary {
			name = "BINARY"
		}
		if it.Peek {
			name += ".PEEK"
		}
		w.WriteString(name)
		w.WriteByte('[')
		writeSection(w, it.Section)
		w.WriteByte(']')
		if it.Partial.Length != 0 {
			fmt.Fprintf(w, "<%d.%d>", it.Partial.Start, it.Partial.Length)
		}
	default:
		w.WriteString(string(it.Type))
	}
}

func writeSection(w *bytes.Buffer, s grammar.FetchItemSection) {
	for i, p := range s.Path {
		if i > 0 {
			w.WriteByte('.')
		}
		fmt.Fprintf(w, "%d", p)
	}
	if s.Name == "" {
		return
	}
	if len(s.Path) > 0 {
		w.WriteByte('.')
	}
	w.WriteString(s.Name)
	if strings.HasPrefix(s.Name, "HEADER.FIELDS") {
		w.WriteByte(' ')
		w.WriteByte('(')
		for i, h := range s.Headers {
			if i > 0 {
				w.WriteByte(' ')
			}
			w.Write(h)
		}
		w.WriteByte(')')
	}
}

func (e *Encoder) writeStore(cmd *grammar.Command) error {
	e.space()
	e.writeSequences(cmd.Sequences)
	e.space()
	if cmd.Store.UnchangedSince != 0 {
		e.printf("(UNCHANGEDSINCE %d) ", cmd.Store.UnchangedSince)
	}
	e.lit(cmd.Store.Mode.String())
	if cmd.Store.Silent {
		e.lit(".SILENT")
	}
	e.lit(" (")
	for i, f := range cmd.Store.Flags {
		if i > 0 {
			e.space()
		}
		e.raw(f)
	}
	e.byt(')')
	return nil
}

func (e *Encoder) writeApplePushService(cmd *grammar.Command) error {
	aps := cmd.ApplePushService
	if aps == nil {
		return fmt.Errorf("imapcodec/encode: XAPPLEPUSHSERVICE command has no parameters")
	}
	e.lit(" aps-version ")
	e.printf("%d", aps.Version)
	e.lit(" aps-account-id ")
	e.writeQuoted(aps.Device.AccountID)
	e.lit(" aps-device-token ")
	e.writeQuoted(aps.Device.DeviceToken)
	e.lit(" aps-subtopic ")
	e.writeQuoted(aps.Subtopic)
	if len(aps.Mailboxes) > 0 {
		e.lit(" mailboxes (")
		for i, m := range aps.Mailboxes {
			if i > 0 {
				e.space()
			}
			e.writeQuoted(m)
		}
		e.byt(')')
	}
	return nil
}

func (e *Encoder) writeQuoted(s string) {
	e.byt('"')
	e.lit(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s))
	e.byt('"')
}

// writeAstring applies the literal-selection rule from spec.md §4.5: a
// quoted string if every byte is a QUOTED-CHAR and no NUL is present, a
// literal8 if a NUL is present, a literal otherwise. An atom is used
// whenever the bytes already qualify as one, since ABNF astring permits
// atom / string and the shorter encoding is always preferable.
func (e *Encoder) writeAstring(s []byte) {
	if len(s) == 0 {
		e.lit(`""`)
		return
	}
	if isAtomBytes(s) {
		e.raw(s)
		return
	}
	if bytes.IndexByte(s, 0) >= 0 {
		e.printf("~{%d}\r\n", len(s))
		e.flush(true)
		e.raw(s)
		return
	}
	if bytes.IndexFunc(s, func(r rune) bool { return r == '\r' || r == '\n' || r >= 0x80 }) >= 0 {
		e.printf("{%d}\r\n", len(s))
		e.flush(true)
		e.raw(s)
		return
	}
	e.byt('"')
	for _, b := range s {
		if b == '"' || b == '\\' {
			e.byt('\\')
		}
		e.byt(b)
	}
	e.byt('"')
}

func isAtomBytes(s []byte) bool {
	for _, b := range s {
		switch {
		case b <= 32, b >= 127:
			return false
		case b == '(', b == ')', b == '{', b == '"', b == '\\',
			b == '%', b == '*', b == ']', b == '[':
			return false
		}
	}
	return true
}
