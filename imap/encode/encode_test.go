package encode

import (
	"io"
	"testing"

	"crawshaw.io/iox"

	"spilled.ink/imapcodec/imap/cursor"
	"spilled.ink/imapcodec/imap/grammar"
)

func collect(t *testing.T, e *Encoder) []byte {
	t.Helper()
	var out []byte
	for e.HasMoreChunks() {
		data, _, ok := e.NextChunk()
		if !ok {
			t.Fatalf("NextChunk: HasMoreChunks true but ok false")
		}
		out = append(out, data...)
	}
	return out
}

// roundTrip encodes cmd, parses the result back with the grammar
// package, and returns the reparsed command for field-by-field checks.
func roundTrip(t *testing.T, cmd *grammar.Command) *grammar.Command {
	t.Helper()
	e := New()
	if err := e.WriteCommand(cmd); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	wire := collect(t, e)

	depth := cursor.NewDepth(64)
	got, rest, err := grammar.ParseCommandLine(wire, depth)
	if err != nil {
		t.Fatalf("ParseCommandLine(%q): %v", wire, err)
	}
	if cmd.Name != "APPEND" && len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %q", rest)
	}
	return got
}

func TestEncodeSimpleCommands(t *testing.T) {
	for _, name := range []string{"CAPABILITY", "NOOP", "LOGOUT", "CHECK", "CLOSE", "IDLE", "UNSELECT"} {
		cmd := &grammar.Command{Tag: []byte("a1"), Name: name}
		got := roundTrip(t, cmd)
		if got.Name != name {
			t.Fatalf("%s: round trip got %q", name, got.Name)
		}
	}
}

func TestEncodeLogin(t *testing.T) {
	cmd := &grammar.Command{Tag: []byte("a1"), Name: "LOGIN"}
	cmd.Auth.Username = []byte("user")
	cmd.Auth.Password = []byte(`pass"word\`)

	got := roundTrip(t, cmd)
	if string(got.Auth.Username) != "user" || string(got.Auth.Password) != `pass"word\` {
		t.Fatalf("LOGIN round trip = %+v", got.Auth)
	}
}

func TestEncodeSelectCondstore(t *testing.T) {
	cmd := &grammar.Command{Tag: []byte("a1"), Name: "SELECT", Mailbox: []byte("INBOX"), Condstore: true}
	got := roundTrip(t, cmd)
	if string(got.Mailbox) != "INBOX" || !got.Condstore {
		t.Fatalf("SELECT round trip = %+v", got)
	}
}

func TestEncodeFetch(t *testing.T) {
	cmd := &grammar.Command{
		Tag:       []byte("a1"),
		Name:      "FETCH",
		Sequences: []grammar.SeqRange{{Min: 1, Max: 3}, {Min: 7, Max: 7}},
		FetchItems: []grammar.FetchItem{
			{Type: grammar.FetchFlags},
			{Type: grammar.FetchBody, Section: grammar.FetchItemSection{Name: "TEXT"}, Partial: struct {
				Start  uint32
				Length uint32
			}{Start: 0, Length: 100}},
		},
	}
	got := roundTrip(t, cmd)
	if len(got.Sequences) != 2 || got.Sequences[0].Min != 1 || got.Sequences[0].Max != 3 {
		t.Fatalf("FETCH sequences round trip = %+v", got.Sequences)
	}
	if len(got.FetchItems) != 2 || got.FetchItems[1].Partial.Length != 100 {
		t.Fatalf("FETCH items round trip = %+v", got.FetchItems)
	}
}

func TestEncodeStore(t *testing.T) {
	cmd := &grammar.Command{
		Tag:       []byte("a1"),
		Name:      "STORE",
		Sequences: []grammar.SeqRange{{Min: 1, Max: 1}},
		Store: grammar.Store{
			Mode:   grammar.StoreAdd,
			Silent: true,
			Flags:  [][]byte{[]byte(`\Seen`), []byte(`\Flagged`)},
		},
	}
	got := roundTrip(t, cmd)
	if got.Store.Mode != grammar.StoreAdd || !got.Store.Silent || len(got.Store.Flags) != 2 {
		t.Fatalf("STORE round trip = %+v", got.Store)
	}
}

func TestEncodeSearch(t *testing.T) {
	cmd := &grammar.Command{
		Tag:  []byte("a1"),
		Name: "SEARCH",
		Search: grammar.Search{
			Op: &grammar.SearchOp{Key: "AND", Children: []grammar.SearchOp{
				{Key: "SEEN"},
				{Key: "FROM", Value: "alice@example.com"},
			}},
		},
	}
	got := roundTrip(t, cmd)
	if got.Search.Op == nil || len(got.Search.Op.Children) != 2 {
		t.Fatalf("SEARCH round trip = %+v", got.Search)
	}
}

// TestEncodeSearchOlderYoungerFilter covers the RFC 5032/5466 search
// keys this codec supplements beyond spec.md's distillation.
func TestEncodeSearchOlderYoungerFilter(t *testing.T) {
	cmd := &grammar.Command{
		Tag:  []byte("a1"),
		Name: "SEARCH",
		Search: grammar.Search{
			Op: &grammar.SearchOp{Key: "AND", Children: []grammar.SearchOp{
				{Key: "OLDER", Num: 3600},
				{Key: "YOUNGER", Num: 60},
				{Key: "FILTER", Value: "myfilter"},
			}},
		},
	}
	got := roundTrip(t, cmd)
	if got.Search.Op == nil || len(got.Search.Op.Children) != 3 {
		t.Fatalf("SEARCH round trip = %+v", got.Search)
	}
	older, younger, filter := got.Search.Op.Children[0], got.Search.Op.Children[1], got.Search.Op.Children[2]
	if older.Key != "OLDER" || older.Num != 3600 {
		t.Fatalf("OLDER round trip = %+v", older)
	}
	if younger.Key != "YOUNGER" || younger.Num != 60 {
		t.Fatalf("YOUNGER round trip = %+v", younger)
	}
	if filter.Key != "FILTER" || filter.Value != "myfilter" {
		t.Fatalf("FILTER round trip = %+v", filter)
	}
}

// TestEncodeURLAuthOps covers the RFC 4467 GENURLAUTH/RESETKEY commands.
func TestEncodeURLAuthOps(t *testing.T) {
	gen := &grammar.Command{Tag: []byte("a1"), Name: "GENURLAUTH"}
	gen.Params = [][]byte{[]byte("imap://user@host/INBOX;UID=1;urlauth=anonymous"), []byte("INTERNAL")}
	got := roundTrip(t, gen)
	if len(got.Params) != 2 || string(got.Params[1]) != "INTERNAL" {
		t.Fatalf("GENURLAUTH round trip = %+v", got.Params)
	}

	reset := &grammar.Command{Tag: []byte("a1"), Name: "RESETKEY", Mailbox: []byte("INBOX")}
	reset.Params = [][]byte{[]byte("INTERNAL")}
	got = roundTrip(t, reset)
	if string(got.Mailbox) != "INBOX" || len(got.Params) != 1 || string(got.Params[0]) != "INTERNAL" {
		t.Fatalf("RESETKEY round trip = %+v", got)
	}

	bare := &grammar.Command{Tag: []byte("a1"), Name: "RESETKEY"}
	got = roundTrip(t, bare)
	if len(got.Mailbox) != 0 || len(got.Params) != 0 {
		t.Fatalf("bare RESETKEY round trip = %+v", got)
	}
}

// TestEncodeAppendChunksAtLiteral checks that WriteCommand for APPEND
// yields a chunk boundary exactly before the message literal, with
// WaitForContinuation true on that chunk, matching spec.md §4.5.
func TestEncodeAppendChunksAtLiteral(t *testing.T) {
	filer := iox.NewFiler(0)
	lit := filer.BufferFile(0)
	if _, err := lit.Write([]byte("Subject: hi\r\n\r\nbody")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cmd := &grammar.Command{Tag: []byte("a1"), Name: "APPEND", Mailbox: []byte("INBOX"), Literal: lit}
	cmd.Append.Flags = [][]byte{[]byte(`\Seen`)}

	e := New()
	if err := e.WriteCommand(cmd); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}

	data, wait, ok := e.NextChunk()
	if !ok || !wait {
		t.Fatalf("first chunk: data=%q wait=%v ok=%v", data, wait, ok)
	}

	var rest []byte
	for e.HasMoreChunks() {
		d, w, ok := e.NextChunk()
		if !ok {
			t.Fatalf("NextChunk: unexpected !ok")
		}
		if w {
			t.Fatalf("unexpected mid-literal continuation wait")
		}
		rest = append(rest, d...)
	}

	full := append(append([]byte(nil), data...), rest...)
	depth := cursor.NewDepth(64)
	got, tail, err := grammar.ParseCommandLine(full, depth)
	if err != nil {
		t.Fatalf("ParseCommandLine(%q): %v", full, err)
	}
	n, _ := got.AppendLiteralHeader()
	if n != int64(len("Subject: hi\r\n\r\nbody")) {
		t.Fatalf("literal header size = %d", n)
	}
	wantTail := "Subject: hi\r\n\r\nbody\r\n"
	if string(tail) != wantTail {
		t.Fatalf("tail = %q, want %q", tail, wantTail)
	}
	if _, err := lit.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
}
