package command

import (
	"io"
	"testing"

	"crawshaw.io/iox"
)

func newParser() *Parser {
	return New(iox.NewFiler(0), 4096, 64)
}

func TestSimpleCommand(t *testing.T) {
	p := newParser()
	p.Feed([]byte("a001 CAPABILITY\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", ev, ok, err)
	}
	if ev.Kind != EventCommand || ev.Command.Name != "CAPABILITY" || string(ev.Command.Tag) != "a001" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, ok, err := p.Next(); ok || err != nil {
		t.Fatalf("expected need-more-bytes, got ok=%v err=%v", ok, err)
	}
}

func TestIncrementalFeed(t *testing.T) {
	p := newParser()
	whole := []byte("a001 NOOP\r\n")
	for i := 0; i < len(whole); i++ {
		if _, ok, err := p.Next(); ok || err != nil {
			t.Fatalf("Next() before fed fully: ok=%v err=%v", ok, err)
		}
		p.Feed(whole[i : i+1])
	}
	ev, ok, err := p.Next()
	if err != nil || !ok || ev.Command.Name != "NOOP" {
		t.Fatalf("Next() = %+v, %v, %v", ev, ok, err)
	}
}

func TestSynchronizingLiteralLogin(t *testing.T) {
	p := newParser()
	p.Feed([]byte("a002 LOGIN {4}\r\nuser {4}\r\npass\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", ev, ok, err)
	}
	cmd := ev.Command
	if cmd.Name != "LOGIN" || string(cmd.Auth.Username) != "user" || string(cmd.Auth.Password) != "pass" {
		t.Fatalf("unexpected LOGIN command: %+v", cmd)
	}
}

func TestAppendStreaming(t *testing.T) {
	p := newParser()
	p.Feed([]byte("a003 APPEND INBOX {10}\r\n0123456789\r\n"))

	ev, ok, err := p.Next()
	if err != nil || !ok || ev.Kind != EventCommand || ev.Command.Name != "APPEND" {
		t.Fatalf("Command event = %+v, %v, %v", ev, ok, err)
	}

	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventBytes || string(ev.Bytes) != "0123456789" {
		t.Fatalf("Bytes event = %+v, %v, %v", ev, ok, err)
	}

	if _, ok, err := p.Next(); ok || err != nil {
		t.Fatalf("expected need-more-bytes after literal, got ok=%v err=%v", ok, err)
	}

	p.Feed([]byte("a004 NOOP\r\n"))
	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Command.Name != "NOOP" {
		t.Fatalf("next command after APPEND = %+v, %v, %v", ev, ok, err)
	}
}

func TestAppendLiteralContentsWrittenToSink(t *testing.T) {
	p := newParser()
	p.Feed([]byte("a003 APPEND INBOX {10}\r\n0123456789\r\n"))
	ev, _, _ := p.Next()
	lit := ev.Command.Literal
	for {
		e, ok, err := p.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if e.Kind == EventBytes {
			continue
		}
	}
	if _, err := lit.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := io.ReadAll(lit)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "0123456789" {
		t.Fatalf("literal sink = %q, want %q", got, "0123456789")
	}
}

func TestAppendOversizedLiteralStreamsViaFramer(t *testing.T) {
	p := New(iox.NewFiler(0), 16, 64) // buffer cap smaller than the literal
	p.Feed([]byte("a003 APPEND INBOX {20}\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok || ev.Command.Name != "APPEND" {
		t.Fatalf("Command event = %+v, %v, %v", ev, ok, err)
	}

	p.Feed([]byte("01234567890123456789\r\n"))
	var got []byte
	for len(got) < 20 {
		e, ok, err := p.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			t.Fatalf("ran out of events before literal complete")
		}
		if e.Kind != EventBytes {
			t.Fatalf("unexpected event kind %v mid-literal", e.Kind)
		}
		got = append(got, e.Bytes...)
	}
	if string(got) != "01234567890123456789" {
		t.Fatalf("streamed bytes = %q", got)
	}

	// The trailing CRLF is drained internally; with nothing queued after
	// it, the parser reports it needs more bytes rather than an event.
	if _, ok, err := p.Next(); ok || err != nil {
		t.Fatalf("expected need-more-bytes after draining literal tail, got ok=%v err=%v", ok, err)
	}

	p.Feed([]byte("a004 NOOP\r\n"))
	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Command.Name != "NOOP" {
		t.Fatalf("next command after oversized APPEND = %+v, %v, %v", ev, ok, err)
	}
}

func TestIdleDone(t *testing.T) {
	p := newParser()
	p.Feed([]byte("a004 IDLE\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok || ev.Command.Name != "IDLE" {
		t.Fatalf("IDLE command event = %+v, %v, %v", ev, ok, err)
	}
	p.Feed([]byte("DONE\r\n"))
	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventIdleDone {
		t.Fatalf("IdleDone event = %+v, %v, %v", ev, ok, err)
	}
	p.Feed([]byte("a005 NOOP\r\n"))
	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Command.Name != "NOOP" {
		t.Fatalf("command after IDLE = %+v, %v, %v", ev, ok, err)
	}
}

func TestZeroLengthLiteralAppend(t *testing.T) {
	p := newParser()
	p.Feed([]byte("a006 APPEND INBOX {0}\r\n\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok || ev.Command.Name != "APPEND" {
		t.Fatalf("Command event = %+v, %v, %v", ev, ok, err)
	}
	p.Feed([]byte("a007 NOOP\r\n"))
	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Command.Name != "NOOP" {
		t.Fatalf("next command after zero-length literal = %+v, %v, %v", ev, ok, err)
	}
}
