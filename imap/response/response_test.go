package response

import "testing"

func newParser() *Parser {
	return New(4096, 64)
}

func TestGreeting(t *testing.T) {
	p := newParser()
	p.Feed([]byte("* OK IMAP4rev1 Service Ready\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", ev, ok, err)
	}
	if ev.Kind != EventGreeting || ev.Greeting.Kind != "OK" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestTaggedCompletion(t *testing.T) {
	p := newParser()
	p.Feed([]byte("* OK ready\r\n"))
	if _, _, err := p.Next(); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	p.Feed([]byte("a001 OK CAPABILITY completed\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", ev, ok, err)
	}
	if ev.Kind != EventResponseEnd || string(ev.Tagged.Tag) != "a001" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestContinuationRequest(t *testing.T) {
	p := newParser()
	p.Feed([]byte("* OK ready\r\n"))
	if _, _, err := p.Next(); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	p.Feed([]byte("+ send literal\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", ev, ok, err)
	}
	if ev.Kind != EventContinuationRequest {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestUntaggedResponse(t *testing.T) {
	p := newParser()
	p.Feed([]byte("* OK ready\r\n"))
	if _, _, err := p.Next(); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	p.Feed([]byte("* 172 EXISTS\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", ev, ok, err)
	}
	if ev.Kind != EventResponseBegin || ev.ResponseData.Kind != "EXISTS" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

// TestFetchWithStreamingLiteral covers the concrete scenario of a FETCH
// response whose attribute list contains a literal-bearing BODY[TEXT]
// attribute interleaved with a plain FLAGS attribute.
func TestFetchWithStreamingLiteral(t *testing.T) {
	p := newParser()
	p.Feed([]byte("* OK ready\r\n"))
	if _, _, err := p.Next(); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	p.Feed([]byte("* 1 FETCH (BODY[TEXT]<4> {3}\r\nabc FLAGS (\\Answered))\r\n"))

	ev, ok, err := p.Next()
	if err != nil || !ok || ev.Kind != EventFetchStart || ev.FetchSeq != 1 {
		t.Fatalf("FetchStart = %+v, %v, %v", ev, ok, err)
	}

	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventStreamingAttributeBegin || ev.StreamSize != 3 {
		t.Fatalf("StreamingAttributeBegin = %+v, %v, %v", ev, ok, err)
	}

	var body []byte
	for {
		ev, ok, err = p.Next()
		if err != nil || !ok {
			t.Fatalf("Next() mid-literal = %+v, %v, %v", ev, ok, err)
		}
		if ev.Kind == EventStreamingAttributeEnd {
			break
		}
		if ev.Kind != EventStreamingAttributeBytes {
			t.Fatalf("unexpected event mid-literal: %+v", ev)
		}
		body = append(body, ev.StreamBytes...)
	}
	if string(body) != "abc" {
		t.Fatalf("literal body = %q, want %q", body, "abc")
	}

	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventSimpleAttribute || ev.Attr.Kind != "FLAGS" {
		t.Fatalf("SimpleAttribute(FLAGS) = %+v, %v, %v", ev, ok, err)
	}

	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventAttributesFinish {
		t.Fatalf("AttributesFinish = %+v, %v, %v", ev, ok, err)
	}
}

func TestFetchLiteralStreamsAcrossFramerLines(t *testing.T) {
	p := New(8, 64) // small buffer forces the oversized literal into raw framer streaming
	p.Feed([]byte("* OK ready\r\n"))
	if _, _, err := p.Next(); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	p.Feed([]byte("* 1 FETCH (BODY[TEXT] {20}\r\n"))
	ev, ok, err := p.Next()
	if err != nil || !ok || ev.Kind != EventFetchStart {
		t.Fatalf("FetchStart = %+v, %v, %v", ev, ok, err)
	}
	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventStreamingAttributeBegin || ev.StreamSize != 20 {
		t.Fatalf("StreamingAttributeBegin = %+v, %v, %v", ev, ok, err)
	}

	p.Feed([]byte("01234567890123456789)\r\n"))
	var got []byte
	for len(got) < 20 {
		ev, ok, err = p.Next()
		if err != nil || !ok || ev.Kind != EventStreamingAttributeBytes {
			t.Fatalf("Next() mid-literal = %+v, %v, %v", ev, ok, err)
		}
		got = append(got, ev.StreamBytes...)
	}
	if string(got) != "01234567890123456789" {
		t.Fatalf("streamed bytes = %q", got)
	}

	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventStreamingAttributeEnd {
		t.Fatalf("StreamingAttributeEnd = %+v, %v, %v", ev, ok, err)
	}
	ev, ok, err = p.Next()
	if err != nil || !ok || ev.Kind != EventAttributesFinish {
		t.Fatalf("AttributesFinish = %+v, %v, %v", ev, ok, err)
	}
}
