package cursor

import (
	"errors"
	"testing"
)

func TestReadByteIncomplete(t *testing.T) {
	c := New([]byte("ab"))
	if b, err := c.ReadByte(); err != nil || b != 'a' {
		t.Fatalf("ReadByte() = %q, %v", b, err)
	}
	if b, err := c.ReadByte(); err != nil || b != 'b' {
		t.Fatalf("ReadByte() = %q, %v", b, err)
	}
	if _, err := c.ReadByte(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("ReadByte() at end: err = %v, want ErrIncomplete", err)
	}
}

func TestMarkReset(t *testing.T) {
	c := New([]byte("hello"))
	m := c.Mark()
	c.Advance(3)
	if c.Pos() != 3 {
		t.Fatalf("Pos() = %d, want 3", c.Pos())
	}
	c.Reset(m)
	if c.Pos() != 0 {
		t.Fatalf("Pos() after Reset = %d, want 0", c.Pos())
	}
}

func TestReadNIncomplete(t *testing.T) {
	c := New([]byte("abc"))
	if _, err := c.ReadN(4); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("ReadN(4) err = %v, want ErrIncomplete", err)
	}
	if c.Pos() != 0 {
		t.Fatalf("ReadN must not consume on failure, pos = %d", c.Pos())
	}
	b, err := c.ReadN(3)
	if err != nil || string(b) != "abc" {
		t.Fatalf("ReadN(3) = %q, %v", b, err)
	}
}

func TestDepthLimit(t *testing.T) {
	d := NewDepth(2)
	if err := d.Enter(); err != nil {
		t.Fatalf("Enter 1: %v", err)
	}
	if err := d.Enter(); err != nil {
		t.Fatalf("Enter 2: %v", err)
	}
	if err := d.Enter(); !errors.Is(err, ErrTooDeep) {
		t.Fatalf("Enter 3 err = %v, want ErrTooDeep", err)
	}
	d.Exit()
	d.Exit()
	if err := d.Enter(); err != nil {
		t.Fatalf("Enter after Exit: %v", err)
	}
}

func TestSyntaxErrorMessage(t *testing.T) {
	c := New([]byte("xyz"))
	c.Advance(1)
	err := Invalid(c, "unexpected %q", 'x')
	se, ok := err.(*SyntaxError)
	if !ok {
		t.Fatalf("Invalid() returned %T, want *SyntaxError", err)
	}
	if se.Offset != 1 {
		t.Fatalf("Offset = %d, want 1", se.Offset)
	}
}
