// Package grammar implements the RFC 3501 (IMAP4rev1) grammar as a
// recursive-descent parser over cursor.Cursor, producing a Command or
// Response AST. Every production either succeeds having consumed input,
// fails with cursor.ErrIncomplete (more bytes may complete it), or fails
// with a *cursor.SyntaxError (the input can never be completed into a
// valid production).
package grammar

import (
	"time"

	"crawshaw.io/iox"
)

// Command is the parsed form of a single client command line (plus any
// inlined literal bytes the framer already folded into it). Only the
// fields relevant to Name are populated; see the per-field comments.
type Command struct {
	Tag  []byte
	Name string

	// UID means the command response will report UIDs instead of
	// sequence numbers. Name is one of: COPY, EXPUNGE, FETCH, MOVE, SEARCH,
	// STORE.
	UID bool

	// Name is one of:
	//	SELECT, EXAMINE, SUBSCRIBE, UNSUBSCRIBE, CREATE, DELETE,
	//	STATUS, APPEND, COPY, MOVE
	Mailbox []byte

	// Name is one of: SELECT, EXAMINE
	Condstore bool
	Qresync   QresyncParam

	// Name is one of: FETCH, STORE, COPY, MOVE, EXPUNGE (UID EXPUNGE)
	Sequences []SeqRange

	// Name: APPEND. Set by the command package when it emits the APPEND
	// command, before the literal arrives; the literal's bytes are
	// written to it as they stream in. The grammar package never
	// allocates or writes to this field itself.
	Literal *iox.BufferFile

	Rename struct { // Name: RENAME
		OldMailbox []byte
		NewMailbox []byte
	}

	// Params holds opaque repeated astring/atom arguments, shaped
	// per-command:
	//	ENABLE, ID: one entry each.
	//	SETQUOTA: (resource-name, limit) pairs.
	//	GETMETADATA, SETMETADATA: entry names (SETMETADATA interleaves
	//	  each entry with its nstring value, nil for NIL).
	//	GENURLAUTH: (url-rump, mechanism) pairs.
	//	RESETKEY: one mechanism atom each.
	Params [][]byte

	Auth struct { // Name: LOGIN (AUTHENTICATE leaves it empty; see InitialResponse)
		Username []byte
		Password []byte
	}

	List List // Name is one of: LIST, LSUB

	Status struct { // Name: STATUS
		Items []StatusItem
	}

	Append struct { // Name: APPEND
		Flags [][]byte
		Date  []byte
	}

	FetchItems   []FetchItem // Name: FETCH
	ChangedSince int64       // Name: FETCH (CONDSTORE)
	Vanished     bool        // Name: FETCH (QRESYNC)

	Store Store // Name: STORE

	Search Search // Name: SEARCH

	ApplePushService *ApplePushService // Name: XAPPLEPUSHSERVICE

	// Mechanism is set when Name is AUTHENTICATE; InitialResponse holds
	// the optional SASL-initial-response, still base64-encoded.
	Mechanism       string
	InitialResponse []byte
	HasInitialResp  bool

	// appendLiteralLen/appendLiteralSync record the declared size and
	// sync-ness of APPEND's message literal header, parsed but not yet
	// consumed; the command package reads these to decide whether the
	// literal body already follows in full or must be drained from the
	// framer's streaming mode.
	appendLiteralLen  int64
	appendLiteralSync bool
}

// AppendLiteralHeader returns the size and sync-ness parsed from an
// APPEND command's message literal header. Only meaningful when Name is
// APPEND.
func (c *Command) AppendLiteralHeader() (size int64, sync bool) {
	return c.appendLiteralLen, c.appendLiteralSync
}

type List struct {
	ReferenceName []byte
	MailboxGlob   []byte

	// RFC 5258 LIST-EXTENDED fields.
	SelectOptions []string // SUBSCRIBED, REMOTE, RECURSIVEMATCH, SPECIAL-USE
	ReturnOptions []string // SUBSCRIBED, CHILDREN, SPECIAL-USE, STATUS
	StatusItems   []StatusItem
}

type QresyncParam struct {
	UIDValidity      uint32
	ModSeq           int64
	UIDs             []SeqRange
	KnownSeqNumMatch []SeqRange
	KnownUIDMatch    []SeqRange
}

type Store struct {
	Mode           StoreMode
	Silent         bool
	Flags          [][]byte
	UnchangedSince int64
}

type ApplePushService struct {
	Mailboxes []string
	Version   int
	Subtopic  string
	Device    ApplePushDevice
}

type ApplePushDevice struct {
	AccountID   string
	DeviceToken string // hex-encoded
}

type StoreMode int

const (
	StoreUnknown StoreMode = iota
	StoreAdd               // +FLAGS
	StoreRemove            // -FLAGS
	StoreReplace           //  FLAGS
)

func (s StoreMode) String() string {
	switch s {
	case StoreAdd:
		return "+FLAGS"
	case StoreRemove:
		return "-FLAGS"
	case StoreReplace:
		return "FLAGS"
	default:
		return "StoreUnknown"
	}
}

type StatusItem int

const (
	StatusUnknownItem StatusItem = iota
	StatusMessages
	StatusRecent
	StatusUIDNext
	StatusUIDValidity
	StatusUnseen
	StatusHighestModSeq
)

// SeqRange is a normalized IMAP seq-range: Min is always <= Max once
// normalized. 0 is a placeholder for '*'. Min == Max refers to a single
// value.
type SeqRange struct {
	Min uint32
	Max uint32
}

// AppendSeqRange appends v to seqs, merging it into the last range when
// it extends it contiguously.
func AppendSeqRange(seqs []SeqRange, v uint32) []SeqRange {
	if len(seqs) > 0 && v > 0 {
		last := &seqs[len(seqs)-1]
		if last.Min > last.Max {
			last.Min, last.Max = last.Max, last.Min
		}
		if last.Max > 0 && last.Max == v-1 {
			last.Max++
			return seqs
		}
	}
	return append(seqs, SeqRange{Min: v, Max: v})
}

type FetchItem struct {
	Type    FetchItemType
	Peek    bool             // BODY.PEEK
	Section FetchItemSection // Type is FetchBody or FetchBinarySize
	Partial struct {
		Start  uint32
		Length uint32
	}
	Binary bool // Type is FetchBody and the item was BINARY/BINARY.PEEK
}

type FetchItemSection struct {
	Path    []uint16
	Name    string // One of: "", HEADER, HEADER.FIELDS[.NOT], TEXT, MIME
	Headers [][]byte
}

type FetchItemType string

const (
	FetchUnknown = FetchItemType("FetchUnknown")

	FetchAll  = FetchItemType("ALL") // macro items, only fetch item in list
	FetchFull = FetchItemType("FULL")
	FetchFast = FetchItemType("FAST")

	FetchEnvelope      = FetchItemType("ENVELOPE")
	FetchFlags         = FetchItemType("FLAGS")
	FetchInternalDate  = FetchItemType("INTERNALDATE")
	FetchRFC822Header  = FetchItemType("RFC822.HEADER")
	FetchRFC822Size    = FetchItemType("RFC822.SIZE")
	FetchRFC822Text    = FetchItemType("RFC822.TEXT")
	FetchUID           = FetchItemType("UID")
	FetchBodyStructure = FetchItemType("BODYSTRUCTURE")
	FetchBody          = FetchItemType("BODY")
	FetchModSeq        = FetchItemType("MODSEQ")
	FetchBinarySize    = FetchItemType("BINARY.SIZE")
)

type Search struct {
	Op      *SearchOp
	Charset string
	Return  []string // MIN, MAX, ALL, COUNT, SAVE (ESEARCH RETURN options)
}

type SearchOp struct {
	// Key is an IMAP search key. Two keys are defined beyond RFC 3501:
	//
	//	- AND: every element of Children must match. Gives the whole
	//	  search command a single top-level SearchOp.
	//	- SEQSET: a match against sequence IDs, naming the implicit
	//	  <sequence-set> grammar production.
	Key SearchKey

	// Children is set when Key is one of: AND, OR, NOT.
	// For NOT, len(Children) == 1.
	Children []SearchOp

	// Value is set when Key is one of:
	//	BCC, CC, FROM, HEADER ("<field-name>: <string>"),
	//	KEYWORD, UNKEYWORD, SUBJECT, TEXT, TO, FILTER
	Value string

	Num       int64      // Key is one of: LARGER, SMALLER, MODSEQ, OLDER, YOUNGER
	Sequences []SeqRange // Key is one of: SEQSET, UID, UNDRAFT

	Date time.Time // Key is one of: BEFORE, ON, SENTBEFORE, SENTON, SENTSINCE, SINCE
}

type SearchKey string

type Mode int

const (
	ModeNonAuth Mode = iota
	ModeAuth
	ModeSelected
)
