// Package pipeline implements the pipelining-policy engine from spec.md
// §4.6: a pure function over a candidate command's requirements and the
// behaviors of currently-running commands that decides whether the
// candidate may be dispatched now, plus the classification table that
// derives those sets from a parsed grammar.Command.
package pipeline

import "spilled.ink/imapcodec/imap/grammar"

// RequirementKind names one condition a command needs of the connection
// state before it may be dispatched.
type RequirementKind int

const (
	NoMailboxCommandsRunning RequirementKind = iota
	NoUntaggedExpungeResponse
	NoUIDBasedCommandRunning
	NoFlagChanges
	NoFlagReads
)

// BehaviorKind names one effect a running command has on connection
// state while it is in flight.
type BehaviorKind int

const (
	Barrier BehaviorKind = iota
	ChangesMailboxSelection
	DependsOnMailboxSelection
	MayTriggerUntaggedExpunge
	IsUIDBased
	ChangesFlags
	ReadsFlags
)

// FlagSet is the target-flag argument to NoFlagChanges/NoFlagReads and
// ChangesFlags/ReadsFlags. Any, once set, intersects with every other
// FlagSet, matching the "any" sentinel spec.md §4.6 describes.
type FlagSet struct {
	Any   bool
	Flags map[string]bool
}

// AnyFlags is the FlagSet that intersects with every other FlagSet.
func AnyFlags() FlagSet { return FlagSet{Any: true} }

// FlagSetOf builds a FlagSet out of concrete flag names.
func FlagSetOf(flags ...[]byte) FlagSet {
	fs := FlagSet{Flags: make(map[string]bool, len(flags))}
	for _, f := range flags {
		fs.Flags[string(f)] = true
	}
	return fs
}

func (a FlagSet) intersects(b FlagSet) bool {
	if a.Any || b.Any {
		return true
	}
	for f := range a.Flags {
		if b.Flags[f] {
			return true
		}
	}
	return false
}

// Requirement is one entry in a candidate command's requirement set.
// Flags is only meaningful for NoFlagChanges/NoFlagReads.
type Requirement struct {
	Kind  RequirementKind
	Flags FlagSet
}

// Behavior is one entry in a running command's behavior set. Flags is
// only meaningful for ChangesFlags/ReadsFlags.
type Behavior struct {
	Kind  BehaviorKind
	Flags FlagSet
}

// Satisfies reports whether every requirement is compatible with every
// behavior of the commands currently running, per spec.md §4.6's
// conflict table. A running Barrier fails every candidate, including
// one with no requirements. It is a pure function: it never mutates its
// inputs.
func Satisfies(requirements []Requirement, running []Behavior) bool {
	for _, beh := range running {
		if beh.Kind == Barrier {
			return false
		}
	}
	for _, req := range requirements {
		for _, beh := range running {
			if conflicts(req, beh) {
				return false
			}
		}
	}
	return true
}

func conflicts(req Requirement, beh Behavior) bool {
	if beh.Kind == Barrier {
		return true
	}
	switch req.Kind {
	case NoMailboxCommandsRunning:
		return beh.Kind == ChangesMailboxSelection || beh.Kind == DependsOnMailboxSelection
	case NoUntaggedExpungeResponse:
		return beh.Kind == MayTriggerUntaggedExpunge
	case NoUIDBasedCommandRunning:
		return beh.Kind == IsUIDBased
	case NoFlagChanges:
		return beh.Kind == ChangesFlags && req.Flags.intersects(beh.Flags)
	case NoFlagReads:
		return beh.Kind == ReadsFlags && req.Flags.intersects(beh.Flags)
	}
	return false
}

// Classification is the (requirements, behaviors) pair a candidate
// command carries, computed once at classify time and held alongside
// it by the caller's scheduler for the command's whole lifetime: the
// requirements gate its own dispatch, the behaviors gate every other
// command's dispatch while it runs.
type Classification struct {
	Requirements []Requirement
	Behaviors    []Behavior
}

// byFlagReferencing is the set of SEARCH keys that read message flags.
var byFlagReferencing = map[string]bool{
	"ANSWERED": true, "DELETED": true, "DRAFT": true, "FLAGGED": true,
	"NEW": true, "OLD": true, "RECENT": true, "SEEN": true,
	"UNANSWERED": true, "UNDELETED": true, "UNDRAFT": true,
	"UNFLAGGED": true, "UNSEEN": true, "KEYWORD": true, "UNKEYWORD": true,
}

// Classify derives cmd's (requirements, behaviors) pair per spec.md
// §4.6's classification table.
func Classify(cmd *grammar.Command) Classification {
	var cl Classification
	req := func(k RequirementKind) { cl.Requirements = append(cl.Requirements, Requirement{Kind: k}) }
	beh := func(k BehaviorKind) { cl.Behaviors = append(cl.Behaviors, Behavior{Kind: k}) }
	behFlags := func(k BehaviorKind, fs FlagSet) {
		cl.Behaviors = append(cl.Behaviors, Behavior{Kind: k, Flags: fs})
	}

	switch cmd.Name {
	case "CAPABILITY", "NOOP":
		// No requirements, no behaviors.

	case "LOGOUT":
		beh(Barrier)

	case "STARTTLS", "AUTHENTICATE", "COMPRESS", "IDLE":
		beh(Barrier)

	case "SELECT", "EXAMINE", "UNSELECT", "CLOSE":
		req(NoMailboxCommandsRunning)
		beh(ChangesMailboxSelection)

	case "FETCH", "STORE", "COPY", "MOVE":
		req(NoUntaggedExpungeResponse)
		req(NoUIDBasedCommandRunning)
		beh(DependsOnMailboxSelection)

		if cmd.UID {
			beh(IsUIDBased)
			if cmd.Name != "FETCH" && cmd.Name != "STORE" {
				beh(MayTriggerUntaggedExpunge)
			}
		}

		if cmd.Name == "STORE" {
			flags := FlagSetOf(cmd.Store.Flags...)
			behFlags(ChangesFlags, flags)
			if !cmd.Store.Silent {
				behFlags(ReadsFlags, flags)
			}
		}
		if cmd.Name == "FETCH" && fetchRequestsFlags(cmd) {
			behFlags(ReadsFlags, AnyFlags())
		}

	case "EXPUNGE":
		if cmd.UID {
			req(NoUntaggedExpungeResponse)
			req(NoUIDBasedCommandRunning)
			beh(DependsOnMailboxSelection)
			beh(IsUIDBased)
			beh(MayTriggerUntaggedExpunge)
		} else {
			beh(MayTriggerUntaggedExpunge)
		}

	case "SEARCH":
		if cmd.UID {
			beh(IsUIDBased)
		}
		readsFlags, referencesUID, referencesSeq := searchReferences(cmd.Search.Op)
		if readsFlags {
			behFlags(ReadsFlags, AnyFlags())
		}
		if referencesUID {
			beh(IsUIDBased)
		}
		if referencesSeq {
			req(NoUIDBasedCommandRunning)
			req(NoUntaggedExpungeResponse)
		}

	case "XAPPLEPUSHSERVICE", "ENABLE", "ID", "NAMESPACE", "LIST", "LSUB",
		"STATUS", "APPEND", "CHECK", "CREATE", "DELETE", "RENAME",
		"SUBSCRIBE", "UNSUBSCRIBE", "GETQUOTA", "GETQUOTAROOT",
		"SETQUOTA", "GETMETADATA", "SETMETADATA", "GENURLAUTH", "RESETKEY":
		// No requirements, no behaviors: none of these depend on or
		// change mailbox selection, flags, or UID/sequence state.
	}

	return cl
}

func fetchRequestsFlags(cmd *grammar.Command) bool {
	for _, it := range cmd.FetchItems {
		switch it.Type {
		case grammar.FetchFlags, grammar.FetchAll, grammar.FetchFull, grammar.FetchFast:
			return true
		}
	}
	return false
}

// searchReferences walks a SEARCH command's key tree, reporting whether
// any key references flags, UIDs, or bare sequence numbers.
func searchReferences(op *grammar.SearchOp) (flags, uid, seq bool) {
	if op == nil {
		return false, false, false
	}
	if byFlagReferencing[string(op.Key)] {
		flags = true
	}
	switch op.Key {
	case "UID":
		uid = true
	case "SEQSET", "UNDRAFT":
		seq = true
	}
	for _, child := range op.Children {
		f, u, s := searchReferences(&child)
		flags = flags || f
		uid = uid || u
		seq = seq || s
	}
	return flags, uid, seq
}
