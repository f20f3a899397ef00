package pipeline

import (
	"testing"
	"time"

	"spilled.ink/imapcodec/imap/grammar"
)

func TestSatisfiesEmptyRunningAlwaysSucceeds(t *testing.T) {
	reqs := []Requirement{{Kind: NoMailboxCommandsRunning}, {Kind: NoUIDBasedCommandRunning}}
	if !Satisfies(reqs, nil) {
		t.Fatalf("satisfies(R, empty) should always be true")
	}
}

func TestSatisfiesBarrierBlocksEverything(t *testing.T) {
	running := []Behavior{{Kind: Barrier}}
	if Satisfies(nil, running) {
		t.Fatalf("Barrier must block even a command with no requirements")
	}
}

func TestSatisfiesMailboxConflicts(t *testing.T) {
	req := []Requirement{{Kind: NoMailboxCommandsRunning}}
	for _, beh := range []BehaviorKind{ChangesMailboxSelection, DependsOnMailboxSelection} {
		if Satisfies(req, []Behavior{{Kind: beh}}) {
			t.Fatalf("NoMailboxCommandsRunning should conflict with behavior %v", beh)
		}
	}
	if !Satisfies(req, []Behavior{{Kind: IsUIDBased}}) {
		t.Fatalf("NoMailboxCommandsRunning should not conflict with IsUIDBased")
	}
}

func TestSatisfiesFlagSetIntersection(t *testing.T) {
	req := []Requirement{{Kind: NoFlagChanges, Flags: FlagSetOf([]byte(`\Seen`))}}
	disjoint := []Behavior{{Kind: ChangesFlags, Flags: FlagSetOf([]byte(`\Flagged`))}}
	if !Satisfies(req, disjoint) {
		t.Fatalf("disjoint flag sets should not conflict")
	}
	overlapping := []Behavior{{Kind: ChangesFlags, Flags: FlagSetOf([]byte(`\Seen`), []byte(`\Flagged`))}}
	if Satisfies(req, overlapping) {
		t.Fatalf("overlapping flag sets should conflict")
	}
	any := []Behavior{{Kind: ChangesFlags, Flags: AnyFlags()}}
	if Satisfies(req, any) {
		t.Fatalf("any flag set should always conflict")
	}
}

func TestSatisfiesMonotone(t *testing.T) {
	req := []Requirement{{Kind: NoUIDBasedCommandRunning}}
	b1 := []Behavior{{Kind: DependsOnMailboxSelection}}
	b2 := []Behavior{{Kind: ChangesMailboxSelection}}
	if !Satisfies(req, b1) || !Satisfies(req, b2) {
		t.Fatalf("precondition: satisfies(R,b1) and satisfies(R,b2) must both hold")
	}
	union := append(append([]Behavior{}, b1...), b2...)
	if !Satisfies(req, union) {
		t.Fatalf("satisfies(R,B) and satisfies(R,B') must imply satisfies(R, B union B')")
	}
}

func TestClassifyBasics(t *testing.T) {
	cases := []struct {
		cmd        *grammar.Command
		wantReqs   []RequirementKind
		wantBehavs []BehaviorKind
	}{
		{&grammar.Command{Name: "CAPABILITY"}, nil, nil},
		{&grammar.Command{Name: "NOOP"}, nil, nil},
		{&grammar.Command{Name: "LOGOUT"}, nil, []BehaviorKind{Barrier}},
		{&grammar.Command{Name: "IDLE"}, nil, []BehaviorKind{Barrier}},
		{&grammar.Command{Name: "SELECT"}, []RequirementKind{NoMailboxCommandsRunning}, []BehaviorKind{ChangesMailboxSelection}},
		{&grammar.Command{Name: "FETCH"}, []RequirementKind{NoUntaggedExpungeResponse, NoUIDBasedCommandRunning}, []BehaviorKind{DependsOnMailboxSelection}},
	}
	for _, tc := range cases {
		got := Classify(tc.cmd)
		if len(got.Requirements) != len(tc.wantReqs) {
			t.Fatalf("%s: requirements = %+v, want kinds %v", tc.cmd.Name, got.Requirements, tc.wantReqs)
		}
		for i, k := range tc.wantReqs {
			if got.Requirements[i].Kind != k {
				t.Fatalf("%s: requirement[%d] = %v, want %v", tc.cmd.Name, i, got.Requirements[i].Kind, k)
			}
		}
		if len(got.Behaviors) != len(tc.wantBehavs) {
			t.Fatalf("%s: behaviors = %+v, want kinds %v", tc.cmd.Name, got.Behaviors, tc.wantBehavs)
		}
		for i, k := range tc.wantBehavs {
			if got.Behaviors[i].Kind != k {
				t.Fatalf("%s: behavior[%d] = %v, want %v", tc.cmd.Name, i, got.Behaviors[i].Kind, k)
			}
		}
	}
}

func TestClassifyUIDFetchNoExpungeBehavior(t *testing.T) {
	cmd := &grammar.Command{Name: "FETCH", UID: true}
	got := Classify(cmd)
	for _, b := range got.Behaviors {
		if b.Kind == MayTriggerUntaggedExpunge {
			t.Fatalf("UID FETCH must not carry MayTriggerUntaggedExpunge")
		}
	}
}

func TestClassifyUIDStoreNoExpungeBehavior(t *testing.T) {
	cmd := &grammar.Command{Name: "STORE", UID: true, Store: grammar.Store{Flags: [][]byte{[]byte(`\Seen`)}}}
	got := Classify(cmd)
	for _, b := range got.Behaviors {
		if b.Kind == MayTriggerUntaggedExpunge {
			t.Fatalf("UID STORE must not carry MayTriggerUntaggedExpunge")
		}
	}
}

func TestClassifyUIDCopyTriggersExpunge(t *testing.T) {
	cmd := &grammar.Command{Name: "COPY", UID: true}
	got := Classify(cmd)
	var sawExpunge, sawUID bool
	for _, b := range got.Behaviors {
		if b.Kind == MayTriggerUntaggedExpunge {
			sawExpunge = true
		}
		if b.Kind == IsUIDBased {
			sawUID = true
		}
	}
	if !sawExpunge || !sawUID {
		t.Fatalf("UID COPY behaviors = %+v, want MayTriggerUntaggedExpunge and IsUIDBased", got.Behaviors)
	}
}

func TestClassifyStoreFlags(t *testing.T) {
	cmd := &grammar.Command{
		Name: "STORE",
		Store: grammar.Store{
			Mode:   grammar.StoreAdd,
			Silent: false,
			Flags:  [][]byte{[]byte(`\Seen`)},
		},
	}
	got := Classify(cmd)
	var sawChanges, sawReads bool
	for _, b := range got.Behaviors {
		if b.Kind == ChangesFlags {
			sawChanges = true
		}
		if b.Kind == ReadsFlags {
			sawReads = true
		}
	}
	if !sawChanges || !sawReads {
		t.Fatalf("non-silent STORE should both change and read flags: %+v", got.Behaviors)
	}

	silent := &grammar.Command{Name: "STORE", Store: grammar.Store{Silent: true, Flags: [][]byte{[]byte(`\Seen`)}}}
	got = Classify(silent)
	for _, b := range got.Behaviors {
		if b.Kind == ReadsFlags {
			t.Fatalf("STORE .SILENT should not read flags back")
		}
	}
}

func TestClassifyFetchFlagsReadsFlags(t *testing.T) {
	cmd := &grammar.Command{Name: "FETCH", FetchItems: []grammar.FetchItem{{Type: grammar.FetchFlags}}}
	got := Classify(cmd)
	found := false
	for _, b := range got.Behaviors {
		if b.Kind == ReadsFlags {
			found = true
		}
	}
	if !found {
		t.Fatalf("FETCH (FLAGS) should carry ReadsFlags: %+v", got.Behaviors)
	}
}

func TestClassifySearchFlagReference(t *testing.T) {
	cmd := &grammar.Command{
		Name: "SEARCH",
		Search: grammar.Search{
			Op: &grammar.SearchOp{Key: "AND", Children: []grammar.SearchOp{
				{Key: "SEEN"},
				{Key: "SINCE", Date: time.Now()},
			}},
		},
	}
	got := Classify(cmd)
	found := false
	for _, b := range got.Behaviors {
		if b.Kind == ReadsFlags {
			found = true
		}
	}
	if !found {
		t.Fatalf("SEARCH SEEN should read flags: %+v", got.Behaviors)
	}
}

func TestClassifySearchSeqReference(t *testing.T) {
	cmd := &grammar.Command{
		Name: "SEARCH",
		Search: grammar.Search{
			Op: &grammar.SearchOp{Key: "SEQSET", Sequences: []grammar.SeqRange{{Min: 1, Max: 5}}},
		},
	}
	got := Classify(cmd)
	hasReq := func(k RequirementKind) bool {
		for _, r := range got.Requirements {
			if r.Kind == k {
				return true
			}
		}
		return false
	}
	if !hasReq(NoUIDBasedCommandRunning) || !hasReq(NoUntaggedExpungeResponse) {
		t.Fatalf("SEARCH over a sequence set should require %v and %v, got %+v",
			NoUIDBasedCommandRunning, NoUntaggedExpungeResponse, got.Requirements)
	}
}

// TestPipeliningScenario mirrors spec.md's worked pipelining example: a
// SELECT may not be dispatched while a FETCH is still running against
// the previously selected mailbox, but a CAPABILITY may.
func TestPipeliningScenario(t *testing.T) {
	fetchRunning := Classify(&grammar.Command{Name: "FETCH"}).Behaviors

	selectReqs := Classify(&grammar.Command{Name: "SELECT"}).Requirements
	if Satisfies(selectReqs, fetchRunning) {
		t.Fatalf("SELECT must not be dispatchable while a FETCH is in flight")
	}

	capReqs := Classify(&grammar.Command{Name: "CAPABILITY"}).Requirements
	if !Satisfies(capReqs, fetchRunning) {
		t.Fatalf("CAPABILITY should always be dispatchable alongside a running FETCH")
	}
}
