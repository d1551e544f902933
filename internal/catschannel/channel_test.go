package catschannel

import "testing"

func TestAttachImpliesAllMembership(t *testing.T) {
	r := NewRegistry[int]()
	r.Attach(1, "room:1")

	if members := r.Snapshot("room:1"); len(members) != 1 || members[0] != 1 {
		t.Fatalf("room:1 members = %v", members)
	}
	if members := r.Snapshot(All); len(members) != 1 || members[0] != 1 {
		t.Fatalf("All members = %v", members)
	}
}

func TestDetachRemovesFromNamedChannelOnly(t *testing.T) {
	r := NewRegistry[int]()
	r.Attach(1, "room:1")
	r.Detach(1, "room:1")

	if members := r.Snapshot("room:1"); len(members) != 0 {
		t.Fatalf("room:1 members = %v, want empty", members)
	}
	if members := r.Snapshot(All); len(members) != 1 {
		t.Fatalf("All members = %v, want still present", members)
	}
}

func TestDetachAllClearsEveryChannel(t *testing.T) {
	r := NewRegistry[int]()
	r.Attach(1, "room:1")
	r.Attach(1, "room:2")
	r.DetachAll(1)

	for _, ch := range []string{"room:1", "room:2", All} {
		if members := r.Snapshot(ch); len(members) != 0 {
			t.Fatalf("%s members = %v, want empty", ch, members)
		}
	}
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	r := NewRegistry[int]()
	r.Attach(1, "room:1")
	snap := r.Snapshot("room:1")
	r.Attach(2, "room:1")

	if len(snap) != 1 {
		t.Fatalf("snapshot mutated after later Attach: %v", snap)
	}
}
