package devices

import "testing"

func sample() Snapshot {
	return Snapshot{
		{ID: "1", UID: "uid-a", Name: "A", Class: Output, Connected: true},
		{ID: "2", UID: "uid-b", Name: "B", Class: Output, Connected: false},
		{ID: "3", UID: "uid-c", Name: "C", Class: Output, Connected: true},
	}
}

func TestSnapshotUIDs(t *testing.T) {
	uids := sample().UIDs()
	want := []string{"uid-a", "uid-b", "uid-c"}
	for i, uid := range want {
		if uids[i] != uid {
			t.Fatalf("UIDs()[%d] = %q, want %q", i, uids[i], uid)
		}
	}
}

func TestSnapshotFind(t *testing.T) {
	s := sample()

	if d, ok := s.FindUID("uid-b"); !ok || d.Name != "B" {
		t.Fatalf("FindUID(uid-b) = %+v, %v", d, ok)
	}
	if _, ok := s.FindUID("uid-missing"); ok {
		t.Fatal("FindUID should miss on unknown uid")
	}
	if d, ok := s.FindID("3"); !ok || d.UID != "uid-c" {
		t.Fatalf("FindID(3) = %+v, %v", d, ok)
	}
	if _, ok := s.FindID("99"); ok {
		t.Fatal("FindID should miss on unknown handle")
	}
}

func TestSnapshotConnected(t *testing.T) {
	connected := sample().Connected()
	if len(connected) != 2 {
		t.Fatalf("want 2 connected devices, got %d", len(connected))
	}
	for _, d := range connected {
		if !d.Connected {
			t.Fatalf("disconnected device %s in Connected()", d.UID)
		}
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	s := sample()
	c := s.Clone()
	c[0].Name = "changed"

	if s[0].Name != "A" {
		t.Fatal("Clone must not share backing storage")
	}

	var nilSnap Snapshot
	if nilSnap.Clone() != nil {
		t.Fatal("Clone of nil snapshot should stay nil")
	}
}
