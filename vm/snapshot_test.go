package vm

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

// TestSnapshotRoundTrip verifies a heap with shared structure survives
// marshal and restore with its shape intact.
func TestSnapshotRoundTrip(t *testing.T) {
	vm := NewVM()
	defer vm.Close()

	vm.PushInt(1)
	vm.PushInt(2)
	vm.PushPair()
	vm.PushInt(3)
	vm.PushPair()

	data, err := MarshalSnapshot(vm.TakeSnapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	s, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	restored, err := RestoreVM(s)
	if err != nil {
		t.Fatalf("RestoreVM: %v", err)
	}
	defer restored.Close()

	if restored.LiveCount() != vm.LiveCount() {
		t.Errorf("Restored liveCount: %d, want %d", restored.LiveCount(), vm.LiveCount())
	}
	if restored.StackSize() != vm.StackSize() {
		t.Errorf("Restored stack size: %d, want %d", restored.StackSize(), vm.StackSize())
	}
	if restored.Threshold() != vm.Threshold() {
		t.Errorf("Restored threshold: %d, want %d", restored.Threshold(), vm.Threshold())
	}

	// Walk the restored root: Pair(Int(3), Pair(Int(2), Int(1))).
	root, err := restored.Pop()
	if err != nil {
		t.Fatalf("Pop on restored VM: %v", err)
	}
	if root.Kind() != KindPair || root.Head.Value != 3 {
		t.Fatalf("Restored root head: %s", root)
	}
	inner := root.Tail
	if inner.Kind() != KindPair || inner.Head.Value != 2 || inner.Tail.Value != 1 {
		t.Errorf("Restored inner pair: %s", inner)
	}
}

// TestSnapshotPreservesCycles verifies cyclic and shared references come
// back as the same objects, not copies.
func TestSnapshotPreservesCycles(t *testing.T) {
	vm := NewVM()
	defer vm.Close()

	vm.PushInt(1)
	vm.PushInt(2)
	a, _ := vm.PushPair()
	vm.PushInt(3)
	vm.PushInt(4)
	b, _ := vm.PushPair()
	a.Tail = b
	b.Tail = a

	restored, err := RestoreVM(vm.TakeSnapshot())
	if err != nil {
		t.Fatalf("RestoreVM: %v", err)
	}
	defer restored.Close()

	// Stack bottom-up was [a, b]: pop b first.
	rb, _ := restored.Pop()
	ra, _ := restored.Pop()
	if ra.Tail != rb {
		t.Errorf("Restored a.Tail is not the restored b")
	}
	if rb.Tail != ra {
		t.Errorf("Restored b.Tail is not the restored a")
	}

	// A collection on the restored heap behaves as on the original.
	restored.Push(ra)
	restored.Push(rb)
	stats := restored.Collect()
	if stats.Remaining != 4 {
		t.Errorf("Restored heap after collect: %d objects, want 4", stats.Remaining)
	}
}

// TestSnapshotPreservesZeroThreshold verifies a threshold of zero, the
// state after collecting an empty heap, survives a round trip instead of
// being swallowed by construction defaulting.
func TestSnapshotPreservesZeroThreshold(t *testing.T) {
	vm := NewVM()
	defer vm.Close()

	vm.PushInt(1)
	vm.Pop()
	vm.Collect()
	if vm.Threshold() != 0 {
		t.Fatalf("Threshold after empty collect: %d, want 0", vm.Threshold())
	}
	if !vm.NeedsCollection() {
		t.Fatalf("NeedsCollection with zero threshold: got false")
	}

	restored, err := RestoreVM(vm.TakeSnapshot())
	if err != nil {
		t.Fatalf("RestoreVM: %v", err)
	}
	defer restored.Close()

	if restored.Threshold() != 0 {
		t.Errorf("Restored threshold: %d, want 0", restored.Threshold())
	}
	if !restored.NeedsCollection() {
		t.Errorf("Restored NeedsCollection: got false, want true")
	}
}

// TestSnapshotRecordFieldsExplicit verifies every record field is encoded
// and decoded as written, including the -1 sentinel on leaf objects, so
// the layout does not depend on zero values surviving omission.
func TestSnapshotRecordFieldsExplicit(t *testing.T) {
	vm := NewVM()
	defer vm.Close()

	vm.PushInt(0) // zero value must round-trip too

	data, err := MarshalSnapshot(vm.TakeSnapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	s, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}

	if len(s.Objects) != 1 {
		t.Fatalf("Got %d records, want 1", len(s.Objects))
	}
	rec := s.Objects[0]
	if rec.Value != 0 {
		t.Errorf("Decoded Value: %d, want 0", rec.Value)
	}
	if rec.Head != snapshotNoField || rec.Tail != snapshotNoField {
		t.Errorf("Decoded leaf fields: head %d, tail %d, want %d", rec.Head, rec.Tail, snapshotNoField)
	}
}

// TestSnapshotDeterministic verifies canonical encoding: the same heap
// marshals to identical bytes.
func TestSnapshotDeterministic(t *testing.T) {
	vm := NewVM()
	defer vm.Close()

	vm.PushInt(5)
	vm.PushInt(6)
	vm.PushPair()

	first, err := MarshalSnapshot(vm.TakeSnapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	second, err := MarshalSnapshot(vm.TakeSnapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("Snapshots of an unchanged heap differ")
	}
}

// TestSnapshotVersionMismatch verifies decoding rejects unknown versions.
func TestSnapshotVersionMismatch(t *testing.T) {
	vm := NewVM()
	defer vm.Close()
	vm.PushInt(1)

	s := vm.TakeSnapshot()
	s.Version = SnapshotVersion + 1
	data, err := MarshalSnapshot(s)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	if _, err := UnmarshalSnapshot(data); !errors.Is(err, ErrSnapshotVersion) {
		t.Errorf("Unmarshal of future version: got %v, want ErrSnapshotVersion", err)
	}
}

// TestSnapshotInvalidIndices verifies restore rejects out-of-range object
// and root references.
func TestSnapshotInvalidIndices(t *testing.T) {
	vm := NewVM()
	defer vm.Close()
	vm.PushInt(1)
	vm.PushInt(2)
	vm.PushPair()

	s := vm.TakeSnapshot()
	s.Objects[0].Head = 99
	if _, err := RestoreVM(s); !errors.Is(err, ErrInvalidObjectIndex) {
		t.Errorf("Restore with bad field index: got %v, want ErrInvalidObjectIndex", err)
	}

	s = vm.TakeSnapshot()
	s.Roots[0] = 99
	if _, err := RestoreVM(s); !errors.Is(err, ErrInvalidRootIndex) {
		t.Errorf("Restore with bad root index: got %v, want ErrInvalidRootIndex", err)
	}

	s = vm.TakeSnapshot()
	s.Objects[0].Kind = 9
	if _, err := RestoreVM(s); !errors.Is(err, ErrInvalidSnapshotKind) {
		t.Errorf("Restore with bad kind: got %v, want ErrInvalidSnapshotKind", err)
	}
}

// TestSnapshotFileRoundTrip verifies the file helpers end to end.
func TestSnapshotFileRoundTrip(t *testing.T) {
	vm := NewVM()
	defer vm.Close()
	vm.PushInt(11)
	vm.PushInt(12)
	vm.PushPair()

	path := filepath.Join(t.TempDir(), "heap.cbor")
	if err := vm.WriteSnapshotFile(path); err != nil {
		t.Fatalf("WriteSnapshotFile: %v", err)
	}

	restored, err := ReadSnapshotFile(path)
	if err != nil {
		t.Fatalf("ReadSnapshotFile: %v", err)
	}
	defer restored.Close()

	if restored.LiveCount() != 3 {
		t.Errorf("Restored liveCount: %d, want 3", restored.LiveCount())
	}
	root, _ := restored.Pop()
	if root.Kind() != KindPair || root.Head.Value != 12 || root.Tail.Value != 11 {
		t.Errorf("Restored root: %s", root)
	}
}
