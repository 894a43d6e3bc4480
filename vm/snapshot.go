package vm

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Heap snapshots: CBOR serialization of the entire VM heap
// ---------------------------------------------------------------------------

// SnapshotVersion is the current snapshot format version.
// v1: initial format (objects, roots, threshold)
const SnapshotVersion uint32 = 1

// Errors surfaced when decoding a snapshot.
var (
	ErrSnapshotVersion      = errors.New("snapshot version mismatch")
	ErrInvalidObjectIndex   = errors.New("invalid object index in snapshot")
	ErrInvalidRootIndex     = errors.New("invalid root index in snapshot")
	ErrInvalidSnapshotKind  = errors.New("invalid object kind in snapshot")
	ErrSnapshotRootOverflow = errors.New("snapshot roots exceed stack capacity")
)

// snapshotNoField marks an unassigned pair field in serialized form.
const snapshotNoField int32 = -1

// ObjectRecord is the serialized form of one heap object. Pair fields are
// registry indices (position in the Objects slice), so shared structure and
// cycles survive a round trip.
type ObjectRecord struct {
	Kind  uint8 `cbor:"1,keyasint"`
	Value int32 `cbor:"2,keyasint"`
	Head  int32 `cbor:"3,keyasint"`
	Tail  int32 `cbor:"4,keyasint"`
}

// Snapshot is a complete serialized heap: every registry object in
// registry order (newest first), the root stack as indices into Objects
// (bottom first), and the collection threshold in effect.
type Snapshot struct {
	Version   uint32         `cbor:"1,keyasint"`
	Objects   []ObjectRecord `cbor:"2,keyasint"`
	Roots     []int32        `cbor:"3,keyasint"`
	Threshold int32          `cbor:"4,keyasint"`
	Capacity  int32          `cbor:"5,keyasint"`
}

// cborEncMode uses canonical options for deterministic encoding, so equal
// heaps produce byte-identical snapshots.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// TakeSnapshot captures the current heap as a Snapshot value.
func (vm *VM) TakeSnapshot() *Snapshot {
	// Assign each object its registry position.
	index := make(map[*Object]int32, vm.liveCount)
	pos := int32(0)
	vm.ForEachObject(func(obj *Object) {
		index[obj] = pos
		pos++
	})

	records := make([]ObjectRecord, 0, vm.liveCount)
	vm.ForEachObject(func(obj *Object) {
		rec := ObjectRecord{Kind: uint8(obj.kind)}
		switch obj.kind {
		case KindInt:
			rec.Value = obj.Value
			rec.Head = snapshotNoField
			rec.Tail = snapshotNoField
		case KindPair:
			rec.Head = fieldIndex(index, obj.Head)
			rec.Tail = fieldIndex(index, obj.Tail)
		}
		records = append(records, rec)
	})

	roots := make([]int32, 0, vm.StackSize())
	for _, root := range vm.Roots() {
		roots = append(roots, index[root])
	}

	return &Snapshot{
		Version:   SnapshotVersion,
		Objects:   records,
		Roots:     roots,
		Threshold: int32(vm.threshold),
		Capacity:  int32(vm.capacity),
	}
}

func fieldIndex(index map[*Object]int32, obj *Object) int32 {
	if obj == nil {
		return snapshotNoField
	}
	return index[obj]
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersion, s.Version, SnapshotVersion)
	}
	return &s, nil
}

// WriteSnapshotFile captures the heap and writes it to path as CBOR.
func (vm *VM) WriteSnapshotFile(path string) error {
	data, err := MarshalSnapshot(vm.TakeSnapshot())
	if err != nil {
		return fmt.Errorf("vm: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("vm: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotFile reads a CBOR snapshot from path and restores a VM
// from it.
func ReadSnapshotFile(path string) (*VM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vm: read snapshot: %w", err)
	}
	s, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	return RestoreVM(s)
}

// RestoreVM builds a fresh VM whose heap, root stack, and threshold match
// the snapshot. Shared structure and cycles are rebuilt exactly: two
// records referencing the same index come back referencing the same object.
func RestoreVM(s *Snapshot) (*VM, error) {
	capacity := int(s.Capacity)
	if capacity <= 0 {
		capacity = DefaultStackCapacity
	}
	if len(s.Roots) > capacity {
		return nil, ErrSnapshotRootOverflow
	}

	restored := NewVMWithConfig(Config{StackCapacity: capacity})
	// Assign the threshold directly: the config path treats zero as
	// "use the default", but zero is a legitimate post-collection
	// threshold that must survive a round trip.
	restored.threshold = int(s.Threshold)

	// First pass: allocate every object so indices resolve; registry
	// order is newest first, so allocate in reverse to reproduce it.
	objects := make([]*Object, len(s.Objects))
	for i := len(s.Objects) - 1; i >= 0; i-- {
		rec := s.Objects[i]
		kind := ObjectKind(rec.Kind)
		if kind != KindInt && kind != KindPair {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSnapshotKind, rec.Kind)
		}
		obj, err := restored.allocate(kind)
		if err != nil {
			return nil, err
		}
		objects[i] = obj
	}

	// Second pass: fill in values and resolve pair fields.
	for i, rec := range s.Objects {
		obj := objects[i]
		switch obj.kind {
		case KindInt:
			obj.Value = rec.Value
		case KindPair:
			head, err := resolveField(objects, rec.Head)
			if err != nil {
				return nil, err
			}
			tail, err := resolveField(objects, rec.Tail)
			if err != nil {
				return nil, err
			}
			obj.Head = head
			obj.Tail = tail
		}
	}

	// Root stack, bottom first.
	for _, idx := range s.Roots {
		if idx < 0 || int(idx) >= len(objects) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidRootIndex, idx)
		}
		if err := restored.Push(objects[idx]); err != nil {
			return nil, err
		}
	}

	return restored, nil
}

func resolveField(objects []*Object, idx int32) (*Object, error) {
	if idx == snapshotNoField {
		return nil, nil
	}
	if idx < 0 || int(idx) >= len(objects) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidObjectIndex, idx)
	}
	return objects[idx], nil
}
