package vm

import "fmt"

// ---------------------------------------------------------------------------
// Object: tagged heap node
// ---------------------------------------------------------------------------

// ObjectKind discriminates the two object shapes the heap supports.
type ObjectKind uint8

const (
	// KindInt is a leaf object holding a 32-bit integer. It has no
	// outgoing references.
	KindInt ObjectKind = iota

	// KindPair is a compound object holding two references. Pairs may
	// reference each other and form cycles.
	KindPair
)

// KindName returns a human-readable name for the kind.
func (k ObjectKind) KindName() string {
	switch k {
	case KindInt:
		return "Int"
	case KindPair:
		return "Pair"
	default:
		return "?"
	}
}

// Object represents a heap-allocated Pebble object.
//
// Every object lives on exactly one VM's allocation registry, an intrusive
// singly-linked list threaded through the next field. The registry owns the
// object; the root stack and other pairs hold references, never ownership.
type Object struct {
	kind ObjectKind

	// Value is meaningful only for KindInt.
	Value int32

	// Head and Tail are meaningful only for KindPair. Once assigned they
	// are non-nil references to other objects on the same registry.
	Head *Object
	Tail *Object

	// marked is transient collection state. Outside a running collection
	// it is always false; sweep clears it on every survivor.
	marked bool

	// next threads the allocation registry. It is mutated only by
	// allocate and sweep.
	next *Object
}

// Kind returns the object's shape discriminator.
func (obj *Object) Kind() ObjectKind {
	return obj.kind
}

// IsMarked reports the transient mark bit. It is false outside a running
// collection; tests use it to assert the post-sweep reset.
func (obj *Object) IsMarked() bool {
	return obj.marked
}

// ForEachChild calls fn for each outgoing reference of the object.
// Int objects have none; pairs have head then tail. Unassigned pair fields
// are skipped. This is the single traversal point used by marking,
// inspection, and snapshots.
func (obj *Object) ForEachChild(fn func(child *Object)) {
	switch obj.kind {
	case KindInt:
		// leaf
	case KindPair:
		if obj.Head != nil {
			fn(obj.Head)
		}
		if obj.Tail != nil {
			fn(obj.Tail)
		}
	default:
		panic(fmt.Sprintf("Object.ForEachChild: unknown kind %d", obj.kind))
	}
}

// String renders a short description for diagnostics. Pair fields are shown
// one level deep to keep cyclic structures printable.
func (obj *Object) String() string {
	switch obj.kind {
	case KindInt:
		return fmt.Sprintf("Int(%d)", obj.Value)
	case KindPair:
		return fmt.Sprintf("Pair(%s, %s)", summary(obj.Head), summary(obj.Tail))
	default:
		return "?"
	}
}

// summary renders a pair field without recursing into nested pairs.
func summary(obj *Object) string {
	switch {
	case obj == nil:
		return "unset"
	case obj.kind == KindInt:
		return fmt.Sprintf("Int(%d)", obj.Value)
	default:
		return "Pair(...)"
	}
}
