package vm

import (
	"errors"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: The Pebble Virtual Machine
// ---------------------------------------------------------------------------

// Errors surfaced by root-stack and allocation operations. Protocol misuse
// is a recoverable, caller-visible failure, never a process abort, and a
// failed operation leaves the VM untouched.
var (
	ErrStackOverflow     = errors.New("root stack overflow")
	ErrStackUnderflow    = errors.New("root stack underflow")
	ErrAllocationFailure = errors.New("object allocation failed")
)

// Default construction parameters. Both are tunables, not protocol
// requirements; NewVMWithConfig overrides them.
const (
	// DefaultStackCapacity bounds the root stack.
	DefaultStackCapacity = 256

	// DefaultInitialThreshold is the live-object count at which the next
	// collection is expected.
	DefaultInitialThreshold = 8
)

// Config holds construction-time VM parameters. The zero value of a field
// selects its default. Neither parameter is mutable after construction.
type Config struct {
	StackCapacity    int
	InitialThreshold int

	// MaxObjects caps the number of live objects the allocator will
	// produce. Zero means unbounded. Allocation beyond the cap fails
	// with ErrAllocationFailure.
	MaxObjects int
}

// VM is a Pebble virtual machine instance: a bounded root stack over a
// registry-tracked heap, collected by explicit mark-and-sweep.
//
// The operand stack is the only root set. Each VM owns its registry
// exclusively, so multiple VMs coexist and are collected independently.
type VM struct {
	// Root stack. Its contents are the transitive roots for marking.
	stack    []*Object
	capacity int

	// Allocation registry: intrusive list of every object not yet
	// reclaimed. firstObject is the list entry point, repaired by sweep.
	firstObject *Object
	liveCount   int
	maxObjects  int

	// threshold is the live-object count at which the next collection is
	// expected. Recomputed after every sweep.
	threshold int

	// Collection statistics, in the style of a sweep counter plus a
	// last-stats record.
	collectionCount uint64
	lastStats       *CollectStats

	log commonlog.Logger

	closed bool
}

// NewVM creates a VM with the default stack capacity and threshold.
func NewVM() *VM {
	return NewVMWithConfig(Config{})
}

// NewVMWithConfig creates a VM with explicit construction parameters.
func NewVMWithConfig(cfg Config) *VM {
	capacity := cfg.StackCapacity
	if capacity <= 0 {
		capacity = DefaultStackCapacity
	}
	threshold := cfg.InitialThreshold
	if threshold <= 0 {
		threshold = DefaultInitialThreshold
	}
	return &VM{
		stack:      make([]*Object, 0, capacity),
		capacity:   capacity,
		threshold:  threshold,
		maxObjects: cfg.MaxObjects,
		log:        commonlog.GetLogger("pebble.vm"),
	}
}

// ---------------------------------------------------------------------------
// Root stack operations
// ---------------------------------------------------------------------------

// Push appends a reference to the root stack. The object stays owned by the
// registry; the stack only roots it.
func (vm *VM) Push(obj *Object) error {
	if len(vm.stack) >= vm.capacity {
		return ErrStackOverflow
	}
	vm.stack = append(vm.stack, obj)
	return nil
}

// Pop removes and returns the top reference.
func (vm *VM) Pop() (*Object, error) {
	if len(vm.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	top := vm.stack[len(vm.stack)-1]
	vm.stack[len(vm.stack)-1] = nil
	vm.stack = vm.stack[:len(vm.stack)-1]
	return top, nil
}

// PushInt allocates an Int object holding value, pushes it, and returns it.
// On failure no object is allocated and the stack is unchanged.
func (vm *VM) PushInt(value int32) (*Object, error) {
	if len(vm.stack) >= vm.capacity {
		return nil, ErrStackOverflow
	}
	obj, err := vm.allocate(KindInt)
	if err != nil {
		return nil, err
	}
	obj.Value = value
	vm.stack = append(vm.stack, obj)
	return obj, nil
}

// PushPair allocates a Pair, pops two operands, pushes the pair, and
// returns it. The first pop becomes Head and the second becomes Tail: the
// most recently pushed operand is the head. This pop order is a contract;
// swapping it changes the structure every later traversal observes.
//
// With fewer than two operands on the stack, PushPair fails with
// ErrStackUnderflow before allocating, leaving the stack unchanged.
func (vm *VM) PushPair() (*Object, error) {
	if len(vm.stack) < 2 {
		return nil, ErrStackUnderflow
	}
	obj, err := vm.allocate(KindPair)
	if err != nil {
		return nil, err
	}
	// Both pops succeed: size was checked above and allocate does not
	// touch the stack.
	obj.Head, _ = vm.Pop()
	obj.Tail, _ = vm.Pop()
	vm.stack = append(vm.stack, obj)
	return obj, nil
}

// StackSize returns the number of references on the root stack.
func (vm *VM) StackSize() int {
	return len(vm.stack)
}

// StackCapacity returns the fixed root-stack capacity.
func (vm *VM) StackCapacity() int {
	return vm.capacity
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// allocate creates a new object of the requested kind and links it at the
// head of the registry. Int objects start at zero; pair fields start unset
// until the caller assigns them. Allocation never triggers a collection;
// collection is the caller's responsibility (see Collect and
// NeedsCollection).
func (vm *VM) allocate(kind ObjectKind) (*Object, error) {
	if vm.maxObjects > 0 && vm.liveCount >= vm.maxObjects {
		return nil, ErrAllocationFailure
	}
	obj := &Object{kind: kind}
	obj.next = vm.firstObject
	vm.firstObject = obj
	vm.liveCount++
	return obj, nil
}

// LiveCount returns the number of objects currently on the registry.
func (vm *VM) LiveCount() int {
	return vm.liveCount
}

// Threshold returns the live-object count at which the next collection is
// expected.
func (vm *VM) Threshold() int {
	return vm.threshold
}

// NeedsCollection reports whether the heap has grown to the collection
// threshold. The VM never collects on its own; embedders poll this and call
// Collect when it returns true.
func (vm *VM) NeedsCollection() bool {
	return vm.liveCount >= vm.threshold
}

// ---------------------------------------------------------------------------
// Heap enumeration
// ---------------------------------------------------------------------------

// ForEachObject calls fn for every object on the registry, newest first.
// fn must not allocate on or collect this VM.
func (vm *VM) ForEachObject(fn func(obj *Object)) {
	for obj := vm.firstObject; obj != nil; obj = obj.next {
		fn(obj)
	}
}

// Roots returns the root stack contents, bottom first. The slice is a copy;
// mutating it does not affect the VM.
func (vm *VM) Roots() []*Object {
	roots := make([]*Object, len(vm.stack))
	copy(roots, vm.stack)
	return roots
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close tears the VM down: it empties the root stack and sweeps, which
// reclaims the entire heap since nothing remains reachable. Close is
// idempotent; operations on a closed VM are not supported.
func (vm *VM) Close() {
	if vm.closed {
		return
	}
	vm.closed = true
	vm.stack = vm.stack[:0]
	reclaimed := vm.sweep()
	vm.log.Infof("VM closed: reclaimed %d objects at teardown", reclaimed)
	vm.stack = nil
	vm.firstObject = nil
}
