package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Mark-and-sweep collection
// ---------------------------------------------------------------------------

// CollectStats holds statistics from a single collection.
type CollectStats struct {
	Reclaimed int           // objects swept off the registry
	Remaining int           // objects surviving on the registry
	Threshold int           // threshold in effect after the collection
	Duration  time.Duration // wall-clock time of mark + sweep
	Timestamp time.Time     // when the collection started
}

// Collect runs a full stop-the-world collection over the entire heap:
// mark everything reachable from the root stack, sweep everything else,
// then recompute the threshold as twice the surviving count so the heap
// may double before the next collection is expected.
//
// The VM never calls Collect on its own; allocation only grows the heap
// and the embedder decides when to pay for a collection (NeedsCollection
// reports when that is overdue).
func (vm *VM) Collect() *CollectStats {
	start := time.Now()
	before := vm.liveCount

	vm.markAll()
	vm.sweep()

	vm.threshold = vm.liveCount * 2

	stats := &CollectStats{
		Reclaimed: before - vm.liveCount,
		Remaining: vm.liveCount,
		Threshold: vm.threshold,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	vm.collectionCount++
	vm.lastStats = stats

	vm.log.Infof("collected: reclaimed=%d remaining=%d", stats.Reclaimed, stats.Remaining)
	return stats
}

// CollectionCount returns the total number of collections performed.
func (vm *VM) CollectionCount() uint64 {
	return vm.collectionCount
}

// LastCollectStats returns statistics from the most recent collection, or
// nil if none has run yet.
func (vm *VM) LastCollectStats() *CollectStats {
	return vm.lastStats
}

// ---------------------------------------------------------------------------
// Mark phase
// ---------------------------------------------------------------------------

// markAll marks everything reachable from the root stack. The traversal
// uses an explicit worklist rather than call-stack recursion so arbitrarily
// deep structures cannot exhaust the goroutine stack.
func (vm *VM) markAll() {
	worklist := make([]*Object, 0, len(vm.stack))
	for _, root := range vm.stack {
		if root != nil && !root.marked {
			root.marked = true
			worklist = append(worklist, root)
		}
	}

	for len(worklist) > 0 {
		obj := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		// The already-marked check below is what terminates the walk on
		// cycles and keeps shared substructure from being revisited.
		obj.ForEachChild(func(child *Object) {
			if !child.marked {
				child.marked = true
				worklist = append(worklist, child)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Sweep phase
// ---------------------------------------------------------------------------

// sweep visits every object on the registry exactly once: unmarked objects
// are unlinked and reclaimed, survivors get their mark bit cleared for the
// next cycle. Returns the number of objects reclaimed.
//
// The walk holds a pointer to the link slot rather than to the node, so
// unlinking any node, the registry head included, repairs the list
// correctly. A one-pointer walk that forgets to advance firstObject when
// the head itself dies corrupts every later traversal.
func (vm *VM) sweep() int {
	reclaimed := 0
	link := &vm.firstObject
	for *link != nil {
		obj := *link
		if obj.marked {
			obj.marked = false
			link = &obj.next
			continue
		}
		*link = obj.next
		obj.next = nil
		obj.Head = nil
		obj.Tail = nil
		vm.liveCount--
		reclaimed++
	}
	return reclaimed
}
