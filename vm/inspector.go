package vm

import (
	"fmt"
	"strings"
)

// Inspector provides debugging inspection of Pebble heap objects.
// It can recursively inspect pairs and their fields, providing a structured
// view of any object on the heap, and compute a whole-heap census.
type Inspector struct {
	vm *VM
}

// InspectionResult contains structured information about an inspected object.
type InspectionResult struct {
	Kind    string              // "Int" or "Pair"
	Value   string              // string representation of the object
	Marked  bool                // transient mark bit (false outside a collection)
	Fields  []*InspectionResult // for pairs: head then tail, depth permitting
	Cyclic  bool                // true when this object was already seen above
	Summary bool                // true when depth ran out and fields were elided
}

// HeapStats is a census of the registry at one point in time.
type HeapStats struct {
	Ints        int // leaf integer objects on the registry
	Pairs       int // pair objects on the registry
	Total       int // Ints + Pairs; equals the VM's live count
	Reachable   int // objects reachable from the root stack
	Unreachable int // objects a collection would reclaim right now
}

// DefaultMaxDepth is the default recursion depth for inspection.
const DefaultMaxDepth = 3

// NewInspector creates a new Inspector attached to the given VM.
func NewInspector(vm *VM) *Inspector {
	return &Inspector{vm: vm}
}

// Inspect inspects an object with the default maximum depth.
func (i *Inspector) Inspect(obj *Object) *InspectionResult {
	return i.InspectDepth(obj, DefaultMaxDepth)
}

// InspectDepth inspects an object with a specified maximum recursion depth.
// When depth reaches 0, nested pairs are shown as summaries only. Objects
// already visited on the current path are reported as cyclic rather than
// recursed into, so cyclic heaps inspect cleanly.
func (i *Inspector) InspectDepth(obj *Object, depth int) *InspectionResult {
	return i.inspect(obj, depth, map[*Object]bool{})
}

func (i *Inspector) inspect(obj *Object, depth int, onPath map[*Object]bool) *InspectionResult {
	if obj == nil {
		return &InspectionResult{Kind: "?", Value: "unset"}
	}

	result := &InspectionResult{
		Kind:   obj.kind.KindName(),
		Value:  obj.String(),
		Marked: obj.marked,
	}

	switch obj.kind {
	case KindInt:
		// leaf, nothing to descend into

	case KindPair:
		if onPath[obj] {
			result.Cyclic = true
			return result
		}
		if depth <= 0 {
			result.Summary = true
			return result
		}
		onPath[obj] = true
		result.Fields = []*InspectionResult{
			i.inspect(obj.Head, depth-1, onPath),
			i.inspect(obj.Tail, depth-1, onPath),
		}
		delete(onPath, obj)
	}

	return result
}

// Stats walks the registry and the root set and returns a heap census.
// Reachability is computed with the same worklist walk the mark phase uses,
// without touching any mark bits, so Stats is safe to call at any time.
func (i *Inspector) Stats() *HeapStats {
	stats := &HeapStats{}
	i.vm.ForEachObject(func(obj *Object) {
		switch obj.kind {
		case KindInt:
			stats.Ints++
		case KindPair:
			stats.Pairs++
		}
		stats.Total++
	})

	stats.Reachable = len(i.reachable())
	stats.Unreachable = stats.Total - stats.Reachable
	return stats
}

// Reachable reports whether obj can be reached from the root stack.
func (i *Inspector) Reachable(obj *Object) bool {
	return i.reachable()[obj]
}

// reachable computes the set of objects reachable from the root stack by
// worklist traversal over pair fields.
func (i *Inspector) reachable() map[*Object]bool {
	seen := make(map[*Object]bool)
	worklist := make([]*Object, 0, i.vm.StackSize())
	for _, root := range i.vm.Roots() {
		if root != nil && !seen[root] {
			seen[root] = true
			worklist = append(worklist, root)
		}
	}
	for len(worklist) > 0 {
		obj := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		obj.ForEachChild(func(child *Object) {
			if !seen[child] {
				seen[child] = true
				worklist = append(worklist, child)
			}
		})
	}
	return seen
}

// Render formats an inspection result as an indented multi-line string for
// REPL output.
func (r *InspectionResult) Render() string {
	var b strings.Builder
	r.render(&b, 0)
	return b.String()
}

func (r *InspectionResult) render(b *strings.Builder, indent int) {
	pad := strings.Repeat("  ", indent)
	switch {
	case r.Cyclic:
		fmt.Fprintf(b, "%s%s (cycle)\n", pad, r.Kind)
	case r.Summary:
		fmt.Fprintf(b, "%s%s\n", pad, r.Value)
	default:
		fmt.Fprintf(b, "%s%s\n", pad, r.Value)
		for _, f := range r.Fields {
			f.render(b, indent+1)
		}
	}
}
