// Package vm implements the Pebble virtual machine.
//
// This package contains:
//   - Tagged object representation (integers and pairs)
//   - Root-stack operations and object allocation
//   - Mark-and-sweep garbage collection
//   - Heap inspection and CBOR heap snapshots
package vm
