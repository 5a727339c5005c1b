// Package vm implements the object model and proc execution engine.
//
// This package contains:
//   - Values, type paths and lists
//   - Definitions with parent-chain variable and proc resolution
//   - Reference-counted objects with meta hooks and cascading deletion
//   - Stable reference IDs for live objects
//   - Procs, their resumable frames (ProcStates) and threads
//   - A small scripted stack machine and native procs
//   - The object initialization protocol
package vm
