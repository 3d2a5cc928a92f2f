// Package vm implements the Strata object runtime.
//
// This package contains:
//   - the reflected object model (Object, Struct, Class, Package) and the
//     layout linker that places property values in a Block
//   - the Archive abstraction with memory, stream, counting and checksum
//     archives sharing one Serialize code path
//   - the tagged property codec for persistent data and the fixed-order
//     binary codec for in-process copies
//   - the iterative tracer, mark/sweep collection and IsReferenced
//   - the package Linker: export/import tagging, the name table, conform,
//     dependency ordering, container emission and lazy loading
//
// A Runtime owns every global table. It is not safe for concurrent use.
package vm
