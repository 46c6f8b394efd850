// Package object is the kernel object table: an arena of reference counted
// kernel objects addressed by generation-tagged IDs.
//
// An object lives while it has references (transient kernel holds such as a
// mapping or an in-flight syscall) or capabilities (handles in some task's
// table). It is destroyed exactly once, when both counts reach zero. Its slot
// is then reused with a new generation, so a stale ID never resolves again.
package object
