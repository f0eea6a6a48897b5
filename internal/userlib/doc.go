// Package userlib is the task-side wrapper layer over the raw syscall
// surface: typed message decode with capacity checking, single-use reply
// handles, lease-backed borrows, and the recv/dispatch loop servers run.
//
// Nothing in this package is trusted by the kernel. Every buffer a task
// hands to a syscall lives in the task's own simulated RAM and is
// re-validated and re-checked by the kernel on every call; userlib only
// makes the protocol convenient, never authoritative.
package userlib
