// Package abi defines the wire-level contract shared by the kernel and
// task-side code: task identifiers, lease descriptors, the fixed-size
// marshalling interface used for message payloads, and the response-code
// conventions of the IPC protocol.
//
// Everything here is deliberately dumb data. Nothing in this package
// validates anything: a LeaseDesc is what a task claims about its own
// memory, and the kernel treats it as an allegation until the region
// validator and the access oracle have both passed it.
package abi
