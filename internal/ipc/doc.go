// Package ipc exposes daemon control via JSON-RPC over a Unix domain socket.
//
// Each client command opens one connection. A submit connection stays open
// for the Await call that delivers the terminal reply, and its closure while
// the job is still active is treated as an implicit cancel.
package ipc
