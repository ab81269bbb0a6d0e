// Package memdriver is an in-process broker.Driver.
//
// A Broker holds exchanges, queues and bindings in memory and outlives the
// connections dialed to it, so queued messages survive a dropped connection
// the same way they survive on a real broker. DropConnections simulates a
// network failure and FailDials makes the next dials fail, which is how the
// reconnect path is tested.
package memdriver
