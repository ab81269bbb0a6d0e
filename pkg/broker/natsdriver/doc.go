// Package natsdriver implements broker.Driver on core NATS.
//
// Exchanges become subject prefixes: a message published to exchange "ex"
// with routing key "a.b" travels on subject "ex.a.b". Queues map to NATS
// queue groups, so every process consuming the same queue shares the load.
// Bindings are translated to subject filters ("*" stays "*", patterns using
// "#" subscribe to "ex.>") and always re-checked with broker.Route.
//
// Core NATS has no server-side acknowledgement. Ack is a no-op, a requeued
// nack republishes on "_requeue.<queue>" and a nack without requeue publishes
// on "_dead.<queue>". Messages buffered in a consumer when it is cancelled
// are lost; use the Redis driver when at-least-once across restarts matters.
//
// The driver disables the nats.go reconnect logic and reports a closed
// connection through NotifyClose so broker.Client owns reconnection.
package natsdriver
