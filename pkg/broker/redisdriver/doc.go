// Package redisdriver implements broker.Driver on Redis streams.
//
// Layout (with the default "broker" prefix):
//
//	broker:exchanges                  hash  exchange name -> kind
//	broker:exchange:<name>:bindings   set   "<queue>\x1f<binding key>"
//	broker:queues                     set   declared queue names
//	broker:queue:<name>               stream, consumed by group "broker"
//
// Publishing resolves bindings client-side and XADDs one entry per matching
// queue. Consumers use XREADGROUP with one stream entry per free prefetch
// slot. Ack is XACK+XDEL; a requeued nack re-appends the entry and acks the
// original; a nack without requeue moves the entry to "<queue>.dead".
// Entries left pending by a crashed consumer are reclaimed with XAUTOCLAIM
// once idle for longer than the claim timeout.
package redisdriver
