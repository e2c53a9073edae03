// Package stream maintains the live fan-out state of the measurement
// publish/subscribe core: which connections are currently subscribed to
// which kit's measurement stream.
//
// The registry is the only shared mutable state in the core. All mutation
// is internally synchronized; fan-out snapshots the subscriber set under a
// read lock and then delivers to each subscriber independently, so a slow
// or closing subscriber never blocks the publisher or its peers.
package stream
