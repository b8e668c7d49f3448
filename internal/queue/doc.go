// Package queue implements the per-user message queue that sits between the
// inbound platform handler and the delivery loop.
//
// Each user gets an unbounded FIFO the first time they are referenced. Queues
// are never removed, so Users always returns a superset of the previous call
// in the same order, which gives the delivery loop a stable round-robin.
//
// Depth is unbounded. A slow agent service grows memory without limit; the
// only visibility is the fixie_queue_depth gauge.
package queue
