package common

import "time"

// Timeout defaults for the RPC fabric.
const (
	// DefaultCallTimeout is a default call timeout value; no code in this
	// repository applies it, and CallerContext.Recv has no timeout.
	DefaultCallTimeout = 30 * time.Second

	// DefaultShutdownTimeout is a default shutdown timeout value; no code
	// in this repository applies it, and broker/peer shutdown is unbounded.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultDialTimeout bounds client-side Dial/Connect calls.
	DefaultDialTimeout = 5 * time.Second
)

// Sizing defaults for the worker pool and per-peer queues.
const (
	// DefaultWorkerCount sizes the shared go-taskflow executor used for
	// handler dispatch.
	DefaultWorkerCount = 16

	// DefaultWriteQueueCapacity bounds a peer's outbound message queue
	// before the broker treats it as saturated and disconnects the peer.
	DefaultWriteQueueCapacity = 256
)

// DefaultUnixSocketPath is the broker's default Unix-domain listen path.
const DefaultUnixSocketPath = "/tmp/meshrpc.sock"
