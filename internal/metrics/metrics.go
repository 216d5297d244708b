// Package metrics holds the process-wide counters the admin HTTP surface
// reports, mirroring the shape of counters the teacher keeps on its Room
// (datagrams/bytes/skips) but re-keyed to connections, groups, and messages.
package metrics

import "sync/atomic"

// Counters is a set of atomic counters updated from the connection package
// and the server's accept loop, and read by the admin HTTP surface.
type Counters struct {
	ActiveConnections atomic.Int64
	MessagesRelayed   atomic.Uint64
	BytesRelayed      atomic.Uint64
	LaggedDisconnects atomic.Uint64
}

// Snapshot is the JSON-serializable rendering of Counters plus live registry
// sizes, assembled by the caller.
type Snapshot struct {
	ActiveConnections int64  `json:"active_connections"`
	ActiveGroups      int    `json:"active_groups"`
	MessagesRelayed   uint64 `json:"messages_relayed"`
	BytesRelayed      uint64 `json:"bytes_relayed"`
	LaggedDisconnects uint64 `json:"lagged_disconnects"`
}
