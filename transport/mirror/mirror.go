// Package mirror provides optional write-behind replication of posted
// blocks to conventional object storage, so an operator can rebuild a
// channel's contents if the chat service ever prunes history. A mirror is
// never read from: GetChain and Fetch always go through the chat service
// directly.
package mirror

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PutsTotal counts mirror write attempts, labeled by backend and success.
var PutsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mirror_puts_total",
		Help: "The number of write-behind puts issued against mirror backends.",
	},
	[]string{"backend", "success"},
)

// Sink is a write-only object store keyed by the transport message id of
// the block it holds.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Set fans a single block out to every configured sink, keyed by
// messageID. Put runs synchronously, so the writer waits for every sink, but
// a failed mirror put is only logged by the caller and never fails the
// write itself, since the chat service remains the durable copy.
type Set struct {
	sinks map[string]Sink
}

// NewSet wraps the given named sinks (name is the backend label used in
// PutsTotal, e.g. "s3", "gcs", "b2"). An empty Set is valid and a no-op.
func NewSet(sinks map[string]Sink) *Set {
	return &Set{sinks: sinks}
}

// Put writes data to every configured sink under key, returning the first
// error encountered (if any) after attempting all of them.
func (s *Set) Put(ctx context.Context, key string, data []byte) error {
	var firstErr error
	for name, sink := range s.sinks {
		if err := sink.Put(ctx, key, data); err != nil {
			PutsTotal.WithLabelValues(name, "false").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		PutsTotal.WithLabelValues(name, "true").Inc()
	}
	return firstErr
}
