package ingest

import (
	"context"
	"errors"
)

// Sink durably stores normalized records keyed by patient id. Upsert must be
// idempotent: applying the same record twice yields the same stored state as
// applying it once.
type Sink interface {
	Upsert(ctx context.Context, rec *Record) error
}

// ErrStoreUnavailable signals that the sink's backing store is unreachable
// altogether, as opposed to a single record's write being rejected. A sink
// wrapping its error with ErrStoreUnavailable causes the orchestrator to stop
// issuing further writes for the batch instead of failing row by row.
var ErrStoreUnavailable = errors.New("store unavailable")

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec *Record) error

func (f SinkFunc) Upsert(ctx context.Context, rec *Record) error {
	return f(ctx, rec)
}
