package index

import (
	"context"
	"log/slog"
)

// Reason explains the outcome of a consistency check.
type Reason string

// Check outcomes.
const (
	ReasonMissing         Reason = "missing"
	ReasonVersionMismatch Reason = "version-mismatch"
	ReasonStale           Reason = "stale"
	ReasonOK              Reason = "ok"
)

type dirtier interface {
	Dirty() bool
}

// Check compares the backend's generation against the schema version and the
// tracker's last mutation. A backend that cannot report its metadata counts
// as missing.
func Check(ctx context.Context, b Backend, t *Tracker) Reason {
	meta, ok, err := b.Meta(ctx)
	if err != nil || !ok {
		return ReasonMissing
	}
	if meta.Version != SchemaVersion {
		return ReasonVersionMismatch
	}
	if d, ok := b.(dirtier); ok && d.Dirty() {
		return ReasonStale
	}
	if meta.GeneratedMs < t.Last() {
		return ReasonStale
	}
	return ReasonOK
}

// Usable reports whether queries may be answered from the backend instead of
// a live scan.
func Usable(ctx context.Context, b Backend, t *Tracker) bool {
	if Check(ctx, b, t) != ReasonOK {
		return false
	}
	meta, _, _ := b.Meta(ctx)
	return meta.TotalPages > 0
}

// EnsureFresh runs Check and starts a background rebuild unless the index is
// current.
func EnsureFresh(ctx context.Context, b Backend, t *Tracker, r *Rebuilder, logger *slog.Logger) Reason {
	reason := Check(ctx, b, t)
	if reason == ReasonOK {
		logger.Info("index: consistent", slog.String("backend", b.Name()))
		return reason
	}
	started, _ := r.Start(ctx)
	logger.Info("index: rebuild required",
		slog.String("backend", b.Name()),
		slog.String("reason", string(reason)),
		slog.Bool("started", started))
	return reason
}
