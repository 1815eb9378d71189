package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/metrics"
)

// Phase is the lifecycle stage of a rebuild.
type Phase string

// Rebuild phases.
const (
	PhaseIdle     Phase = "idle"
	PhaseScanning Phase = "scanning"
	PhaseBuilding Phase = "building"
	PhaseWriting  Phase = "writing"
	PhaseDone     Phase = "done"
	PhaseError    Phase = "error"
)

// Status is a point-in-time view of the rebuild job.
type Status struct {
	Backend    string     `json:"backend"`
	Phase      Phase      `json:"phase"`
	Processed  int        `json:"processed"`
	Total      int        `json:"total"`
	Percent    int        `json:"percent"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Running reports whether the job is in flight.
func (s Status) Running() bool {
	switch s.Phase {
	case PhaseScanning, PhaseBuilding, PhaseWriting:
		return true
	}
	return false
}

// Rebuilder regenerates a backend from the documents. At most one rebuild
// runs at a time; further requests are rejected, not queued.
type Rebuilder struct {
	backend Backend
	builder *Builder
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	status Status
	done   chan struct{}
}

// NewRebuilder returns an idle Rebuilder. m may be nil.
func NewRebuilder(backend Backend, builder *Builder, m *metrics.Metrics, logger *slog.Logger) *Rebuilder {
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	close(closed)
	return &Rebuilder{
		backend: backend,
		builder: builder,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		status:  Status{Backend: backend.Name(), Phase: PhaseIdle},
		done:    closed,
	}
}

// Start launches a rebuild in the background. It returns false with the
// current status when a rebuild is already running. The job is detached from
// ctx cancellation so a finished request does not abort it.
func (r *Rebuilder) Start(ctx context.Context) (bool, Status) {
	r.mu.Lock()
	if r.status.Running() {
		st := r.status
		r.mu.Unlock()
		return false, st
	}
	r.begin()
	st := r.status
	r.mu.Unlock()

	go r.run(context.WithoutCancel(ctx))
	return true, st
}

// Run rebuilds synchronously. It fails with apperr.ErrRebuildRunning when a
// background rebuild is in flight.
func (r *Rebuilder) Run(ctx context.Context) (Status, error) {
	r.mu.Lock()
	if r.status.Running() {
		st := r.status
		r.mu.Unlock()
		return st, apperr.ErrRebuildRunning
	}
	r.begin()
	r.mu.Unlock()

	err := r.run(ctx)
	return r.Status(), err
}

// begin resets the status for a new job. Callers hold r.mu.
func (r *Rebuilder) begin() {
	started := r.now().UTC()
	r.status = Status{Backend: r.backend.Name(), Phase: PhaseScanning, StartedAt: &started}
	r.done = make(chan struct{})
}

// Status returns a snapshot of the job state.
func (r *Rebuilder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Wait blocks until no rebuild is running.
func (r *Rebuilder) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	<-done
}

func (r *Rebuilder) run(ctx context.Context) error {
	start := r.now()
	// Anything that changes from this millisecond on counts as newer than
	// the generation being built.
	generatedAt := start.Truncate(time.Millisecond).Add(-time.Millisecond)

	entries, err := r.builder.ScanAll(ctx, func(done, total int) {
		r.update(func(s *Status) {
			if done >= s.Processed {
				s.Processed = done
			}
			s.Total = total
			if total > 0 {
				s.Percent = s.Processed * 100 / total
			}
		})
	})
	if err == nil {
		r.update(func(s *Status) { s.Phase = PhaseBuilding })
		SortEntries(entries)
		r.update(func(s *Status) { s.Phase = PhaseWriting })
		err = r.backend.ReplaceAll(ctx, entries, generatedAt)
	}

	elapsed := r.now().Sub(start)
	r.metrics.Rebuild(r.backend.Name(), elapsed.Seconds(), len(entries), err)

	r.mu.Lock()
	finished := r.now().UTC()
	r.status.FinishedAt = &finished
	if err != nil {
		r.status.Phase = PhaseError
		r.status.Error = err.Error()
	} else {
		r.status.Phase = PhaseDone
		r.status.Processed = len(entries)
		r.status.Total = len(entries)
		r.status.Percent = 100
	}
	close(r.done)
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("index: rebuild failed",
			slog.String("backend", r.backend.Name()),
			slog.String("error", err.Error()))
		return err
	}
	r.logger.Info("index: rebuild complete",
		slog.String("backend", r.backend.Name()),
		slog.Int("pages", len(entries)),
		slog.Duration("elapsed", elapsed))
	return nil
}

func (r *Rebuilder) update(fn func(*Status)) {
	r.mu.Lock()
	fn(&r.status)
	r.mu.Unlock()
}
