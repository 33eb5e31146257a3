// Package router implements the inference routing engine.
//
// Each task is scored, then sent to the free local backend or the paid remote
// backend. Local results are quality checked; a local failure of any kind
// (probe down, timeout, execution error, rejected output) falls back to the
// remote backend once. Remote failures, caller cancellation and deterministic
// tasks are terminal. Every successful response is added to the cost ledger.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/internal/complexity"
	"github.com/DevCabin/ClawLess/internal/events"
	"github.com/DevCabin/ClawLess/internal/ledger"
	"github.com/DevCabin/ClawLess/internal/quality"
	"github.com/DevCabin/ClawLess/pkg/models"
)

const defaultRecordTimeout = 5 * time.Second

// Path is the route a task takes after scoring.
type Path string

const (
	PathRejected          Path = "rejected"
	PathLocalWithFallback Path = "local_with_fallback"
	PathLocalOnly         Path = "local_only"
	PathRemote            Path = "remote"
)

// Decision is the scoring outcome and the path it selects.
type Decision struct {
	Score complexity.Score `json:"score"`
	Path  Path             `json:"path"`
}

// Deps are the collaborators a Router needs. Local or Remote may be nil only
// when the routing mode never uses them.
type Deps struct {
	Analyzer  *complexity.Analyzer
	Validator *quality.Validator
	Local     backend.Backend
	Remote    backend.Backend
	Recorder  ledger.Recorder
	Sink      events.Sink
}

// Router orchestrates one routing per call. It holds no mutable state and is
// safe for concurrent use; the only shared resource is the ledger.
type Router struct {
	cfg           models.RouterConfig
	analyzer      *complexity.Analyzer
	validator     *quality.Validator
	local         backend.Backend
	remote        backend.Backend
	recorder      ledger.Recorder
	sink          events.Sink
	recordTimeout time.Duration
}

// New validates cfg against the supplied backends and builds a Router.
func New(cfg models.RouterConfig, deps Deps) (*Router, error) {
	if cfg.Mode == "" {
		cfg.Mode = models.ModeAuto
	}
	switch cfg.Mode {
	case models.ModeAuto:
		if deps.Local == nil || deps.Remote == nil {
			return nil, fmt.Errorf("router: auto mode needs both local and remote backends")
		}
	case models.ModeLocalOnly:
		if deps.Local == nil {
			return nil, fmt.Errorf("router: local_only mode needs a local backend")
		}
	case models.ModeRemoteOnly:
		if deps.Remote == nil {
			return nil, fmt.Errorf("router: remote_only mode needs a remote backend")
		}
	default:
		return nil, fmt.Errorf("router: unknown mode %q", cfg.Mode)
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("router: cost recorder is required")
	}

	r := &Router{
		cfg:           cfg,
		analyzer:      deps.Analyzer,
		validator:     deps.Validator,
		local:         deps.Local,
		remote:        deps.Remote,
		recorder:      deps.Recorder,
		sink:          deps.Sink,
		recordTimeout: defaultRecordTimeout,
	}
	if r.analyzer == nil {
		a, err := complexity.NewAnalyzer()
		if err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		r.analyzer = a
	}
	if r.validator == nil {
		r.validator = quality.NewValidator()
	}
	if r.sink == nil {
		r.sink = events.Nop{}
	}
	return r, nil
}

// Decide scores task and reports the path Route would take, without calling
// any backend.
func (r *Router) Decide(task *models.Task) Decision {
	score := r.analyzer.Analyze(task)
	return Decision{Score: score, Path: r.pathFor(score)}
}

func (r *Router) pathFor(score complexity.Score) Path {
	if score.Recommended == models.RecommendNone {
		return PathRejected
	}
	switch r.cfg.Mode {
	case models.ModeRemoteOnly:
		return PathRemote
	case models.ModeLocalOnly:
		return PathLocalOnly
	}
	// In auto mode local is only tried when a failure there can fall back.
	if score.Recommended == models.RecommendRemote || !r.cfg.FallbackEnabled {
		return PathRemote
	}
	return PathLocalWithFallback
}

// Route runs task to completion and returns the accepted response or a
// *Error describing the terminal failure.
func (r *Router) Route(ctx context.Context, task *models.Task) (*models.Response, error) {
	start := time.Now()
	if err := task.Validate(); err != nil {
		return nil, &Error{Kind: KindInvalidTask, Err: err}
	}

	decision := r.Decide(task)
	r.emit(ctx, events.Event{Type: events.TaskScored, TaskKind: task.Kind, Score: decision.Score.Total, Reason: string(decision.Path)})

	if decision.Path == PathRejected {
		r.emit(ctx, events.Event{Type: events.TaskRejected, TaskKind: task.Kind, Score: decision.Score.Total})
		return nil, &Error{Kind: KindDeterministicTaskRejected, Score: decision.Score.Total, Err: ErrDeterministicTask}
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(ctx, task, cancelled("", err))
	}

	var (
		resp *models.Response
		rerr *Error
	)
	switch decision.Path {
	case PathRemote:
		resp, rerr = r.attemptRemote(ctx, task, nil)
	case PathLocalOnly:
		var lf *localFailure
		resp, lf = r.attemptLocal(ctx, task)
		if lf != nil {
			rerr = lf.asError()
		}
	case PathLocalWithFallback:
		var lf *localFailure
		resp, lf = r.attemptLocal(ctx, task)
		if lf != nil {
			if lf.kind == KindRoutingCancelled {
				rerr = lf.asError()
				break
			}
			r.emit(ctx, events.Event{Type: events.Fallback, TaskKind: task.Kind, Backend: models.BackendLocal, Reason: lf.reason, Err: lf.err})
			resp, rerr = r.attemptRemote(ctx, task, lf)
		}
	}
	if rerr != nil {
		rerr.Score = decision.Score.Total
		return nil, r.fail(ctx, task, rerr)
	}

	r.record(ctx, resp)
	r.emit(ctx, events.Event{
		Type:      events.RouteCompleted,
		TaskKind:  task.Kind,
		Backend:   resp.BackendUsed,
		Latency:   time.Since(start),
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUSD:   resp.CostUSD,
	})
	return resp, nil
}

// attemptLocal probes, executes and validates on the local backend. A nil
// failure means the response was accepted.
func (r *Router) attemptLocal(ctx context.Context, task *models.Task) (*models.Response, *localFailure) {
	if !r.local.Probe(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, &localFailure{kind: KindRoutingCancelled, reason: "cancelled", err: err}
		}
		r.emit(ctx, events.Event{Type: events.BackendUnavailable, TaskKind: task.Kind, Backend: models.BackendLocal})
		return nil, &localFailure{kind: KindBackendUnavailable, reason: "unavailable", err: ErrBackendUnavailable}
	}

	r.emit(ctx, events.Event{Type: events.BackendAttempt, TaskKind: task.Kind, Backend: models.BackendLocal})
	resp, err := r.local.Execute(ctx, task, backend.Options{Timeout: r.cfg.LocalTimeout})
	if err != nil {
		if ctx.Err() != nil || backend.KindOf(err) == backend.KindCancelled {
			return nil, &localFailure{kind: KindRoutingCancelled, reason: "cancelled", err: err}
		}
		r.emit(ctx, events.Event{Type: events.BackendFailed, TaskKind: task.Kind, Backend: models.BackendLocal, Err: err})
		mapped := fromBackendError(models.BackendLocal, err)
		reason := "execution_error"
		if mapped.Kind == KindBackendTimeout {
			reason = "timeout"
		}
		return nil, &localFailure{kind: mapped.Kind, reason: reason, err: err}
	}

	if res := r.validator.Evaluate(resp, task); !res.Passed {
		r.emit(ctx, events.Event{Type: events.QualityFailed, TaskKind: task.Kind, Backend: models.BackendLocal, Reason: string(res.Rule)})
		return nil, &localFailure{
			kind:   KindQualityValidationFailed,
			reason: "quality_" + string(res.Rule),
			err:    fmt.Errorf("%w: %s", ErrQualityValidation, res.Detail),
		}
	}
	return resp, nil
}

// attemptRemote is the last stop. prior is the local failure that led here,
// or nil when the task was routed to remote directly.
func (r *Router) attemptRemote(ctx context.Context, task *models.Task, prior *localFailure) (*models.Response, *Error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(models.BackendRemote, err)
	}

	r.emit(ctx, events.Event{Type: events.BackendAttempt, TaskKind: task.Kind, Backend: models.BackendRemote})
	resp, err := r.remote.Execute(ctx, task, backend.Options{})
	if err == nil {
		return resp, nil
	}

	r.emit(ctx, events.Event{Type: events.BackendFailed, TaskKind: task.Kind, Backend: models.BackendRemote, Err: err})
	if ctx.Err() != nil || backend.KindOf(err) == backend.KindCancelled {
		return nil, cancelled(models.BackendRemote, err)
	}
	if prior != nil {
		return nil, exhausted(prior, err)
	}
	return nil, fromBackendError(models.BackendRemote, err)
}

// record adds resp to the ledger. The write is detached from the caller's
// cancellation so a response that was already paid for is always counted.
// Ledger failures are reported, not returned.
func (r *Router) record(ctx context.Context, resp *models.Response) {
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.recordTimeout)
	defer cancel()

	if err := r.recorder.Record(recCtx, resp.BackendUsed, resp.TokensIn, resp.TokensOut, resp.CostUSD); err != nil {
		r.emit(ctx, events.Event{Type: events.LedgerError, Backend: resp.BackendUsed, Err: err, CostUSD: resp.CostUSD})
	}
}

func (r *Router) fail(ctx context.Context, task *models.Task, err *Error) *Error {
	r.emit(ctx, events.Event{Type: events.RouteFailed, TaskKind: task.Kind, Backend: err.Backend, Reason: string(err.Kind), Err: err.Err})
	return err
}

func (r *Router) emit(ctx context.Context, e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.sink.Emit(ctx, e)
}
