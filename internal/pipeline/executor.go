// Package pipeline drives one session's reconstruction pipeline: it runs the
// enabled stages strictly sequentially through the stage runner, computes
// weighted cumulative progress, and owns every mutation of the session's
// registry entry while running (single-writer discipline).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reconstructd/internal/engine"
	"reconstructd/internal/manifest"
	"reconstructd/internal/registry"
	"reconstructd/internal/workspace"
	"reconstructd/pkg/types"
)

// startedFraction is the share of a stage's weight credited as soon as its
// subprocess has started, so progress shows motion during long stages. The
// heuristic never causes the percent to regress: stage-completion values
// dominate it.
const startedFraction = 0.10

// ExecutorConfig wires the executor's collaborators.
type ExecutorConfig struct {
	Registry   *registry.Registry
	Workspaces *workspace.Manager
	Runner     *Runner
	Collector  *manifest.Collector
	Logger     zerolog.Logger
}

// Executor sequences stage runner invocations for one session at a time.
// A single Executor is shared by all sessions; all per-session state lives in
// the registry and the workspace.
type Executor struct {
	reg       *registry.Registry
	ws        *workspace.Manager
	runner    *Runner
	collector *manifest.Collector
	log       zerolog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		reg:       cfg.Registry,
		ws:        cfg.Workspaces,
		runner:    cfg.Runner,
		collector: cfg.Collector,
		log:       cfg.Logger,
	}
	if e.runner == nil {
		e.runner = NewRunner(cfg.Logger)
	}
	if e.collector == nil {
		e.collector = manifest.NewCollector()
	}
	return e
}

// Run executes the whole pipeline for sessionID and always leaves the session
// in a clean terminal state. It blocks until done; the supervisor runs it on
// a dedicated goroutine. ctx cancellation is treated as a cancel request.
func (e *Executor) Run(ctx context.Context, sessionID string, opts engine.Options) {
	pipelinesRunning.Inc()
	defer pipelinesRunning.Dec()

	if err := e.reg.BeginRun(sessionID); err != nil {
		// Defense in depth: the supervisor's at-most-one invariant should
		// make this unreachable.
		e.log.Error().Str("session", sessionID).Err(err).Msg("refused re-entrant pipeline execution")
		e.finishError(sessionID, &types.SessionError{
			Reason:  "internal",
			Message: err.Error(),
		})
		return
	}
	defer e.reg.EndRun(sessionID)

	descs, err := engine.Plan(opts)
	if err != nil {
		e.finishError(sessionID, &types.SessionError{Reason: "internal", Message: err.Error()})
		return
	}
	inputs, err := e.reg.Inputs(sessionID)
	if err != nil {
		e.finishError(sessionID, &types.SessionError{Reason: "internal", Message: err.Error()})
		return
	}

	// Workspace setup and input staging count as the leading slice of the
	// first stage's share.
	initBudget := descs[0].Weight * startedFraction * 100
	e.update(sessionID, func(s *types.SessionSnapshot) {
		s.Message = "Setting up workspace and copying images"
	})
	h, err := e.ws.Create(sessionID, inputs, func(done, total int) {
		e.update(sessionID, func(s *types.SessionSnapshot) {
			s.ProgressPercent = initBudget * float64(done) / float64(total)
			s.Message = fmt.Sprintf("Copied %d/%d images", done, total)
			s.ImageCount = done
		})
	})
	if err != nil {
		e.log.Error().Str("session", sessionID).Err(err).Msg("workspace setup failed")
		e.finishError(sessionID, &types.SessionError{Reason: "workspace", Message: err.Error()})
		return
	}

	var completed float64
	for _, d := range descs {
		if e.cancelObserved(ctx, sessionID) {
			e.finishCancelled(sessionID)
			return
		}
		if err := e.prepareStage(h, d); err != nil {
			e.finishError(sessionID, &types.SessionError{
				Stage:   string(d.Stage),
				Reason:  "workspace",
				Message: err.Error(),
			})
			return
		}
		e.update(sessionID, func(s *types.SessionSnapshot) {
			s.Stage = string(d.Stage)
			s.Message = d.Message
			s.ProgressPercent = (completed + d.Weight*startedFraction) * 100
		})
		e.log.Info().Str("session", sessionID).Str("stage", string(d.Stage)).
			Float64("weight", d.Weight).Msg("stage started")

		cancelled, err := e.runner.Run(ctx, d, h)
		if cancelled {
			e.finishCancelled(sessionID)
			return
		}
		if err != nil {
			sf, _ := AsStageFailure(err)
			e.log.Warn().Str("session", sessionID).Str("stage", string(d.Stage)).
				Str("reason", string(sf.Reason)).Msg("stage failed")
			e.finishError(sessionID, &types.SessionError{
				Stage:      string(sf.Stage),
				Reason:     string(sf.Reason),
				Message:    sf.Error(),
				Diagnostic: sf.Diagnostic,
			})
			return
		}
		completed += d.Weight
		e.update(sessionID, func(s *types.SessionSnapshot) {
			s.ProgressPercent = completed * 100
			s.Message = fmt.Sprintf("Completed %s", d.Stage)
		})
		e.log.Info().Str("session", sessionID).Str("stage", string(d.Stage)).
			Float64("progress", completed*100).Msg("stage completed")
	}

	man, err := e.collector.Collect(h, descs, opts)
	if err != nil {
		// The pipeline already reported success; downgrade post hoc with a
		// specific reason instead of returning an incomplete manifest.
		e.log.Error().Str("session", sessionID).Err(err).Msg("result assembly failed")
		e.finishError(sessionID, &types.SessionError{Reason: "result-assembly", Message: err.Error()})
		return
	}
	e.finishComplete(sessionID, man)
}

func (e *Executor) prepareStage(h *workspace.Handle, d engine.Descriptor) error {
	for _, dir := range d.Dirs {
		if err := h.EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// cancelObserved checks the cooperative cancel signal at a stage boundary.
func (e *Executor) cancelObserved(ctx context.Context, sessionID string) bool {
	if ctx.Err() != nil {
		return true
	}
	snap, err := e.reg.Get(sessionID)
	return err == nil && snap.CancelRequested
}

// update applies a mutation with the monotonic progress guard: a poller never
// observes the percent decreasing for a running session.
func (e *Executor) update(sessionID string, fn func(*types.SessionSnapshot)) {
	if _, err := e.reg.Update(sessionID, func(s *types.SessionSnapshot) {
		prev := s.ProgressPercent
		fn(s)
		if s.ProgressPercent < prev {
			s.ProgressPercent = prev
		}
	}); err != nil {
		e.log.Error().Str("session", sessionID).Err(err).Msg("registry update failed")
	}
}

func (e *Executor) finishComplete(sessionID string, man *types.OutputManifest) {
	now := time.Now().UTC()
	e.update(sessionID, func(s *types.SessionSnapshot) {
		s.Status = types.StatusComplete
		s.Stage = ""
		s.ProgressPercent = 100
		s.Message = "Processing completed successfully"
		s.EndedAt = &now
		s.Manifest = man
	})
	sessionsFinished.WithLabelValues(string(types.StatusComplete)).Inc()
	e.log.Info().Str("session", sessionID).Int("artifacts", len(man.Artifacts)).Msg("pipeline complete")
}

func (e *Executor) finishCancelled(sessionID string) {
	now := time.Now().UTC()
	e.update(sessionID, func(s *types.SessionSnapshot) {
		s.Status = types.StatusCancelled
		s.Stage = ""
		s.Message = "Processing cancelled by user"
		s.EndedAt = &now
	})
	sessionsFinished.WithLabelValues(string(types.StatusCancelled)).Inc()
	e.log.Info().Str("session", sessionID).Msg("pipeline cancelled")
}

func (e *Executor) finishError(sessionID string, serr *types.SessionError) {
	now := time.Now().UTC()
	e.update(sessionID, func(s *types.SessionSnapshot) {
		s.Status = types.StatusError
		s.Stage = ""
		s.Message = "Processing failed: " + serr.Message
		s.EndedAt = &now
		s.Error = serr
	})
	sessionsFinished.WithLabelValues(string(types.StatusError)).Inc()
}
