// Package supervisor owns session lifecycle orchestration above the pipeline
// executor: registering sessions, starting and cancelling pipeline runs under
// an at-most-one-per-session invariant and a global concurrency cap, and
// explicit cleanup. It is the single implementation behind the HTTP API.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reconstructd/internal/engine"
	"reconstructd/internal/pipeline"
	"reconstructd/internal/registry"
	"reconstructd/internal/workspace"
	"reconstructd/pkg/types"
)

// DefaultMaxConcurrent caps simultaneous pipeline runs when the config leaves
// the value unset. Reconstruction is CPU and IO heavy; a small cap is the
// safe default.
const DefaultMaxConcurrent = 2

// Config wires the supervisor's collaborators and policy knobs.
type Config struct {
	Registry   *registry.Registry
	Workspaces *workspace.Manager
	Executor   *pipeline.Executor

	// EngineBin is the external reconstruction binary every run uses.
	EngineBin string
	// MaxConcurrent caps simultaneously running pipelines; 0 means
	// DefaultMaxConcurrent.
	MaxConcurrent int
	// Defaults applied to process requests that leave fields unset.
	DefaultMaxImageSize int
	DefaultMatcherType  string
	StageTimeout        time.Duration
	DenseTimeout        time.Duration

	Logger zerolog.Logger
}

// run tracks one in-flight pipeline execution.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor enforces the at-most-one-pipeline-per-session invariant and the
// global concurrency cap, and mediates all session lifecycle operations.
type Supervisor struct {
	cfg   Config
	log   zerolog.Logger
	start time.Time
	ready atomic.Bool

	mu      sync.Mutex
	running map[string]*run
}

func New(cfg Config) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Supervisor{
		cfg:     cfg,
		log:     cfg.Logger,
		start:   time.Now(),
		running: make(map[string]*run),
	}
}

// MarkReady flips the readiness probe after the engine preflight succeeded.
func (s *Supervisor) MarkReady() { s.ready.Store(true) }

// Ready reports whether the daemon finished startup checks.
func (s *Supervisor) Ready() bool { return s.ready.Load() }

// RegisterSession creates a session in the uploaded state. An empty id mints
// a fresh UUID. The input list is recorded verbatim; staging into the
// workspace happens when processing starts.
func (s *Supervisor) RegisterSession(id string, images []string) (types.SessionSnapshot, error) {
	if id == "" {
		id = uuid.NewString()
	}
	snap, err := s.cfg.Registry.Register(types.SessionSnapshot{
		SessionID:  id,
		Status:     types.StatusUploaded,
		Message:    fmt.Sprintf("%d files uploaded successfully", len(images)),
		ImageCount: len(images),
		StartedAt:  time.Now().UTC(),
	}, images)
	if err != nil {
		return types.SessionSnapshot{}, err
	}
	s.log.Info().Str("session", id).Int("images", len(images)).Msg("session registered")
	return snap, nil
}

// options merges a process request with the configured defaults.
func (s *Supervisor) options(req types.ProcessRequest) engine.Options {
	o := engine.Options{
		Bin:           s.cfg.EngineBin,
		EnableDense:   req.EnableDense,
		EnableMeshing: req.EnableMeshing,
		MaxImageSize:  req.MaxImageSize,
		MatcherType:   req.MatcherType,
		StageTimeout:  s.cfg.StageTimeout,
		DenseTimeout:  s.cfg.DenseTimeout,
	}
	if o.MaxImageSize <= 0 {
		o.MaxImageSize = s.cfg.DefaultMaxImageSize
	}
	if o.MatcherType == "" {
		o.MatcherType = s.cfg.DefaultMatcherType
	}
	return o
}

// StartProcessing validates the request and launches the pipeline on its own
// goroutine. The session is already in the running state when this returns,
// so an immediate status poll never observes a stale uploaded state.
func (s *Supervisor) StartProcessing(id string, req types.ProcessRequest) error {
	snap, err := s.cfg.Registry.Get(id)
	if err != nil {
		return err
	}
	opts := s.options(req)
	if err := engine.Validate(opts); err != nil {
		return err
	}
	if snap.Status.Terminal() {
		return alreadyProcessedError{id: id}
	}

	s.mu.Lock()
	if _, ok := s.running[id]; ok {
		s.mu.Unlock()
		return alreadyRunningError{id: id}
	}
	if len(s.running) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return busyError{cap: s.cfg.MaxConcurrent}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.running[id] = r
	s.mu.Unlock()

	if _, err := s.cfg.Registry.Update(id, func(sn *types.SessionSnapshot) {
		sn.Status = types.StatusRunning
		sn.Stage = ""
		sn.ProgressPercent = 0
		sn.Message = "Initializing processing"
		sn.StartedAt = time.Now().UTC()
		sn.EndedAt = nil
		sn.Error = nil
		sn.Manifest = nil
		sn.CancelRequested = false
	}); err != nil {
		s.release(id, r)
		cancel()
		return err
	}

	s.log.Info().Str("session", id).
		Bool("dense", opts.EnableDense).Bool("meshing", opts.EnableMeshing).
		Str("matcher", opts.MatcherType).Msg("processing started")

	go func() {
		defer s.release(id, r)
		defer cancel()
		s.cfg.Executor.Run(ctx, id, opts)
	}()
	return nil
}

func (s *Supervisor) release(id string, r *run) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
	close(r.done)
}

// Cancel requests cooperative cancellation of the session's running pipeline.
// It returns as soon as the request is recorded; the session reaches the
// cancelled state once the current subprocess has been terminated.
func (s *Supervisor) Cancel(id string) error {
	if _, err := s.cfg.Registry.Get(id); err != nil {
		return err
	}
	s.mu.Lock()
	r, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return notRunningError{id: id}
	}
	if _, err := s.cfg.Registry.Update(id, func(sn *types.SessionSnapshot) {
		sn.CancelRequested = true
	}); err != nil {
		return err
	}
	r.cancel()
	s.log.Info().Str("session", id).Msg("cancellation requested")
	return nil
}

// Cleanup removes the session's workspace and registry entry. Refused while a
// pipeline is running; cancel first, then clean up.
func (s *Supervisor) Cleanup(id string) error {
	snap, err := s.cfg.Registry.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	_, active := s.running[id]
	s.mu.Unlock()
	if active || snap.Status == types.StatusRunning {
		return stillRunningError{id: id}
	}
	if err := s.cfg.Workspaces.Destroy(s.cfg.Workspaces.Open(id)); err != nil {
		return err
	}
	if err := s.cfg.Registry.Remove(id); err != nil {
		return err
	}
	s.log.Info().Str("session", id).Msg("session cleaned up")
	return nil
}

// GetStatus returns the session's current snapshot.
func (s *Supervisor) GetStatus(id string) (types.SessionSnapshot, error) {
	return s.cfg.Registry.Get(id)
}

// GetResults returns the completed session's manifest, or a not-ready error
// for any non-complete state.
func (s *Supervisor) GetResults(id string) (*types.OutputManifest, error) {
	snap, err := s.cfg.Registry.Get(id)
	if err != nil {
		return nil, err
	}
	if snap.Status != types.StatusComplete || snap.Manifest == nil {
		return nil, notReadyError{id: id}
	}
	return snap.Manifest, nil
}

// DaemonStatus aggregates per-session states into the daemon-level view.
func (s *Supervisor) DaemonStatus() types.StatusResponse {
	snaps := s.cfg.Registry.Snapshots()
	resp := types.StatusResponse{
		Sessions:       len(snaps),
		MaxConcurrent:  s.cfg.MaxConcurrent,
		EnginePath:     s.cfg.EngineBin,
		UptimeSeconds:  int64(time.Since(s.start).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	for _, sn := range snaps {
		switch sn.Status {
		case types.StatusRunning, types.StatusPending:
			resp.Running++
		case types.StatusComplete:
			resp.Complete++
		case types.StatusError:
			resp.Errored++
		case types.StatusCancelled:
			resp.Cancelled++
		}
	}
	return resp
}

// RunningCount returns the number of in-flight pipelines.
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown cancels every running pipeline and waits for them to reach
// terminal states, or until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.running))
	for id, r := range s.running {
		s.log.Info().Str("session", id).Msg("cancelling pipeline for shutdown")
		r.cancel()
		runs = append(runs, r)
	}
	s.mu.Unlock()
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
