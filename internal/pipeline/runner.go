package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"reconstructd/internal/engine"
	"reconstructd/internal/workspace"
)

// FailureReason classifies stage failures.
type FailureReason string

const (
	ReasonTimeout         FailureReason = "timeout"
	ReasonExit            FailureReason = "nonzero-exit"
	ReasonMissingArtifact FailureReason = "missing-artifact"
	ReasonSpawn           FailureReason = "spawn"
)

// StageFailure is fatal to the pipeline: fail-fast, no retries, since
// reconstruction stages are expensive and not safe to blindly rerun.
type StageFailure struct {
	Stage      engine.Stage
	Reason     FailureReason
	ExitCode   int
	Diagnostic string
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed (%s, exit=%d)", e.Stage, e.Reason, e.ExitCode)
}

// AsStageFailure extracts a StageFailure from err, if it is one.
func AsStageFailure(err error) (*StageFailure, bool) {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf, true
	}
	return nil, false
}

const (
	// Cap on captured diagnostic output per stage.
	diagBufferCap = 64 << 10
	// Size of the excerpt stored in the session's error field.
	diagExcerptCap = 4 << 10
	// Grace period between SIGTERM and SIGKILL.
	termGrace = 5 * time.Second
)

const truncationMarker = "\n...[diagnostic output truncated]...\n"

// boundedBuffer captures subprocess output up to a cap; writes beyond the cap
// are dropped and the excerpt carries a truncation marker.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := diagBufferCap - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else {
		b.truncated = true
	}
	return len(p), nil
}

// Excerpt returns the tail of the captured output, bounded by diagExcerptCap.
func (b *boundedBuffer) Excerpt() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf
	if len(s) > diagExcerptCap {
		s = s[len(s)-diagExcerptCap:]
	}
	out := string(s)
	if b.truncated {
		out += truncationMarker
	}
	return out
}

// Runner invokes one external reconstruction stage as a subprocess, enforcing
// the stage timeout and cooperative cancellation.
type Runner struct {
	log zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Run executes all commands of one stage inside the workspace, then verifies
// the stage's expected artifacts. It returns cancelled=true when ctx fired
// while the subprocess was running; cancellation is not an error. A non-nil
// error is always a *StageFailure.
func (r *Runner) Run(ctx context.Context, desc engine.Descriptor, h *workspace.Handle) (bool, error) {
	start := time.Now()
	deadline := start.Add(desc.Timeout)
	buf := &boundedBuffer{}
	for _, argv := range desc.Commands {
		cancelled, err := r.runCommand(ctx, desc, h, argv, deadline, buf)
		if cancelled || err != nil {
			return cancelled, err
		}
	}
	// Exit code zero alone is not success: degenerate runs (e.g. zero
	// reconstructed points) can exit cleanly without producing output.
	for _, rel := range desc.Expected {
		fi, err := os.Stat(h.Path(rel))
		if err != nil || fi.Size() == 0 {
			stageFailures.WithLabelValues(string(desc.Stage), string(ReasonMissingArtifact)).Inc()
			return false, &StageFailure{
				Stage:      desc.Stage,
				Reason:     ReasonMissingArtifact,
				Diagnostic: fmt.Sprintf("expected artifact %s missing or empty\n%s", rel, buf.Excerpt()),
			}
		}
	}
	stageDuration.WithLabelValues(string(desc.Stage)).Observe(time.Since(start).Seconds())
	return false, nil
}

func (r *Runner) runCommand(ctx context.Context, desc engine.Descriptor, h *workspace.Handle, argv engine.Command, deadline time.Time, buf *boundedBuffer) (bool, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = h.Dir()
	cmd.Stdout = buf
	cmd.Stderr = buf
	// Own process group so termination reaches helper processes the engine
	// spawns, and a bounded pipe wait so a lingering child holding the output
	// pipes cannot stall Wait.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = termGrace
	if err := cmd.Start(); err != nil {
		stageFailures.WithLabelValues(string(desc.Stage), string(ReasonSpawn)).Inc()
		return false, &StageFailure{Stage: desc.Stage, Reason: ReasonSpawn, ExitCode: -1, Diagnostic: err.Error()}
	}
	r.log.Debug().Str("session", h.SessionID()).Str("stage", string(desc.Stage)).
		Str("cmd", argv[1]).Int("pid", cmd.Process.Pid).Msg("stage command started")

	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case werr := <-waitErrCh:
		if werr == nil || errors.Is(werr, exec.ErrWaitDelay) {
			// ErrWaitDelay means the process exited cleanly but something kept
			// the output pipes open past the grace period.
			return false, nil
		}
		code := -1
		var xerr *exec.ExitError
		if errors.As(werr, &xerr) {
			code = xerr.ExitCode()
		}
		r.log.Warn().Str("session", h.SessionID()).Str("stage", string(desc.Stage)).
			Int("exit_code", code).Msg("stage command failed")
		stageFailures.WithLabelValues(string(desc.Stage), string(ReasonExit)).Inc()
		return false, &StageFailure{Stage: desc.Stage, Reason: ReasonExit, ExitCode: code, Diagnostic: buf.Excerpt()}
	case <-ctx.Done():
		r.terminate(cmd, waitErrCh)
		r.log.Info().Str("session", h.SessionID()).Str("stage", string(desc.Stage)).Msg("stage command cancelled")
		return true, nil
	case <-timer.C:
		r.terminate(cmd, waitErrCh)
		r.log.Warn().Str("session", h.SessionID()).Str("stage", string(desc.Stage)).
			Dur("timeout", desc.Timeout).Msg("stage command timed out")
		stageFailures.WithLabelValues(string(desc.Stage), string(ReasonTimeout)).Inc()
		return false, &StageFailure{Stage: desc.Stage, Reason: ReasonTimeout, ExitCode: -1, Diagnostic: buf.Excerpt()}
	}
}

// terminate sends SIGTERM to the process group, waits a grace period, then
// kills the group.
func (r *Runner) terminate(cmd *exec.Cmd, waitErrCh <-chan error) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-waitErrCh:
	case <-time.After(termGrace):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Process.Kill()
		<-waitErrCh
	}
}
