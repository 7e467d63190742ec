// Package runner implements the build runner (C6): a single
// cooperative loop that recovers crashed builds on startup, dequeues
// pending build IDs, drives them through the ImageBuilder executor,
// and persists every state transition through a read-modify-write of
// the build record.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openwrt-builder/builder/internal/buildregistry"
	"github.com/openwrt-builder/builder/internal/imagebuilder"
	"github.com/openwrt-builder/builder/internal/model"
	"github.com/openwrt-builder/builder/internal/queue"
	"github.com/openwrt-builder/builder/internal/telemetry"
)

// Executor is C6's substitution point (§9): anything satisfying this
// can drive a build. internal/imagebuilder.Executor satisfies it in
// production; tests supply a scripted fake.
type Executor interface {
	Execute(ctx context.Context, build *model.Build, onUpdate imagebuilder.OnUpdate, cancel imagebuilder.CancelCheck) (*imagebuilder.Result, error)
}

// Config is the runtime configuration for a Runner.
type Config struct {
	PollInterval time.Duration
}

// Runner is the single-worker build dispatch loop.
type Runner struct {
	cfg       Config
	registry  *buildregistry.Registry
	queue     *queue.Queue
	executor  Executor
	telemetry *telemetry.Build
	logger    *slog.Logger
}

// New returns a Runner wired to its collaborators. tel may be nil
// (telemetry is optional per SPEC_FULL.md's OTLP-endpoint gating).
func New(cfg Config, registry *buildregistry.Registry, q *queue.Queue, executor Executor, tel *telemetry.Build, logger *slog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, registry: registry, queue: q, executor: executor, telemetry: tel, logger: logger}
}

// RequeueRunningOnStartup implements the §4.6 crash-recovery pass:
// every record left in "running" is reset to "queued" and
// re-enqueued. Unlike the original Python (which rewrites the record
// but never re-enqueues it — a bug called out in SPEC_FULL.md §9),
// this always calls queue.Enqueue after the rewrite.
func (r *Runner) RequeueRunningOnStartup() (int, error) {
	builds, err := r.registry.ListBuilds()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range builds {
		if b.State != model.StateRunning {
			continue
		}
		if _, err := r.registry.UpdateBuild(b.BuildID, func(b *model.Build) {
			b.State = model.StateQueued
			b.Progress = 0
			b.Message = "runner_restart_requeued"
			b.Phase = "queued"
			b.RunnerPID = nil
		}); err != nil {
			r.logger.Error("requeue: failed to rewrite record", "build_id", b.BuildID, "error", err)
			continue
		}
		if _, err := r.queue.Enqueue(b.BuildID); err != nil {
			r.logger.Error("requeue: failed to enqueue", "build_id", b.BuildID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// RunForever runs the main dispatch loop until ctx is canceled.
func (r *Runner) RunForever(ctx context.Context) error {
	n, err := r.RequeueRunningOnStartup()
	if err != nil {
		return fmt.Errorf("runner: startup recovery: %w", err)
	}
	if n > 0 {
		r.logger.Info("requeued builds interrupted by a prior crash", "count", n)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buildID, err := r.queue.Dequeue()
		if errors.Is(err, queue.ErrEmpty) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			r.logger.Error("dequeue failed", "error", err)
			continue
		}

		r.dispatch(ctx, buildID)
	}
}

// dispatch runs one build end-to-end, implementing §4.6's main-loop steps 2-11.
func (r *Runner) dispatch(ctx context.Context, buildID string) {
	build, err := r.registry.GetBuild(buildID)
	if err != nil {
		r.logger.Warn("dropping stale queue entry: record missing or invalid", "build_id", buildID)
		return
	}
	if build.State.IsTerminal() || build.State != model.StateQueued {
		return
	}
	if build.CancelRequested {
		r.markCanceled(buildID)
		return
	}

	build, err = r.registry.UpdateBuild(buildID, func(b *model.Build) {
		b.State = model.StateRunning
		b.Progress = 1
		b.Message = "starting"
		b.Phase = "starting"
		pid := os.Getpid()
		b.RunnerPID = &pid
		b.AppendPhaseEvent(model.PhaseEvent{At: time.Now().UTC(), Phase: "starting", Progress: 1, Message: "starting"})
	})
	if err != nil {
		r.logger.Error("failed to transition build to running", "build_id", buildID, "error", err)
		return
	}

	if _, err := r.registry.UpdateBuild(buildID, func(b *model.Build) {
		b.Progress = 5
		b.Phase = "preparing"
		b.Message = "preparing"
	}); err != nil {
		r.logger.Error("failed to persist preparing phase", "build_id", buildID, "error", err)
	}

	build, err = r.registry.GetBuild(buildID)
	if err != nil {
		r.logger.Error("failed to re-read build before execution", "build_id", buildID, "error", err)
		return
	}
	if build.CancelRequested {
		r.markCanceled(buildID)
		return
	}

	spanCtx, span := r.telemetry.StartSpan(ctx, buildID)
	defer span.End()

	onUpdate := func(u imagebuilder.Update) {
		r.applyUpdate(buildID, u)
		if u.PhaseEvent != nil {
			span.AddPhaseEvent(u.PhaseEvent.Phase, u.PhaseEvent.Progress)
		}
	}
	cancelCheck := func() bool {
		b, err := r.registry.GetBuild(buildID)
		return err == nil && b.CancelRequested
	}

	result, execErr := r.executor.Execute(spanCtx, build, onUpdate, cancelCheck)

	if execErr != nil {
		if errors.Is(execErr, imagebuilder.ErrBuildCanceled) {
			r.markCanceled(buildID)
			r.telemetry.RecordOutcome(spanCtx, model.StateCanceled)
			return
		}
		if _, err := r.registry.UpdateBuild(buildID, func(b *model.Build) {
			b.State = model.StateFailed
			b.Message = execErr.Error()
			b.Phase = "failed"
			b.RunnerPID = nil
		}); err != nil {
			r.logger.Error("failed to persist failed state", "build_id", buildID, "error", err)
		}
		r.telemetry.RecordOutcome(spanCtx, model.StateFailed)
		return
	}

	final, err := r.registry.GetBuild(buildID)
	if err != nil {
		r.logger.Error("failed to re-read build after execution", "build_id", buildID, "error", err)
		return
	}
	if final.CancelRequested {
		r.markCanceled(buildID)
		r.telemetry.RecordOutcome(spanCtx, model.StateCanceled)
		return
	}

	if _, err := r.registry.UpdateBuild(buildID, func(b *model.Build) {
		b.State = model.StateDone
		b.Progress = 100
		b.Message = "done"
		b.Phase = "done"
		b.Result = &model.BuildResult{Artifacts: result.Artifacts}
		b.RunnerPID = nil
		b.AppendPhaseEvent(model.PhaseEvent{At: time.Now().UTC(), Phase: "done", Progress: 100, Message: "done"})
	}); err != nil {
		r.logger.Error("failed to persist done state", "build_id", buildID, "error", err)
	}
	r.telemetry.RecordOutcome(spanCtx, model.StateDone)
}

func (r *Runner) markCanceled(buildID string) {
	if _, err := r.registry.UpdateBuild(buildID, func(b *model.Build) {
		b.State = model.StateCanceled
		b.Message = "canceled"
		b.RunnerPID = nil
	}); err != nil {
		r.logger.Error("failed to persist canceled state", "build_id", buildID, "error", err)
	}
}

// applyUpdate folds one executor Update into the build record via a
// single read-modify-write, enforcing the phase-event and log-tail caps.
func (r *Runner) applyUpdate(buildID string, u imagebuilder.Update) {
	if _, err := r.registry.UpdateBuild(buildID, func(b *model.Build) {
		if u.Progress > 0 {
			b.Progress = u.Progress
		}
		if u.Phase != "" {
			b.Phase = u.Phase
		}
		if u.Message != "" {
			b.Message = u.Message
		}
		if u.StdoutPath != "" || u.StderrPath != "" || u.StdoutChunk != "" || u.StderrChunk != "" {
			if b.Logs == nil {
				b.Logs = &model.BuildLogs{}
			}
			if u.StdoutPath != "" {
				b.Logs.StdoutPath = u.StdoutPath
			}
			if u.StderrPath != "" {
				b.Logs.StderrPath = u.StderrPath
			}
			b.Logs.StdoutTail = appendCapped(b.Logs.StdoutTail, u.StdoutChunk, model.LogTailCap)
			b.Logs.StderrTail = appendCapped(b.Logs.StderrTail, u.StderrChunk, model.LogTailCap)
			now := time.Now().UTC()
			b.Logs.UpdatedAt = &now
		}
		if u.PhaseEvent != nil {
			b.AppendPhaseEvent(*u.PhaseEvent)
		}
	}); err != nil {
		r.logger.Error("failed to persist progress update", "build_id", buildID, "error", err)
	}
}

func appendCapped(existing, chunk string, cap int) string {
	if chunk == "" {
		return existing
	}
	combined := existing + chunk
	if len(combined) > cap {
		combined = combined[len(combined)-cap:]
	}
	return combined
}
