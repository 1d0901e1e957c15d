package compile

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/postprocess"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/spawn"
	"github.com/grovetools/elmwatch/logging"
)

// Engine executes units of work. Target state is only touched on the
// orchestrator goroutine: StartOutputAction snapshots a unit before the work
// goroutine runs, and ApplyOutcome lands the result afterwards.
type Engine struct {
	Executor spawn.Executor
	Pool     *postprocess.Pool
	RunMode  project.RunMode
	// WatchRoot is the working directory for postprocess commands.
	WatchRoot string
	// Now is injectable for tests.
	Now    func() time.Time
	Logger *logrus.Entry
}

// NewEngine wires an Engine with production defaults.
func NewEngine(executor spawn.Executor, pool *postprocess.Pool, runMode project.RunMode, watchRoot string) *Engine {
	return &Engine{
		Executor:  executor,
		Pool:      pool,
		RunMode:   runMode,
		WatchRoot: watchRoot,
		Now:       time.Now,
		Logger:    logging.NewLogger("compile"),
	}
}

// WorkUnit is an immutable snapshot of one unit of work.
type WorkUnit struct {
	Kind          ActionKind
	ElmJsonPath   string
	OutputPath    project.OutputPath
	Inputs        []string
	Mode          project.CompilationMode
	Postprocess   []string
	TypecheckOnly bool
	// Code is the compiled artifact, for postprocess units.
	Code []byte
}

// Outcome is what a unit of work produced.
type Outcome struct {
	Code []byte
	Err  *errors.WatchError
	// NeedsPostprocess means the compile succeeded and a postprocess unit
	// must follow before the target is done.
	NeedsPostprocess bool
	// RelatedElmFilePaths is the refreshed watch set after a compile.
	RelatedElmFilePaths map[string]struct{}
}

// StartOutputAction transitions the target into its running state and
// returns the snapshot the work goroutine operates on. Dirty is cleared at
// this moment, not at completion: a file change during the compile re-sets
// it and the finished result is discarded.
func StartOutputAction(action OutputAction) WorkUnit {
	state := action.Target.State

	unit := WorkUnit{
		Kind:          action.Kind,
		ElmJsonPath:   action.ElmJson.Path,
		OutputPath:    action.Target.Path,
		Inputs:        append([]string{}, state.Inputs...),
		Mode:          state.CompilationMode,
		Postprocess:   append([]string{}, state.Postprocess...),
		TypecheckOnly: action.Target.Path.Null || action.TypecheckOnly,
	}

	switch action.Kind {
	case ActionCompile:
		state.Dirty = false
		state.Status = project.RunningElmMake{}
	case ActionPostprocess:
		if queued, ok := state.Status.(project.QueuedForPostprocess); ok {
			unit.Code = queued.Code
		}
		state.Status = project.RunningPostprocess{}
	}

	return unit
}

// Execute performs the work. It touches no shared state; safe on any
// goroutine.
func (e *Engine) Execute(unit WorkUnit) Outcome {
	switch unit.Kind {
	case ActionCompile:
		return e.executeCompile(unit)
	case ActionPostprocess:
		return e.executePostprocess(unit)
	}
	return Outcome{Err: errors.New(errors.ErrCodeOtherSpawnError, "unknown action kind")}
}

func (e *Engine) executeCompile(unit WorkUnit) Outcome {
	code, compileErr := ElmMake(e.Executor, MakeOptions{
		ElmJsonPath:   unit.ElmJsonPath,
		Mode:          unit.Mode,
		Inputs:        unit.Inputs,
		TypecheckOnly: unit.TypecheckOnly,
	})

	outcome := Outcome{
		Code: code,
		Err:  compileErr,
		// Imports can change with every compile; refresh so the next watcher
		// event classifies correctly.
		RelatedElmFilePaths: project.RelatedElmFilePaths(unit.ElmJsonPath, unit.Inputs),
	}
	if compileErr == nil && len(unit.Postprocess) > 0 && !unit.TypecheckOnly {
		outcome.NeedsPostprocess = true
	}
	return outcome
}

func (e *Engine) executePostprocess(unit WorkUnit) Outcome {
	extraArgs := []string{
		unit.OutputPath.TargetName,
		string(unit.Mode),
		string(e.RunMode),
	}

	var result postprocess.Result
	if len(unit.Postprocess) > 0 && unit.Postprocess[0] == project.PostprocessKindElmWatchNode {
		worker, err := e.Pool.GetOrCreateAvailableWorker()
		if err != nil {
			result = postprocess.Result{Err: errors.OtherSpawnError("node", err)}
		} else {
			result = worker.Postprocess(postprocess.Request{
				Cwd:       e.WatchRoot,
				UserArgs:  unit.Postprocess[1:],
				ExtraArgs: extraArgs,
				Code:      string(unit.Code),
			})
		}
	} else {
		result = postprocess.RunExternal(e.Executor, unit.Postprocess, extraArgs, unit.Code, e.WatchRoot)
	}

	return Outcome{Code: result.Code, Err: result.Err}
}

// ApplyOutcome lands a finished unit on the target. Runs on the orchestrator
// goroutine. A target re-dirtied while the unit ran becomes Interrupted and
// the result is discarded.
func (e *Engine) ApplyOutcome(target *project.Target, unit WorkUnit, outcome Outcome) {
	state := target.State

	if outcome.RelatedElmFilePaths != nil {
		state.AllRelatedElmFilePaths = outcome.RelatedElmFilePaths
	}

	if state.Dirty {
		e.Logger.WithField("target", target.Path.TargetName).Debug("discarding interrupted result")
		state.Status = project.Interrupted{}
		return
	}

	if outcome.Err != nil {
		state.Status = project.CompileError{Error: outcome.Err}
		return
	}

	if outcome.NeedsPostprocess {
		state.Status = project.QueuedForPostprocess{Code: outcome.Code}
		return
	}

	e.succeed(target, outcome.Code)
}

// HandleOutputAction performs one unit of work synchronously: snapshot,
// execute, apply. The one-shot make driver uses this; the hot orchestrator
// splits the phases across goroutines itself.
func (e *Engine) HandleOutputAction(action OutputAction) {
	unit := StartOutputAction(action)
	outcome := e.Execute(unit)
	e.ApplyOutcome(action.Target, unit, outcome)
}

// succeed writes the artifact back to disk and records Success with a
// strictly increasing timestamp.
func (e *Engine) succeed(target *project.Target, code []byte) {
	state := target.State

	if !target.Path.Null && len(code) > 0 {
		if err := writeArtifact(target.Path.Absolute, code); err != nil {
			state.Status = project.CompileError{Error: errors.StdoutDecodeError(target.Path.Absolute, err)}
			return
		}
	}

	// Strictly increasing across successive successes, even when two
	// compiles land within the same millisecond.
	timestamp := e.Now().UnixMilli()
	if timestamp <= state.LastCompiledTimestamp {
		timestamp = state.LastCompiledTimestamp + 1
	}

	state.Status = project.Success{Code: code, CompiledTimestamp: timestamp}
	state.LastCompiledTimestamp = timestamp
}

func writeArtifact(path string, code []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, code, 0644)
}
