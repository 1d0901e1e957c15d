// Package project holds the resolved project model: targets, their outputs,
// per-target state, and the persisted runtime file.
package project

import (
	"github.com/grovetools/elmwatch/errors"
)

// RunMode distinguishes one-shot builds from the long-running watch mode.
type RunMode string

const (
	RunModeMake RunMode = "make"
	RunModeHot  RunMode = "hot"
)

// CompilationMode selects the compiler's output flavor for a target.
type CompilationMode string

const (
	ModeStandard CompilationMode = "standard"
	ModeDebug    CompilationMode = "debug"
	ModeOptimize CompilationMode = "optimize"
)

// ValidCompilationMode reports whether s names a known mode.
func ValidCompilationMode(s string) bool {
	switch CompilationMode(s) {
	case ModeStandard, ModeDebug, ModeOptimize:
		return true
	}
	return false
}

// OutputPath identifies where a target's artifact goes: a real file path with
// the user's original spelling, or the null sink (compile-only, nothing
// written).
type OutputPath struct {
	TargetName string
	// Original is the user-written form from elm-watch.json, used in URLs and
	// the persisted state file. Empty for the null sink.
	Original string
	// Absolute is the resolved artifact path. Empty for the null sink.
	Absolute string
	Null     bool
}

// Key returns the stable identifier for this output: the original spelling
// for real paths, the target name for null sinks.
func (p OutputPath) Key() string {
	if p.Null {
		return p.TargetName
	}
	return p.Original
}

// PostprocessKindElmWatchNode is the first token selecting the worker pool
// instead of an external executable.
const PostprocessKindElmWatchNode = "elm-watch-node"

// OutputState is the mutable per-target state for one run.
type OutputState struct {
	// Inputs is the non-empty ordered list of entry-point file paths (absolute).
	Inputs []string

	CompilationMode CompilationMode

	// Postprocess is nil when absent, otherwise a non-empty command vector.
	Postprocess []string

	// AllRelatedElmFilePaths decides whether a file event affects this target.
	AllRelatedElmFilePaths map[string]struct{}

	// Dirty means the artifact is known stale and must be rebuilt.
	Dirty bool

	Status Status

	// LastCompiledTimestamp remembers the previous Success timestamp so the
	// next one can be forced strictly greater.
	LastCompiledTimestamp int64
}

// Status is the current terminal or in-progress result of a target.
//
// The Running variants persist across event cycles while their unit of work
// executes, and QueuedForPostprocess holds the artifact until the next
// scheduling pass picks it up.
type Status interface{ isStatus() }

// NotWrittenToDisk is the initial status before the first compile.
type NotWrittenToDisk struct{}

// QueuedForElmMake means a compile action has been computed but not dispatched.
type QueuedForElmMake struct{}

// RunningElmMake means the compiler child process is executing.
type RunningElmMake struct{}

// QueuedForPostprocess carries the compiled artifact awaiting postprocessing.
type QueuedForPostprocess struct{ Code []byte }

// RunningPostprocess means the postprocess stage is executing.
type RunningPostprocess struct{}

// Interrupted means the compile started but was superseded by a new dirty
// flag before completion.
type Interrupted struct{}

// Success is the only status carrying the artifact bytes and a timestamp.
type Success struct {
	Code              []byte
	CompiledTimestamp int64
}

// CompileError wraps the tagged error family: compiler-not-found, spawn
// failures, non-zero exits, JSON parse failures, structured compile errors,
// and the whole worker-script family.
type CompileError struct{ Error *errors.WatchError }

func (NotWrittenToDisk) isStatus()     {}
func (QueuedForElmMake) isStatus()     {}
func (RunningElmMake) isStatus()       {}
func (QueuedForPostprocess) isStatus() {}
func (RunningPostprocess) isStatus()   {}
func (Interrupted) isStatus()          {}
func (Success) isStatus()              {}
func (CompileError) isStatus()         {}

// Target pairs an output path with its state.
type Target struct {
	Path  OutputPath
	State *OutputState
}

// ElmJson groups the targets that share one elm.json manifest, in declaration
// order.
type ElmJson struct {
	Path    string
	Targets []*Target
}

// OutputError is a configuration-level error attached to a specific output,
// collected at project load and reprinted every compile cycle.
type OutputError struct {
	Path  OutputPath
	Error *errors.WatchError
	// RelatedFiles are the paths this error refers to; a watcher event on one
	// of them schedules a restart.
	RelatedFiles map[string]struct{}
}

// Project is the fully resolved input to a run. Immutable except for the
// OutputState values it points to.
type Project struct {
	WatchRoot  string
	ConfigPath string
	// ElmJsons is an ordered mapping from manifest path to targets; iteration
	// order is declaration order, which breaks scheduling ties.
	ElmJsons       []*ElmJson
	ElmJsonsErrors []*OutputError
	// Disabled maps output keys configured but not selected for this run.
	Disabled map[string]bool
	// Port is the optional port from elm-watch.json (0 = none configured).
	Port int
}

// EnabledOutputs returns the output keys available to clients, in declaration
// order.
func (p *Project) EnabledOutputs() []string {
	var outputs []string
	for _, elmJson := range p.ElmJsons {
		for _, target := range elmJson.Targets {
			outputs = append(outputs, target.Path.Key())
		}
	}
	return outputs
}

// DisabledOutputs returns the disabled output keys.
func (p *Project) DisabledOutputs() []string {
	var outputs []string
	for key := range p.Disabled {
		outputs = append(outputs, key)
	}
	return outputs
}

// FindTarget looks up an enabled target by output key.
func (p *Project) FindTarget(key string) (*ElmJson, *Target, bool) {
	for _, elmJson := range p.ElmJsons {
		for _, target := range elmJson.Targets {
			if target.Path.Key() == key {
				return elmJson, target, true
			}
		}
	}
	return nil, nil, false
}

// SomeTargetIsDirty reports whether any enabled target needs a rebuild.
func (p *Project) SomeTargetIsDirty() bool {
	for _, elmJson := range p.ElmJsons {
		for _, target := range elmJson.Targets {
			if target.State.Dirty {
				return true
			}
		}
	}
	return false
}
