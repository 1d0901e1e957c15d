package compile

import (
	"runtime"
	"sort"

	"github.com/grovetools/elmwatch/internal/project"
)

// ActionKind says what one unit of work does.
type ActionKind int

const (
	ActionCompile ActionKind = iota
	ActionPostprocess
)

// OutputAction is one runnable unit of work for one target.
type OutputAction struct {
	ElmJson *project.ElmJson
	Target  *project.Target
	Kind    ActionKind
	// Priority is the highest connected-client priority for this target, or
	// zero when no client needs it.
	Priority int64
	// TypecheckOnly compiles without producing an artifact. Preferred when no
	// client currently needs the full artifact.
	TypecheckOnly bool
	// index is the declaration position, the tie-breaker after priority.
	index int
}

// OutputActions is the scheduling answer for one cycle.
type OutputActions struct {
	Actions        []OutputAction
	Total          int
	NumExecuting   int
	NumInterrupted int
}

// GetOutputActionsParams feeds the scheduler.
type GetOutputActionsParams struct {
	Project            *project.Project
	RunMode            project.RunMode
	IncludeInterrupted bool
	// PrioritizedOutputs maps output keys to the highest priority of any
	// client connected to them.
	PrioritizedOutputs map[string]int64
	// ConcurrencyLimit caps in-flight actions; 0 means max(1, NumCPU).
	ConcurrencyLimit int
}

// GetOutputActions computes the next batch of runnable actions. Dirty targets
// become compile actions; targets whose compile finished but whose
// postprocess is pending become postprocess actions. Interrupted targets are
// re-enqueued only when IncludeInterrupted is set. Targets wanted by
// connected clients go first (higher priority first), then declaration order.
func GetOutputActions(params GetOutputActionsParams) OutputActions {
	limit := params.ConcurrencyLimit
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	if limit < 1 {
		limit = 1
	}

	var result OutputActions
	var candidates []OutputAction

	index := 0
	for _, elmJson := range params.Project.ElmJsons {
		for _, target := range elmJson.Targets {
			index++
			result.Total++

			switch target.State.Status.(type) {
			case project.RunningElmMake, project.RunningPostprocess:
				result.NumExecuting++
				continue
			case project.QueuedForPostprocess:
				candidates = append(candidates, OutputAction{
					ElmJson:  elmJson,
					Target:   target,
					Kind:     ActionPostprocess,
					Priority: params.PrioritizedOutputs[target.Path.Key()],
					index:    index,
				})
				continue
			case project.Interrupted:
				if !params.IncludeInterrupted {
					result.NumInterrupted++
					continue
				}
			}

			if !target.State.Dirty {
				continue
			}

			priority, wanted := params.PrioritizedOutputs[target.Path.Key()]
			candidates = append(candidates, OutputAction{
				ElmJson:       elmJson,
				Target:        target,
				Kind:          ActionCompile,
				Priority:      priority,
				TypecheckOnly: params.RunMode == project.RunModeHot && !wanted,
				index:         index,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].index < candidates[j].index
	})

	room := limit - result.NumExecuting
	if room < 0 {
		room = 0
	}
	if len(candidates) > room {
		candidates = candidates[:room]
	}
	result.Actions = candidates
	return result
}
