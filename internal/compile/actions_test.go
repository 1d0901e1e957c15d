package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/elmwatch/internal/project"
)

func makeTarget(name string, status project.Status, dirty bool) *project.Target {
	return &project.Target{
		Path: project.OutputPath{
			TargetName: name,
			Original:   name + ".js",
			Absolute:   "/app/" + name + ".js",
		},
		State: &project.OutputState{
			Inputs: []string{"/app/src/" + name + ".elm"},
			Dirty:  dirty,
			Status: status,
		},
	}
}

func makeProject(targets ...*project.Target) *project.Project {
	return &project.Project{
		ElmJsons: []*project.ElmJson{{Path: "/app/elm.json", Targets: targets}},
	}
}

func TestDirtyTargetsGetCompileActions(t *testing.T) {
	p := makeProject(
		makeTarget("a", project.NotWrittenToDisk{}, true),
		makeTarget("b", project.Success{}, false),
	)

	actions := GetOutputActions(GetOutputActionsParams{
		Project:          p,
		RunMode:          project.RunModeMake,
		ConcurrencyLimit: 4,
	})

	require.Len(t, actions.Actions, 1)
	assert.Equal(t, "a", actions.Actions[0].Target.Path.TargetName)
	assert.Equal(t, ActionCompile, actions.Actions[0].Kind)
	assert.Equal(t, 2, actions.Total)
}

// Invariant: dirty implies an action is returned, unless the target is
// already executing or interrupted.
func TestDirtyImpliesActionOrExecuting(t *testing.T) {
	statuses := []project.Status{
		project.NotWrittenToDisk{},
		project.Success{},
		project.CompileError{},
		project.RunningElmMake{},
		project.RunningPostprocess{},
		project.Interrupted{},
	}

	for _, status := range statuses {
		p := makeProject(makeTarget("t", status, true))
		actions := GetOutputActions(GetOutputActionsParams{
			Project:          p,
			RunMode:          project.RunModeMake,
			ConcurrencyLimit: 4,
		})
		covered := len(actions.Actions) == 1 ||
			actions.NumExecuting == 1 ||
			actions.NumInterrupted == 1
		assert.True(t, covered, "status %T left a dirty target unscheduled", status)
	}
}

func TestConcurrencyCap(t *testing.T) {
	p := makeProject(
		makeTarget("a", project.NotWrittenToDisk{}, true),
		makeTarget("b", project.NotWrittenToDisk{}, true),
		makeTarget("c", project.RunningElmMake{}, false),
		makeTarget("d", project.NotWrittenToDisk{}, true),
	)

	actions := GetOutputActions(GetOutputActionsParams{
		Project:          p,
		RunMode:          project.RunModeMake,
		ConcurrencyLimit: 2,
	})

	// One slot is taken by the executing target.
	assert.Equal(t, 1, actions.NumExecuting)
	require.Len(t, actions.Actions, 1)
	assert.Equal(t, "a", actions.Actions[0].Target.Path.TargetName)
}

func TestClientPriorityOrdersActions(t *testing.T) {
	p := makeProject(
		makeTarget("a", project.NotWrittenToDisk{}, true),
		makeTarget("b", project.NotWrittenToDisk{}, true),
		makeTarget("c", project.NotWrittenToDisk{}, true),
	)

	actions := GetOutputActions(GetOutputActionsParams{
		Project: p,
		RunMode: project.RunModeHot,
		PrioritizedOutputs: map[string]int64{
			"b.js": 200,
			"c.js": 100,
		},
		ConcurrencyLimit: 8,
	})

	require.Len(t, actions.Actions, 3)
	assert.Equal(t, "b", actions.Actions[0].Target.Path.TargetName)
	assert.Equal(t, "c", actions.Actions[1].Target.Path.TargetName)
	assert.Equal(t, "a", actions.Actions[2].Target.Path.TargetName)
}

func TestTypecheckOnlyWhenNoClientNeedsArtifact(t *testing.T) {
	p := makeProject(
		makeTarget("wanted", project.NotWrittenToDisk{}, true),
		makeTarget("unwanted", project.NotWrittenToDisk{}, true),
	)

	actions := GetOutputActions(GetOutputActionsParams{
		Project:            p,
		RunMode:            project.RunModeHot,
		PrioritizedOutputs: map[string]int64{"wanted.js": 1},
		ConcurrencyLimit:   8,
	})

	require.Len(t, actions.Actions, 2)
	assert.False(t, actions.Actions[0].TypecheckOnly)
	assert.True(t, actions.Actions[1].TypecheckOnly)
}

func TestMakeModeNeverTypechecksOnly(t *testing.T) {
	p := makeProject(makeTarget("a", project.NotWrittenToDisk{}, true))
	actions := GetOutputActions(GetOutputActionsParams{
		Project:          p,
		RunMode:          project.RunModeMake,
		ConcurrencyLimit: 8,
	})
	require.Len(t, actions.Actions, 1)
	assert.False(t, actions.Actions[0].TypecheckOnly)
}

func TestInterruptedOnlyWithFlag(t *testing.T) {
	p := makeProject(makeTarget("a", project.Interrupted{}, true))

	without := GetOutputActions(GetOutputActionsParams{
		Project:          p,
		RunMode:          project.RunModeHot,
		ConcurrencyLimit: 8,
	})
	assert.Empty(t, without.Actions)
	assert.Equal(t, 1, without.NumInterrupted)

	with := GetOutputActions(GetOutputActionsParams{
		Project:            p,
		RunMode:            project.RunModeHot,
		IncludeInterrupted: true,
		ConcurrencyLimit:   8,
	})
	require.Len(t, with.Actions, 1)
	assert.Equal(t, 0, with.NumInterrupted)
}

func TestPendingPostprocessBecomesAction(t *testing.T) {
	p := makeProject(makeTarget("a", project.QueuedForPostprocess{Code: []byte("js")}, false))

	actions := GetOutputActions(GetOutputActionsParams{
		Project:          p,
		RunMode:          project.RunModeHot,
		ConcurrencyLimit: 8,
	})

	require.Len(t, actions.Actions, 1)
	assert.Equal(t, ActionPostprocess, actions.Actions[0].Kind)
}
