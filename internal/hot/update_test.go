package hot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/watcher"
	"github.com/grovetools/elmwatch/internal/ws"
)

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func newTestProject(root string) *project.Project {
	mainElm := filepath.Join(root, "src", "Main.elm")
	return &project.Project{
		WatchRoot:  root,
		ConfigPath: filepath.Join(root, "elm-watch.json"),
		ElmJsons: []*project.ElmJson{{
			Path: filepath.Join(root, "elm.json"),
			Targets: []*project.Target{{
				Path: project.OutputPath{
					TargetName: "main",
					Original:   "build/main.js",
					Absolute:   filepath.Join(root, "build", "main.js"),
				},
				State: &project.OutputState{
					Inputs:                 []string{mainElm},
					CompilationMode:        project.ModeStandard,
					AllRelatedElmFilePaths: map[string]struct{}{mainElm: {}},
					Dirty:                  false,
					Status:                 project.Success{Code: []byte("js"), CompiledTimestamp: 5},
				},
			}},
		}},
		Disabled: map[string]bool{},
	}
}

func newTestUpdater(p *project.Project) *Updater {
	return &Updater{
		Project:            p,
		Version:            "1.0.0",
		Now:                fixedNow,
		ConcurrencyLimit:   4,
		LookupConnection:   func(*ws.Conn) (project.OutputPath, bool, bool) { return project.OutputPath{}, false, false },
		PrioritizedOutputs: func() map[string]int64 { return map[string]int64{} },
	}
}

func idleModel() Model {
	return Model{NextAction: NoAction{}, HotState: Idle{}}
}

func watcherMsg(name watcher.EventName, path string) GotWatcherEvent {
	return GotWatcherEvent{Event: watcher.Event{Date: fixedNow(), Name: name, Path: path}}
}

func hasCmd[T Cmd](cmds []Cmd) bool {
	for _, cmd := range cmds {
		if _, ok := cmd.(T); ok {
			return true
		}
	}
	return false
}

func TestRelatedElmFileSchedulesCompile(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, cmds := u.Update(watcherMsg(watcher.Changed, "/app/src/Main.elm"), idleModel())

	compileAction, ok := model.NextAction.(Compile)
	require.True(t, ok, "expected Compile next action, got %T", model.NextAction)
	require.Len(t, compileAction.Events, 1)
	assert.True(t, hasCmd[CmdMarkDirty](cmds))
	assert.True(t, hasCmd[CmdSleepBeforeNextAction](cmds))
}

func TestUnrelatedElmFileIsNotInteresting(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, cmds := u.Update(watcherMsg(watcher.Changed, "/app/src/Elsewhere.elm"), idleModel())

	_, ok := model.NextAction.(PrintNonInterestingEvents)
	assert.True(t, ok, "expected PrintNonInterestingEvents, got %T", model.NextAction)
	assert.False(t, hasCmd[CmdMarkDirty](cmds))
	assert.True(t, hasCmd[CmdSleepBeforeNextAction](cmds))
}

// Invariant: a file that is not .elm, elm.json, or elm-tooling.json never
// mutates target state.
func TestOtherFilesAreIgnored(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, cmds := u.Update(watcherMsg(watcher.Changed, "/app/README.md"), idleModel())

	assert.IsType(t, NoAction{}, model.NextAction)
	assert.Empty(t, cmds)
}

func TestConfigFileChangeSchedulesRestart(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, cmds := u.Update(watcherMsg(watcher.Changed, "/app/elm-watch.json"), idleModel())

	_, ok := model.NextAction.(Restart)
	assert.True(t, ok, "expected Restart, got %T", model.NextAction)
	assert.True(t, hasCmd[CmdSleepBeforeNextAction](cmds))
}

func TestForeignConfigBasenameDoesNotRestart(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, _ := u.Update(watcherMsg(watcher.Changed, "/elsewhere/elm-watch.json"), idleModel())
	assert.IsType(t, NoAction{}, model.NextAction)

	model, _ = u.Update(watcherMsg(watcher.Changed, "/elsewhere/elm.json"), idleModel())
	assert.IsType(t, NoAction{}, model.NextAction)
}

func TestManifestChangeSchedulesRestart(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, _ := u.Update(watcherMsg(watcher.Changed, "/app/elm.json"), idleModel())
	assert.IsType(t, Restart{}, model.NextAction)
}

func TestRemovedInputSchedulesRestart(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, _ := u.Update(watcherMsg(watcher.Removed, "/app/src/Main.elm"), idleModel())
	assert.IsType(t, Restart{}, model.NextAction)
}

func TestElmJsonsErrorFileSchedulesRestart(t *testing.T) {
	p := newTestProject("/app")
	p.ElmJsonsErrors = []*project.OutputError{{
		Path:         project.OutputPath{TargetName: "broken"},
		Error:        errors.InputsNotFound("broken", []string{"src/Gone.elm"}),
		RelatedFiles: map[string]struct{}{"/app/src/Gone.elm": {}},
	}}
	u := newTestUpdater(p)

	model, _ := u.Update(watcherMsg(watcher.Added, "/app/src/Gone.elm"), idleModel())
	assert.IsType(t, Restart{}, model.NextAction)
}

// Three rapid saves coalesce: intent accumulates, and only the tick compiles.
func TestDebounceCoalescesEvents(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)
	model := idleModel()

	var cmds []Cmd
	for i := 0; i < 3; i++ {
		model, cmds = u.Update(watcherMsg(watcher.Changed, "/app/src/Main.elm"), model)
		assert.False(t, hasCmd[CmdCompileAllOutputsAsNeeded](cmds), "no compile before the tick")
	}

	compileAction := model.NextAction.(Compile)
	assert.Len(t, compileAction.Events, 3)

	model, cmds = u.Update(SleepBeforeNextActionDone{Date: fixedNow()}, model)
	assert.True(t, hasCmd[CmdCompileAllOutputsAsNeeded](cmds))
	assert.IsType(t, Compiling{}, model.HotState)
	assert.IsType(t, NoAction{}, model.NextAction)
}

func TestRestartCarriedWhileCompiling(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)
	model := Model{
		NextAction: Restart{Events: []Event{WatcherTimelineEvent{Path: p.ConfigPath}}},
		HotState:   Compiling{Start: fixedNow()},
	}

	model, cmds := u.Update(SleepBeforeNextActionDone{Date: fixedNow()}, model)

	// Still compiling: everything is dirtied to interrupt, the restart intent
	// is carried.
	assert.True(t, hasCmd[CmdMarkAllDirty](cmds))
	assert.False(t, hasCmd[CmdRestart](cmds))
	assert.IsType(t, Restart{}, model.NextAction)
	assert.IsType(t, Compiling{}, model.HotState)
}

func TestRestartFromIdleClearsScreen(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)
	model := Model{
		NextAction: Restart{Events: []Event{WatcherTimelineEvent{Path: p.ConfigPath}}},
		HotState:   Idle{},
	}

	model, cmds := u.Update(SleepBeforeNextActionDone{Date: fixedNow()}, model)

	assert.True(t, hasCmd[CmdClearScreen](cmds))
	assert.True(t, hasCmd[CmdRestart](cmds))
	assert.IsType(t, Restarting{}, model.HotState)
}

func TestCompilationDoneReturnsToIdle(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)
	// Target settled: not dirty, Success.
	model := Model{NextAction: NoAction{}, HotState: Compiling{Start: fixedNow()}}

	model, cmds := u.Update(CompilationPartDone{Date: fixedNow()}, model)

	assert.IsType(t, Idle{}, model.HotState)
	assert.True(t, hasCmd[CmdReportCompileResults](cmds))
	assert.True(t, hasCmd[CmdPersistState](cmds))
	assert.True(t, hasCmd[CmdLimitWorkers](cmds))
	assert.True(t, hasCmd[CmdCheckIdle](cmds))
}

func TestCompilationDoneWithDirtyTargetKeepsGoing(t *testing.T) {
	p := newTestProject("/app")
	p.ElmJsons[0].Targets[0].State.Dirty = true
	u := newTestUpdater(p)
	model := Model{NextAction: NoAction{}, HotState: Compiling{Start: fixedNow()}}

	model, cmds := u.Update(CompilationPartDone{Date: fixedNow()}, model)

	assert.IsType(t, Compiling{}, model.HotState)
	assert.True(t, hasCmd[CmdCompileAllOutputsAsNeeded](cmds))
}

func TestPendingRestartFiresWhenWorkDrains(t *testing.T) {
	p := newTestProject("/app")
	// Dirty target exists, but the pending restart wins once nothing executes.
	p.ElmJsons[0].Targets[0].State.Dirty = true
	u := newTestUpdater(p)
	model := Model{
		NextAction: Restart{Events: []Event{WatcherTimelineEvent{Path: p.ConfigPath}}},
		HotState:   Compiling{Start: fixedNow()},
	}

	model, cmds := u.Update(CompilationPartDone{Date: fixedNow()}, model)

	assert.True(t, hasCmd[CmdRestart](cmds))
	assert.IsType(t, Restarting{}, model.HotState)
}

func TestInstallDoneStartsCompiling(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)
	model := Model{NextAction: NoAction{}, HotState: Dependencies{Start: fixedNow()}}

	model, cmds := u.Update(InstallDependenciesDone{}, model)

	assert.IsType(t, Compiling{}, model.HotState)
	assert.True(t, hasCmd[CmdCompileAllOutputsAsNeeded](cmds))
}

func TestInstallErrorExits(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)
	model := Model{NextAction: NoAction{}, HotState: Dependencies{Start: fixedNow()}}

	_, cmds := u.Update(InstallDependenciesDone{Err: errors.ElmNotFound("elm")}, model)

	require.Len(t, cmds, 1)
	exit, ok := cmds[0].(CmdExit)
	require.True(t, ok)
	assert.Equal(t, 1, exit.Code)
}

// S3: a wrong-version client is accepted as a sentinel, told what is wrong,
// and triggers no recompile.
func TestWrongVersionClient(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, cmds := u.Update(WebSocketConnected{
		Date: fixedNow(),
		Conn: &ws.Conn{},
		URL:  "/?elmWatchVersion=bogus&output=build/main.js&compiledTimestamp=0",
	}, idleModel())

	assert.IsType(t, NoAction{}, model.NextAction)

	var accepted *CmdAcceptConnection
	var sent *CmdSendStatus
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case CmdAcceptConnection:
			accepted = &c
		case CmdSendStatus:
			sent = &c
		}
	}
	require.NotNil(t, accepted)
	assert.True(t, accepted.Errored)
	require.NotNil(t, sent)
	clientError, ok := sent.Status.(ws.ClientError)
	require.True(t, ok)
	assert.Contains(t, clientError.Message, "bogus")
}

func TestUpToDateClientGetsSuccess(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, cmds := u.Update(WebSocketConnected{
		Date: fixedNow(),
		Conn: &ws.Conn{},
		URL:  "/?elmWatchVersion=1.0.0&output=build/main.js&compiledTimestamp=5",
	}, idleModel())

	assert.IsType(t, NoAction{}, model.NextAction)
	found := false
	for _, cmd := range cmds {
		if send, ok := cmd.(CmdSendStatus); ok {
			if _, ok := send.Status.(ws.SuccessfullyCompiled); ok {
				found = true
			}
		}
	}
	assert.True(t, found, "an up-to-date client gets SuccessfullyCompiled immediately")
}

func TestStaleClientTriggersRebuild(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	model, cmds := u.Update(WebSocketConnected{
		Date: fixedNow(),
		Conn: &ws.Conn{},
		URL:  "/?elmWatchVersion=1.0.0&output=build/main.js&compiledTimestamp=0",
	}, idleModel())

	assert.IsType(t, Compile{}, model.NextAction)
	assert.True(t, hasCmd[CmdMarkDirty](cmds))
	assert.True(t, hasCmd[CmdSleepBeforeNextAction](cmds))
}

// S2: ChangeCompilationMode flips the mode, dirties the target, persists, and
// answers Busy.
func TestChangeCompilationMode(t *testing.T) {
	p := newTestProject("/app")
	conn := &ws.Conn{}
	u := newTestUpdater(p)
	u.LookupConnection = func(c *ws.Conn) (project.OutputPath, bool, bool) {
		return p.ElmJsons[0].Targets[0].Path, false, c == conn
	}

	model, cmds := u.Update(WebSocketMessageReceived{
		Conn: conn,
		Data: []byte(`{"tag":"ChangeCompilationMode","compilationMode":"debug"}`),
	}, idleModel())

	assert.IsType(t, Compile{}, model.NextAction)

	var change *CmdChangeCompilationMode
	busySent := false
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case CmdChangeCompilationMode:
			change = &c
		case CmdSendStatus:
			if _, ok := c.Status.(ws.Busy); ok {
				busySent = true
			}
		}
	}
	require.NotNil(t, change)
	assert.Equal(t, project.ModeDebug, change.Mode)
	assert.True(t, busySent)
	assert.True(t, hasCmd[CmdMarkDirty](cmds))
	assert.True(t, hasCmd[CmdPersistState](cmds))
}

func TestBinaryFrameRejected(t *testing.T) {
	p := newTestProject("/app")
	u := newTestUpdater(p)

	_, cmds := u.Update(WebSocketMessageReceived{
		Conn:   &ws.Conn{},
		Data:   []byte{1, 2, 3},
		Binary: true,
	}, idleModel())

	require.Len(t, cmds, 1)
	send, ok := cmds[0].(CmdSendStatus)
	require.True(t, ok)
	assert.IsType(t, ws.ClientError{}, send.Status)
}
