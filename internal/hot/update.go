package hot

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/compile"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/watcher"
	"github.com/grovetools/elmwatch/internal/ws"
)

// Updater is the pure-ish half of the orchestrator: it reads the project and
// the connection view but never mutates them; every mutation is a Cmd.
type Updater struct {
	Project *project.Project
	Version string
	// Now is the injectable timekeeping function.
	Now func() time.Time
	// ConcurrencyLimit is forwarded to the scheduler; 0 means max(1, NumCPU).
	ConcurrencyLimit int

	// LookupConnection resolves a socket to its output path. errored marks
	// sentinel connections that failed the handshake.
	LookupConnection func(conn *ws.Conn) (outputPath project.OutputPath, errored bool, found bool)
	// PrioritizedOutputs maps output keys to the highest connected-client
	// priority.
	PrioritizedOutputs func() map[string]int64
}

// Update consumes one message and produces the next model plus commands.
func (u *Updater) Update(msg Msg, model Model) (Model, []Cmd) {
	switch m := msg.(type) {
	case GotWatcherEvent:
		return u.onWatcherEvent(m, model)
	case SleepBeforeNextActionDone:
		return u.onNextActionTick(m, model)
	case CompilationPartDone:
		return u.onCompilationPartDone(model)
	case InstallDependenciesDone:
		return u.onInstallDone(m, model)
	case WebSocketConnected:
		return u.onConnected(m, model)
	case WebSocketMessageReceived:
		return u.onMessage(m, model)
	case WebSocketClosed:
		return model, []Cmd{CmdRemoveConnection{Conn: m.Conn}}
	}
	return model, nil
}

// --- watcher events ---

func (u *Updater) onWatcherEvent(msg GotWatcherEvent, model Model) (Model, []Cmd) {
	event := WatcherTimelineEvent{Date: msg.Event.Date, Name: msg.Event.Name, Path: msg.Event.Path}

	switch filepath.Base(msg.Event.Path) {
	case filepath.Base(u.Project.ConfigPath):
		if msg.Event.Name == watcher.Added || msg.Event.Path == u.Project.ConfigPath {
			return u.scheduleRestart(model, event)
		}
		return model, nil

	case "elm.json":
		if msg.Event.Name == watcher.Added || u.isProjectManifest(msg.Event.Path) {
			return u.scheduleRestart(model, event)
		}
		return model, nil

	case "elm-tooling.json":
		if msg.Event.Name == watcher.Added ||
			filepath.Dir(msg.Event.Path) == filepath.Dir(u.Project.ConfigPath) {
			return u.scheduleRestart(model, event)
		}
		return model, nil
	}

	if !strings.HasSuffix(msg.Event.Path, ".elm") {
		return model, nil
	}

	// A file referenced by a configuration error may fix that error; only a
	// restart re-resolves the project.
	for _, outputError := range u.Project.ElmJsonsErrors {
		if _, ok := outputError.RelatedFiles[msg.Event.Path]; ok {
			return u.scheduleRestart(model, event)
		}
	}

	affected := u.affectedTargets(msg.Event.Path)

	if msg.Event.Name == watcher.Removed {
		for _, target := range affected {
			for _, input := range target.State.Inputs {
				if input == msg.Event.Path {
					return u.scheduleRestart(model, event)
				}
			}
		}
	}

	if len(affected) > 0 {
		model.NextAction = mergeCompile(model.NextAction, event)
		return model, []Cmd{CmdMarkDirty{Targets: affected}, CmdSleepBeforeNextAction{}}
	}

	model.NextAction = mergeNotInteresting(model.NextAction, event)
	return model, []Cmd{CmdSleepBeforeNextAction{}}
}

func (u *Updater) isProjectManifest(path string) bool {
	for _, elmJson := range u.Project.ElmJsons {
		if elmJson.Path == path {
			return true
		}
	}
	return false
}

func (u *Updater) affectedTargets(path string) []*project.Target {
	var affected []*project.Target
	for _, elmJson := range u.Project.ElmJsons {
		for _, target := range elmJson.Targets {
			if _, ok := target.State.AllRelatedElmFilePaths[path]; ok {
				affected = append(affected, target)
			}
		}
	}
	return affected
}

func (u *Updater) scheduleRestart(model Model, event Event) (Model, []Cmd) {
	model.NextAction = mergeRestart(model.NextAction, event)
	return model, []Cmd{CmdSleepBeforeNextAction{}}
}

// --- the debounce tick ---

func (u *Updater) onNextActionTick(msg SleepBeforeNextActionDone, model Model) (Model, []Cmd) {
	nextAction := model.NextAction
	model.NextAction = NoAction{}

	switch action := nextAction.(type) {
	case NoAction:
		return model, nil

	case PrintNonInterestingEvents:
		return model, []Cmd{CmdPrintEvents{Events: action.Events}}

	case Compile:
		switch hotState := model.HotState.(type) {
		case Idle:
			model.HotState = Compiling{Start: msg.Date, Events: action.Events}
			return model, []Cmd{CmdCompileAllOutputsAsNeeded{}}
		case Compiling:
			hotState.Events = append(hotState.Events, action.Events...)
			model.HotState = hotState
			return model, []Cmd{CmdCompileAllOutputsAsNeeded{}}
		case Dependencies:
			// Install is a global barrier; the events ride along and the
			// compile happens when it finishes.
			hotState.Events = append(hotState.Events, action.Events...)
			model.HotState = hotState
			return model, nil
		case Restarting:
			hotState.Events = append(hotState.Events, action.Events...)
			model.HotState = hotState
			return model, nil
		}

	case Restart:
		switch hotState := model.HotState.(type) {
		case Idle:
			model.HotState = Restarting{Events: action.Events}
			return model, []Cmd{CmdClearScreen{}, CmdRestart{Events: action.Events}}
		case Dependencies, Compiling:
			// Carry the restart until the current work drains; dirtying
			// everything interrupts it as fast as possible.
			model.NextAction = action
			return model, []Cmd{CmdMarkAllDirty{}, CmdPrintEvents{Events: action.Events}}
		case Restarting:
			hotState.Events = append(hotState.Events, action.Events...)
			model.HotState = hotState
			return model, nil
		}
	}

	return model, nil
}

// --- compilation lifecycle ---

func (u *Updater) onCompilationPartDone(model Model) (Model, []Cmd) {
	actions := compile.GetOutputActions(compile.GetOutputActionsParams{
		Project:            u.Project,
		RunMode:            project.RunModeHot,
		IncludeInterrupted: false,
		PrioritizedOutputs: u.PrioritizedOutputs(),
		ConcurrencyLimit:   u.ConcurrencyLimit,
	})

	if pendingRestart, ok := model.NextAction.(Restart); ok {
		if actions.NumExecuting == 0 {
			model.NextAction = NoAction{}
			model.HotState = Restarting{Events: pendingRestart.Events}
			return model, []Cmd{CmdClearScreen{}, CmdRestart{Events: pendingRestart.Events}}
		}
		return model, nil
	}

	if len(actions.Actions) > 0 {
		return model, []Cmd{CmdCompileAllOutputsAsNeeded{}}
	}
	if actions.NumExecuting > 0 {
		return model, nil
	}

	if hotState, ok := model.HotState.(Compiling); ok {
		model.HotState = Idle{}
		return model, []Cmd{
			CmdReportCompileResults{Events: hotState.Events},
			CmdPersistState{},
			CmdLimitWorkers{},
			CmdCheckIdle{},
		}
	}
	return model, nil
}

func (u *Updater) onInstallDone(msg InstallDependenciesDone, model Model) (Model, []Cmd) {
	if msg.Err != nil {
		return model, []Cmd{CmdExit{Code: 1}}
	}

	deps, ok := model.HotState.(Dependencies)
	if !ok {
		return model, nil
	}

	if pendingRestart, isRestart := model.NextAction.(Restart); isRestart {
		model.NextAction = NoAction{}
		model.HotState = Restarting{Events: pendingRestart.Events}
		return model, []Cmd{CmdClearScreen{}, CmdRestart{Events: pendingRestart.Events}}
	}

	model.HotState = Compiling{Start: deps.Start, Events: deps.Events}
	return model, []Cmd{CmdCompileAllOutputsAsNeeded{}}
}

// --- websocket events ---

func (u *Updater) onConnected(msg WebSocketConnected, model Model) (Model, []Cmd) {
	params, perr := ws.ParseConnectURL(msg.URL)
	if perr == nil {
		outputPath, verr := ws.ValidateConnect(params, u.Version, u.Project)
		if verr == nil {
			return u.acceptClient(msg, model, outputPath, params.CompiledTimestamp)
		}
		perr = verr
	}

	// The connection is accepted anyway so the browser can display the
	// problem; the sentinel form keeps it out of scheduling.
	return model, []Cmd{
		CmdAcceptConnection{Date: msg.Date, Conn: msg.Conn, Errored: true},
		CmdSendStatus{Conn: msg.Conn, Status: ws.ClientError{Message: perr.Message}},
	}
}

func (u *Updater) acceptClient(msg WebSocketConnected, model Model, outputPath project.OutputPath, compiledTimestamp int64) (Model, []Cmd) {
	cmds := []Cmd{
		CmdAcceptConnection{Date: msg.Date, Conn: msg.Conn, OutputPath: outputPath},
	}

	_, target, found := u.Project.FindTarget(outputPath.Key())
	if !found {
		return model, cmds
	}

	if success, ok := target.State.Status.(project.Success); ok &&
		!target.State.Dirty &&
		(len(success.Code) > 0 || target.Path.Null) &&
		success.CompiledTimestamp == compiledTimestamp {
		cmds = append(cmds, CmdSendStatus{Conn: msg.Conn, Status: ws.SuccessfullyCompiled{}})
		return model, cmds
	}

	// The artifact is stale, was never fully built (typecheck-only), or the
	// browser runs an older build: rebuild with this client's priority.
	event := WebSocketTimelineEvent{Date: msg.Date, OutputPath: outputPath}
	model.NextAction = mergeCompile(model.NextAction, event)
	cmds = append(cmds,
		CmdMarkDirty{Targets: []*project.Target{target}},
		CmdSendStatus{Conn: msg.Conn, Status: ws.Busy{}},
		CmdSleepBeforeNextAction{},
	)
	return model, cmds
}

func (u *Updater) onMessage(msg WebSocketMessageReceived, model Model) (Model, []Cmd) {
	if msg.Binary {
		return model, []Cmd{CmdSendStatus{
			Conn:   msg.Conn,
			Status: ws.ClientError{Message: errors.UnsupportedDataType().Message},
		}}
	}

	outputPath, errored, found := u.LookupConnection(msg.Conn)
	if !found || errored {
		return model, nil
	}

	decoded, derr := ws.DecodeClientMessage(msg.Data)
	if derr != nil {
		return model, []Cmd{CmdSendStatus{Conn: msg.Conn, Status: ws.ClientError{Message: derr.Message}}}
	}

	switch message := decoded.(type) {
	case ws.ChangeCompilationMode:
		_, target, ok := u.Project.FindTarget(outputPath.Key())
		if !ok {
			return model, nil
		}
		event := WebSocketTimelineEvent{Date: u.Now(), OutputPath: outputPath}
		model.NextAction = mergeCompile(model.NextAction, event)
		return model, []Cmd{
			CmdChangeCompilationMode{Target: target, Mode: message.CompilationMode},
			CmdMarkDirty{Targets: []*project.Target{target}},
			CmdPersistState{},
			CmdSendStatus{Conn: msg.Conn, Status: ws.Busy{}},
			CmdSleepBeforeNextAction{},
		}
	}
	return model, nil
}

// --- next-action merging ---

func mergeCompile(next NextAction, event Event) NextAction {
	switch action := next.(type) {
	case Restart:
		action.Events = append(action.Events, event)
		return action
	case Compile:
		action.Events = append(action.Events, event)
		return action
	case PrintNonInterestingEvents:
		return Compile{Events: append(action.Events, event)}
	default:
		return Compile{Events: []Event{event}}
	}
}

func mergeNotInteresting(next NextAction, event Event) NextAction {
	switch action := next.(type) {
	case NoAction:
		return PrintNonInterestingEvents{Events: []Event{event}}
	case PrintNonInterestingEvents:
		action.Events = append(action.Events, event)
		return action
	case Compile:
		action.Events = append(action.Events, event)
		return action
	case Restart:
		action.Events = append(action.Events, event)
		return action
	}
	return next
}

func mergeRestart(next NextAction, event Event) NextAction {
	switch action := next.(type) {
	case Restart:
		action.Events = append(action.Events, event)
		return action
	case Compile:
		return Restart{Events: append(action.Events, event)}
	case PrintNonInterestingEvents:
		return Restart{Events: append(action.Events, event)}
	default:
		return Restart{Events: []Event{event}}
	}
}
