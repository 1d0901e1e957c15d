// Package hot implements the long-running watch mode: an update function over
// a tagged message union, a model accumulating intent, and a command list
// executed by dispatchers that post completion messages back onto the queue.
package hot

import (
	"fmt"
	"time"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/compile"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/watcher"
	"github.com/grovetools/elmwatch/internal/ws"
)

// Msg is everything the orchestrator can react to.
type Msg interface{ isMsg() }

// GotWatcherEvent carries one filesystem event.
type GotWatcherEvent struct {
	Event watcher.Event
}

// SleepBeforeNextActionDone fires when the debounce window closes.
type SleepBeforeNextActionDone struct {
	Date time.Time
}

// CompilationPartDone fires after each output action completes. The run loop
// applies the outcome to the target before update runs, so the scheduler
// always sees settled statuses.
type CompilationPartDone struct {
	Date    time.Time
	Target  *project.Target
	Unit    compile.WorkUnit
	Outcome compile.Outcome
}

// InstallDependenciesDone carries the install barrier's outcome.
type InstallDependenciesDone struct {
	Err *errors.WatchError
}

// WebSocketConnected fires per accepted browser connection.
type WebSocketConnected struct {
	Date time.Time
	Conn *ws.Conn
	URL  string
}

// WebSocketMessageReceived fires per inbound frame.
type WebSocketMessageReceived struct {
	Conn   *ws.Conn
	Data   []byte
	Binary bool
}

// WebSocketClosed fires when a browser goes away.
type WebSocketClosed struct {
	Conn *ws.Conn
}

func (GotWatcherEvent) isMsg()           {}
func (SleepBeforeNextActionDone) isMsg() {}
func (CompilationPartDone) isMsg()       {}
func (InstallDependenciesDone) isMsg()   {}
func (WebSocketConnected) isMsg()        {}
func (WebSocketMessageReceived) isMsg()  {}
func (WebSocketClosed) isMsg()           {}

// Event is purely informational, carried for timeline printing.
type Event interface {
	isEvent()
	Description() string
	When() time.Time
}

// WatcherTimelineEvent records a filesystem change.
type WatcherTimelineEvent struct {
	Date time.Time
	Name watcher.EventName
	Path string
}

// WebSocketTimelineEvent records a browser connecting to a target.
type WebSocketTimelineEvent struct {
	Date       time.Time
	OutputPath project.OutputPath
}

func (WatcherTimelineEvent) isEvent()   {}
func (WebSocketTimelineEvent) isEvent() {}

func (e WatcherTimelineEvent) Description() string {
	return fmt.Sprintf("%s %s", e.Name, e.Path)
}
func (e WatcherTimelineEvent) When() time.Time { return e.Date }

func (e WebSocketTimelineEvent) Description() string {
	return fmt.Sprintf("web socket connected needing %s", e.OutputPath.Key())
}
func (e WebSocketTimelineEvent) When() time.Time { return e.Date }

// NextAction accumulates intent during the debounce window and is drained by
// the next-action tick.
type NextAction interface{ isNextAction() }

// NoAction is the rest state.
type NoAction struct{}

// PrintNonInterestingEvents only updates the timeline.
type PrintNonInterestingEvents struct{ Events []Event }

// Compile schedules a rebuild of whatever is dirty.
type Compile struct{ Events []Event }

// Restart tears the run down and re-enters with fresh configuration.
type Restart struct{ Events []Event }

func (NoAction) isNextAction()                  {}
func (PrintNonInterestingEvents) isNextAction() {}
func (Compile) isNextAction()                   {}
func (Restart) isNextAction()                   {}

// HotState is the orchestrator's phase. Each variant carries exactly the
// fields meaningful in that phase.
type HotState interface{ isHotState() }

// Idle means nothing is running.
type Idle struct{}

// Dependencies means the install barrier is executing.
type Dependencies struct {
	Start  time.Time
	Events []Event
}

// Compiling means at least one output action is executing.
type Compiling struct {
	Start  time.Time
	Events []Event
}

// Restarting means a restart has been accepted and work is draining.
type Restarting struct {
	Events []Event
}

func (Idle) isHotState()         {}
func (Dependencies) isHotState() {}
func (Compiling) isHotState()    {}
func (Restarting) isHotState()   {}

// Model is the orchestrator's entire mutable-by-update state.
type Model struct {
	NextAction NextAction
	HotState   HotState
}

// Cmd is a side effect requested by update and executed by the run loop.
type Cmd interface{ isCmd() }

// CmdClearScreen wipes the terminal.
type CmdClearScreen struct{}

// CmdCompileAllOutputsAsNeeded asks the dispatcher to compute and launch the
// next batch of output actions.
type CmdCompileAllOutputsAsNeeded struct{}

// CmdInstallDependencies starts the install barrier.
type CmdInstallDependencies struct{}

// CmdSleepBeforeNextAction (re)arms the debounce timer.
type CmdSleepBeforeNextAction struct{}

// CmdPrintEvents writes timeline lines.
type CmdPrintEvents struct{ Events []Event }

// CmdMarkDirty flags targets for rebuild.
type CmdMarkDirty struct{ Targets []*project.Target }

// CmdMarkAllDirty flags every enabled target, interrupting in-flight work.
type CmdMarkAllDirty struct{}

// CmdAcceptConnection registers a browser connection. Errored connections
// carry the sentinel instead of an output path.
type CmdAcceptConnection struct {
	Date       time.Time
	Conn       *ws.Conn
	OutputPath project.OutputPath
	Errored    bool
}

// CmdRemoveConnection drops a closed connection and re-limits workers.
type CmdRemoveConnection struct{ Conn *ws.Conn }

// CmdSendStatus pushes a status to one client.
type CmdSendStatus struct {
	Conn   *ws.Conn
	Status ws.ClientStatus
}

// CmdChangeCompilationMode flips one target's mode.
type CmdChangeCompilationMode struct {
	Target *project.Target
	Mode   project.CompilationMode
}

// CmdReportCompileResults prints the per-cycle error reports and summary and
// broadcasts final statuses to clients.
type CmdReportCompileResults struct{ Events []Event }

// CmdPersistState rewrites the runtime state file (best effort).
type CmdPersistState struct{}

// CmdLimitWorkers trims the postprocess pool to the client count.
type CmdLimitWorkers struct{}

// CmdRestart ends the run with a restart result.
type CmdRestart struct{ Events []Event }

// CmdExit ends the run with an exit result.
type CmdExit struct{ Code int }

// CmdCheckIdle consults the onIdle callback.
type CmdCheckIdle struct{}

func (CmdClearScreen) isCmd()               {}
func (CmdCompileAllOutputsAsNeeded) isCmd() {}
func (CmdInstallDependencies) isCmd()       {}
func (CmdSleepBeforeNextAction) isCmd()     {}
func (CmdPrintEvents) isCmd()               {}
func (CmdMarkDirty) isCmd()                 {}
func (CmdMarkAllDirty) isCmd()              {}
func (CmdAcceptConnection) isCmd()          {}
func (CmdRemoveConnection) isCmd()          {}
func (CmdSendStatus) isCmd()                {}
func (CmdChangeCompilationMode) isCmd()     {}
func (CmdReportCompileResults) isCmd()      {}
func (CmdPersistState) isCmd()              {}
func (CmdLimitWorkers) isCmd()              {}
func (CmdRestart) isCmd()                   {}
func (CmdExit) isCmd()                      {}
func (CmdCheckIdle) isCmd()                 {}

// IdleDecision is the onIdle callback's answer.
type IdleDecision int

const (
	KeepGoing IdleDecision = iota
	Stop
)
