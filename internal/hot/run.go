package hot

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/compile"
	"github.com/grovetools/elmwatch/internal/postprocess"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/spawn"
	"github.com/grovetools/elmwatch/internal/watcher"
	"github.com/grovetools/elmwatch/internal/ws"
	"github.com/grovetools/elmwatch/logging"
)

const debounceWindow = 10 * time.Millisecond

// ResultKind says how a hot run ended.
type ResultKind int

const (
	ResultRestart ResultKind = iota
	ResultExit
)

// HotRunResult is handed to the top-level loop, which either re-enters with
// the preserved socket server or exits the process.
type HotRunResult struct {
	Kind           ResultKind
	RestartReasons []Event
	// WebSocketState is nil when the configuration file itself changed; the
	// caller then opens a fresh server.
	WebSocketState *ws.Server
	// WebSocketConnections are the live connections carried across a restart
	// together with the server.
	WebSocketConnections []*Connection
	ExitCode             int
}

// RunOptions configures one hot run.
type RunOptions struct {
	Project *project.Project
	Version string
	// WebSocketState is a server preserved from the previous run, or nil.
	WebSocketState *ws.Server
	// WebSocketConnections are connections preserved together with the server.
	WebSocketConnections []*Connection
	Executor             spawn.Executor
	Terminal             *cli.Terminal
	// Now is injectable for tests.
	Now func() time.Time
	// OnIdle is consulted when the last compile completes with no pending
	// events; only test harnesses return Stop.
	OnIdle func() IdleDecision
	// ConcurrencyLimit overrides the scheduler cap (0 = default).
	ConcurrencyLimit int
}

// Connection is one browser, or the error sentinel form of one.
type Connection struct {
	Conn       *ws.Conn
	OutputPath project.OutputPath
	Errored    bool
	// Priority is the connect-time timestamp; higher compiles sooner.
	Priority int64
}

// mutable is the singly-owned record of everything with identity: the socket
// server, the watcher, the worker pool, the live connections. All mutation
// happens inside command handlers on the run loop goroutine.
type mutable struct {
	project     *project.Project
	server      *ws.Server
	watcher     *watcher.Watcher
	pool        *postprocess.Pool
	engine      *compile.Engine
	connections []*Connection
	statePath   string
	// stateWriteFailed defers the failure log until after the next compile.
	stateWriteFailed *errors.WatchError
}

type runner struct {
	opts    RunOptions
	updater *Updater
	mutable *mutable
	term    *cli.Terminal
	logger  *logrus.Entry
	now     func() time.Time

	msgs     chan Msg
	fatals   chan error
	debounce *time.Timer

	finished bool
	result   HotRunResult
}

// Run drives one hot session until restart or exit. The returned error is a
// truly fatal condition (port conflict, watcher failure, worker messaging
// failure); everything recoverable lives on target statuses.
func Run(opts RunOptions) (HotRunResult, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Executor == nil {
		opts.Executor = &spawn.RealExecutor{}
	}
	if opts.OnIdle == nil {
		opts.OnIdle = func() IdleDecision { return KeepGoing }
	}

	r := &runner{
		opts:   opts,
		term:   opts.Terminal,
		logger: logging.NewLogger("hot"),
		now:    opts.Now,
		msgs:   make(chan Msg, 128),
		fatals: make(chan error, 4),
	}

	if err := r.setup(); err != nil {
		return HotRunResult{}, err
	}

	return r.loop()
}

func (r *runner) setup() error {
	p := r.opts.Project
	statePath := project.StateFilePath(p.ConfigPath)

	server := r.opts.WebSocketState
	if server == nil {
		choice := portChoice(p, project.LoadStateFile(statePath))
		created, werr := ws.NewServer(choice, r.now)
		if werr != nil {
			return werr
		}
		server = created
	}

	pool, err := postprocess.NewPool(r.opts.Executor, func(err error) {
		r.fatals <- err
	})
	if err != nil {
		return err
	}

	fsWatcher, err := watcher.New(p.WatchRoot, nil, r.now)
	if err != nil {
		pool.Terminate()
		return errors.WatcherError(err)
	}

	engine := compile.NewEngine(r.opts.Executor, pool, project.RunModeHot, p.WatchRoot)
	engine.Now = r.now

	r.mutable = &mutable{
		project:     p,
		server:      server,
		watcher:     fsWatcher,
		pool:        pool,
		engine:      engine,
		connections: r.opts.WebSocketConnections,
		statePath:   statePath,
	}

	pool.SetCalculateMax(func() int {
		return len(r.mutable.connections)
	})

	r.updater = &Updater{
		Project:          p,
		Version:          r.opts.Version,
		Now:              r.now,
		ConcurrencyLimit: r.opts.ConcurrencyLimit,
		LookupConnection: r.lookupConnection,
		PrioritizedOutputs: func() map[string]int64 {
			return prioritizedOutputs(r.mutable.connections)
		},
	}

	go r.pumpWatcher()
	server.SetDispatch(r.dispatchWebSocket)

	return nil
}

// portChoice prefers the persisted port, then the configured one, then lets
// the OS decide.
func portChoice(p *project.Project, persisted *project.StateFile) ws.PortChoice {
	if persisted.Port != 0 {
		return ws.PersistedPort(persisted.Port)
	}
	if p.Port != 0 {
		return ws.PortFromConfig(p.Port)
	}
	return ws.NoPort{}
}

func (r *runner) pumpWatcher() {
	for {
		select {
		case event, ok := <-r.mutable.watcher.Events():
			if !ok {
				return
			}
			r.msgs <- GotWatcherEvent{Event: event}
		case err, ok := <-r.mutable.watcher.Errors():
			if !ok {
				return
			}
			r.fatals <- errors.WatcherError(err)
		}
	}
}

func (r *runner) dispatchWebSocket(event ws.Event) {
	switch e := event.(type) {
	case ws.ClientConnected:
		r.msgs <- WebSocketConnected{Date: e.Date, Conn: e.Conn, URL: e.URL}
	case ws.MessageReceived:
		r.msgs <- WebSocketMessageReceived{Conn: e.Conn, Data: e.Data, Binary: e.Binary}
	case ws.ClientClosed:
		r.msgs <- WebSocketClosed{Conn: e.Conn}
	}
}

func (r *runner) loop() (HotRunResult, error) {
	model := Model{
		NextAction: NoAction{},
		HotState:   Dependencies{Start: r.now()},
	}
	r.runCmd(CmdInstallDependencies{})

	for !r.finished {
		select {
		case msg := <-r.msgs:
			// Outcomes land on the loop goroutine before update runs, so the
			// scheduler only ever sees settled statuses.
			if done, ok := msg.(CompilationPartDone); ok && done.Target != nil {
				r.mutable.engine.ApplyOutcome(done.Target, done.Unit, done.Outcome)
			}
			var cmds []Cmd
			model, cmds = r.updater.Update(msg, model)
			for _, cmd := range cmds {
				r.runCmd(cmd)
				if r.finished {
					break
				}
			}
		case err := <-r.fatals:
			r.teardown(false)
			return HotRunResult{}, err
		}
	}

	return r.result, nil
}

// teardown stops everything this run owns. keepServer leaves the socket
// server alive (detached) for the next run.
func (r *runner) teardown(keepServer bool) {
	if r.debounce != nil {
		r.debounce.Stop()
	}
	_ = r.mutable.watcher.Close()
	r.mutable.pool.Terminate()
	r.mutable.server.UnsetDispatch()
	if !keepServer {
		_ = r.mutable.server.Close()
	}
}

func (r *runner) lookupConnection(conn *ws.Conn) (project.OutputPath, bool, bool) {
	for _, c := range r.mutable.connections {
		if c.Conn == conn {
			return c.OutputPath, c.Errored, true
		}
	}
	return project.OutputPath{}, false, false
}

// prioritizedOutputs folds connection priorities per output key, keeping the
// maximum when several clients watch the same target.
func prioritizedOutputs(connections []*Connection) map[string]int64 {
	prioritized := make(map[string]int64)
	for _, c := range connections {
		if c.Errored {
			continue
		}
		key := c.OutputPath.Key()
		if prev, ok := prioritized[key]; !ok || c.Priority > prev {
			prioritized[key] = c.Priority
		}
	}
	return prioritized
}

func (r *runner) runCmd(cmd Cmd) {
	switch c := cmd.(type) {
	case CmdClearScreen:
		r.term.ClearScreen()

	case CmdInstallDependencies:
		go func() {
			err := compile.InstallDependencies(r.opts.Executor, r.term, r.mutable.project)
			r.msgs <- InstallDependenciesDone{Err: err}
		}()

	case CmdSleepBeforeNextAction:
		if r.debounce != nil {
			r.debounce.Stop()
		}
		r.debounce = time.AfterFunc(debounceWindow, func() {
			r.msgs <- SleepBeforeNextActionDone{Date: r.now()}
		})

	case CmdCompileAllOutputsAsNeeded:
		r.compileAllOutputsAsNeeded()

	case CmdPrintEvents:
		for _, event := range c.Events {
			r.term.WriteLine(r.term.Dim(formatTimelineEvent(event)))
		}

	case CmdMarkDirty:
		for _, target := range c.Targets {
			target.State.Dirty = true
		}

	case CmdMarkAllDirty:
		for _, elmJson := range r.mutable.project.ElmJsons {
			for _, target := range elmJson.Targets {
				target.State.Dirty = true
			}
		}

	case CmdAcceptConnection:
		r.acceptConnection(c)

	case CmdRemoveConnection:
		r.removeConnection(c.Conn)
		r.mutable.pool.Limit()

	case CmdSendStatus:
		c.Conn.Send(ws.EncodeStatusChanged(c.Status))

	case CmdChangeCompilationMode:
		c.Target.State.CompilationMode = c.Mode

	case CmdReportCompileResults:
		r.reportCompileResults(c.Events)

	case CmdPersistState:
		r.persistState()

	case CmdLimitWorkers:
		r.mutable.pool.Limit()

	case CmdRestart:
		configChanged := restartTouchesConfig(c.Events, r.mutable.project.ConfigPath)
		r.teardown(!configChanged)
		r.finished = true
		r.result = HotRunResult{
			Kind:           ResultRestart,
			RestartReasons: c.Events,
		}
		if !configChanged {
			r.result.WebSocketState = r.mutable.server
			r.result.WebSocketConnections = r.mutable.connections
		}

	case CmdExit:
		r.teardown(false)
		r.finished = true
		r.result = HotRunResult{Kind: ResultExit, ExitCode: c.Code}

	case CmdCheckIdle:
		if r.opts.OnIdle() == Stop {
			r.teardown(false)
			r.finished = true
			r.result = HotRunResult{Kind: ResultExit, ExitCode: 0}
		}
	}
}

// compileAllOutputsAsNeeded computes the next batch and launches each action
// on its own goroutine; completions come back as CompilationPartDone.
func (r *runner) compileAllOutputsAsNeeded() {
	actions := compile.GetOutputActions(compile.GetOutputActionsParams{
		Project:            r.mutable.project,
		RunMode:            project.RunModeHot,
		IncludeInterrupted: true,
		PrioritizedOutputs: prioritizedOutputs(r.mutable.connections),
		ConcurrencyLimit:   r.opts.ConcurrencyLimit,
	})

	if len(actions.Actions) == 0 && actions.NumExecuting == 0 {
		// Nothing to do; close the cycle so the model returns to Idle.
		r.msgs <- CompilationPartDone{Date: r.now()}
		return
	}

	for _, action := range actions.Actions {
		unit := compile.StartOutputAction(action)
		target := action.Target
		go func() {
			outcome := r.mutable.engine.Execute(unit)
			r.msgs <- CompilationPartDone{Date: r.now(), Target: target, Unit: unit, Outcome: outcome}
		}()
	}

	r.drawStatusGrid()
}

func (r *runner) acceptConnection(c CmdAcceptConnection) {
	conn := &Connection{
		Conn:       c.Conn,
		OutputPath: c.OutputPath,
		Errored:    c.Errored,
		Priority:   c.Date.UnixMilli(),
	}
	r.mutable.connections = append(r.mutable.connections, conn)
}

func (r *runner) removeConnection(conn *ws.Conn) {
	connections := r.mutable.connections
	for i, c := range connections {
		if c.Conn == conn {
			r.mutable.connections = append(connections[:i], connections[i+1:]...)
			return
		}
	}
}

// restartTouchesConfig reports whether one of the restart reasons is the
// configuration file itself. If so the socket server cannot be carried over.
func restartTouchesConfig(events []Event, configPath string) bool {
	for _, event := range events {
		if we, ok := event.(WatcherTimelineEvent); ok && we.Path == configPath {
			return true
		}
	}
	return false
}

func (r *runner) persistState() {
	state := project.SnapshotStateFile(r.mutable.server.Port(), r.mutable.project)
	if err := state.Write(r.mutable.statePath); err != nil {
		// Non-fatal: remembered and logged after the next compile completes.
		r.mutable.stateWriteFailed = err
		r.logger.WithError(err).Debug("state file write failed")
		return
	}
	r.mutable.stateWriteFailed = nil
}

func (r *runner) drawStatusGrid() {
	var lines []string
	for _, elmJson := range r.mutable.project.ElmJsons {
		for _, target := range elmJson.Targets {
			lines = append(lines, formatStatusLine(r.term, target))
		}
	}
	r.term.DrawStatusGrid(lines)
}

func formatStatusLine(term *cli.Terminal, target *project.Target) string {
	name := target.Path.TargetName
	switch target.State.Status.(type) {
	case project.NotWrittenToDisk, project.QueuedForElmMake:
		return term.Emoji("⚪️", "[ ]") + " " + name + ": queued"
	case project.RunningElmMake:
		return term.Emoji("⏳", "[~]") + " " + name + ": compiling"
	case project.QueuedForPostprocess, project.RunningPostprocess:
		return term.Emoji("⏳", "[~]") + " " + name + ": postprocessing"
	case project.Interrupted:
		return term.Emoji("⚪️", "[ ]") + " " + name + ": interrupted"
	case project.Success:
		return term.Emoji("✅", "[*]") + " " + name + ": done"
	case project.CompileError:
		return term.Emoji("🚨", "[x]") + " " + name + ": error"
	}
	return name
}

func formatTimelineEvent(event Event) string {
	return fmt.Sprintf("%s %s", event.When().Format("15:04:05"), event.Description())
}

// reportCompileResults is the end-of-cycle printing: timeline events, every
// (deduplicated) error report, the error count, and client status pushes.
func (r *runner) reportCompileResults(events []Event) {
	r.term.EraseStatusGrid()

	for _, event := range events {
		r.term.WriteLine(r.term.Dim(formatTimelineEvent(event)))
	}

	var renderings []string

	// Configuration errors collected at project load are reprinted every
	// compile cycle.
	for _, outputError := range r.mutable.project.ElmJsonsErrors {
		renderings = append(renderings, errors.Flatten(outputError.Error)...)
	}

	for _, elmJson := range r.mutable.project.ElmJsons {
		for _, target := range elmJson.Targets {
			if compileError, ok := target.State.Status.(project.CompileError); ok {
				renderings = append(renderings, errors.Flatten(compileError.Error)...)
			}
		}
	}

	renderings = errors.Dedup(renderings)
	for _, rendering := range renderings {
		r.term.WriteLine(r.term.ErrorTitle(rendering))
	}

	if len(renderings) > 0 {
		r.term.WriteLine(fmt.Sprintf("%s %d error(s) found", r.term.Emoji("🚨", "!"), len(renderings)))
	} else {
		r.term.WriteLine(r.term.Success(fmt.Sprintf("%s Compilation done", r.term.Emoji("✅", "ok"))))
	}

	if failed := r.mutable.stateWriteFailed; failed != nil {
		r.term.WriteLine(r.term.Dim(failed.Error()))
	}

	r.drawStatusGrid()
	r.pushClientStatuses()
}

// pushClientStatuses tells every connected browser where its target landed.
// Interrupted targets report Busy: the artifact is known stale and a rebuild
// is imminent.
func (r *runner) pushClientStatuses() {
	for _, c := range r.mutable.connections {
		if c.Errored {
			continue
		}
		_, target, ok := r.mutable.project.FindTarget(c.OutputPath.Key())
		if !ok {
			continue
		}
		var status ws.ClientStatus
		switch target.State.Status.(type) {
		case project.Success:
			status = ws.SuccessfullyCompiled{}
		case project.CompileError:
			status = ws.CompileError{}
		default:
			status = ws.Busy{}
		}
		c.Conn.Send(ws.EncodeStatusChanged(status))
	}
}
