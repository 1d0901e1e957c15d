// Package postprocess runs the user's postprocess stage: either an external
// executable fed the compiled code on stdin, or an elm-watch-node script run
// inside a pooled long-lived Node child process.
package postprocess

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/spawn"
)

// workerState tracks the worker lifecycle: Idle → Busy → Idle → Terminated.
type workerState int

const (
	workerIdle workerState = iota
	workerBusy
	workerTerminated
)

// Request is one postprocess job for a worker.
type Request struct {
	Cwd      string
	UserArgs []string
	// ExtraArgs is [targetName, compilationMode, runMode].
	ExtraArgs []string
	Code      string
}

// Result is the worker's answer: transformed code or a tagged error.
type Result struct {
	Code []byte
	Err  *errors.WatchError
}

// workerMessage is the wire format from the shim.
type workerMessage struct {
	Tag    string       `json:"tag"`
	Result workerResult `json:"result"`
}

type workerResult struct {
	Tag           string   `json:"tag"` // Resolve | Reject
	Code          string   `json:"code"`
	ErrorTag      string   `json:"errorTag"`
	ScriptPath    string   `json:"scriptPath"`
	TypeofDefault string   `json:"typeofDefault"`
	TypeofReturn  string   `json:"typeofReturn"`
	Args          []string `json:"args"`
	Error         string   `json:"error"`
}

// Worker owns one Node child process running the embedded shim. A worker
// handles one request at a time; the pool enforces the Idle/Busy discipline.
type Worker struct {
	id  int
	cmd *exec.Cmd

	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu    sync.Mutex
	state workerState

	onIdle            func(*Worker)
	onTerminated      func(*Worker)
	onUnexpectedError func(*Worker, error)
}

// newWorker spawns the Node child. The callbacks are passed in so the worker
// never names the pool type.
func newWorker(
	id int,
	executor spawn.Executor,
	nodeCommand string,
	shimPath string,
	onIdle func(*Worker),
	onTerminated func(*Worker),
	onUnexpectedError func(*Worker, error),
) (*Worker, error) {
	cmd := executor.Command(nodeCommand, shimPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024*1024)

	w := &Worker{
		id:                id,
		cmd:               cmd,
		stdin:             stdin,
		stdout:            scanner,
		state:             workerIdle,
		onIdle:            onIdle,
		onTerminated:      onTerminated,
		onUnexpectedError: onUnexpectedError,
	}

	go w.watch()
	return w, nil
}

// watch notices the child dying while it is still supposed to be alive.
func (w *Worker) watch() {
	err := w.cmd.Wait()

	w.mu.Lock()
	alreadyTerminated := w.state == workerTerminated
	w.state = workerTerminated
	w.mu.Unlock()

	if !alreadyTerminated {
		if err == nil {
			err = fmt.Errorf("postprocess worker %d exited unexpectedly", w.id)
		}
		w.onUnexpectedError(w, fmt.Errorf("postprocess worker %d died: %w", w.id, err))
		w.onTerminated(w)
	}
}

// isIdle reports whether the worker can take a request.
func (w *Worker) isIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == workerIdle
}

// Postprocess sends one request and blocks for its response. Calling this on
// a worker that is not idle is a programming error.
func (w *Worker) Postprocess(request Request) Result {
	w.mu.Lock()
	if w.state != workerIdle {
		w.mu.Unlock()
		panic(fmt.Sprintf("postprocess worker %d used while not idle", w.id))
	}
	w.state = workerBusy
	w.mu.Unlock()

	result := w.roundTrip(request)

	w.mu.Lock()
	if w.state == workerBusy {
		w.state = workerIdle
		w.mu.Unlock()
		w.onIdle(w)
	} else {
		w.mu.Unlock()
	}

	return result
}

func (w *Worker) roundTrip(request Request) Result {
	payload, err := json.Marshal(struct {
		Tag  string `json:"tag"`
		Args struct {
			Cwd       string   `json:"cwd"`
			UserArgs  []string `json:"userArgs"`
			ExtraArgs []string `json:"extraArgs"`
			Code      string   `json:"code"`
		} `json:"args"`
	}{
		Tag: "StartPostprocess",
		Args: struct {
			Cwd       string   `json:"cwd"`
			UserArgs  []string `json:"userArgs"`
			ExtraArgs []string `json:"extraArgs"`
			Code      string   `json:"code"`
		}{
			Cwd:       request.Cwd,
			UserArgs:  request.UserArgs,
			ExtraArgs: request.ExtraArgs,
			Code:      request.Code,
		},
	})
	if err != nil {
		return w.messagingFailure(fmt.Errorf("failed to encode the request: %w", err))
	}

	if _, err := w.stdin.Write(append(payload, '\n')); err != nil {
		return w.messagingFailure(fmt.Errorf("failed to write to worker %d: %w", w.id, err))
	}

	if !w.stdout.Scan() {
		err := w.stdout.Err()
		if err == nil {
			err = io.EOF
		}
		return w.messagingFailure(fmt.Errorf("failed to read from worker %d: %w", w.id, err))
	}

	var message workerMessage
	if err := json.Unmarshal(w.stdout.Bytes(), &message); err != nil {
		return w.messagingFailure(fmt.Errorf("worker %d sent malformed JSON: %w", w.id, err))
	}
	if message.Tag != "PostprocessDone" {
		return w.messagingFailure(fmt.Errorf("worker %d sent unexpected message %q", w.id, message.Tag))
	}

	return decodeResult(message.Result)
}

// messagingFailure marks the worker dead and routes the error to the
// unexpected-error callback; the caller sees a RunError-shaped result.
func (w *Worker) messagingFailure(err error) Result {
	w.mu.Lock()
	alreadyTerminated := w.state == workerTerminated
	w.state = workerTerminated
	w.mu.Unlock()

	if !alreadyTerminated {
		_ = w.cmd.Process.Kill()
		w.onUnexpectedError(w, err)
		w.onTerminated(w)
	}

	return Result{Err: errors.Wrap(err, errors.ErrCodeElmWatchNodeRunError, "the postprocess worker failed")}
}

func decodeResult(result workerResult) Result {
	switch result.Tag {
	case "Resolve":
		return Result{Code: []byte(result.Code)}
	case "Reject":
		switch result.ErrorTag {
		case "MissingScript":
			return Result{Err: errors.ElmWatchNodeMissingScript()}
		case "ImportError":
			return Result{Err: errors.ElmWatchNodeImportError(result.ScriptPath, result.Error)}
		case "DefaultExportNotFunction":
			return Result{Err: errors.ElmWatchNodeDefaultExportNotFunction(result.ScriptPath, result.TypeofDefault)}
		case "RunError":
			return Result{Err: errors.ElmWatchNodeRunError(result.ScriptPath, result.Args, result.Error)}
		case "BadReturnValue":
			return Result{Err: errors.ElmWatchNodeBadReturnValue(result.ScriptPath, result.TypeofReturn)}
		}
	}
	return Result{Err: errors.New(errors.ErrCodeElmWatchNodeRunError,
		fmt.Sprintf("the postprocess worker sent an unknown result: %s/%s", result.Tag, result.ErrorTag))}
}

// Terminate kills the child. Safe to call repeatedly.
func (w *Worker) Terminate() {
	w.mu.Lock()
	alreadyTerminated := w.state == workerTerminated
	w.state = workerTerminated
	w.mu.Unlock()

	if !alreadyTerminated {
		_ = w.stdin.Close()
		_ = w.cmd.Process.Kill()
		w.onTerminated(w)
	}
}
