// Package compile owns the per-target pipeline: dependency install, compiler
// invocation, error extraction, postprocess, and the scheduling of runnable
// actions under the global concurrency cap.
package compile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/spawn"
)

// MakeOptions describes one compiler invocation.
type MakeOptions struct {
	ElmJsonPath string
	Mode        project.CompilationMode
	Inputs      []string
	// TypecheckOnly compiles for errors without producing an artifact.
	TypecheckOnly bool
}

// ElmMake runs the compiler once. On success it returns the artifact bytes
// (nil when typechecking only). The compiler writes to a temporary which is
// read and deleted; from then on the returned buffer is the source of truth.
func ElmMake(executor spawn.Executor, opts MakeOptions) ([]byte, *errors.WatchError) {
	dest := os.DevNull
	var tempPath string
	if !opts.TypecheckOnly {
		temp, err := os.CreateTemp("", "elm-watch-output-*.js")
		if err != nil {
			return nil, errors.OtherSpawnError("elm", err)
		}
		tempPath = temp.Name()
		_ = temp.Close()
		defer os.Remove(tempPath)
		dest = tempPath
	}

	args := []string{"make", "--report=json", "--output=" + dest}
	switch opts.Mode {
	case project.ModeDebug:
		args = append(args, "--debug")
	case project.ModeOptimize:
		args = append(args, "--optimize")
	}
	args = append(args, opts.Inputs...)

	result := spawn.Run(executor, spawn.Options{
		Command: "elm",
		Args:    args,
		Dir:     filepath.Dir(opts.ElmJsonPath),
	})

	switch r := result.(type) {
	case spawn.CommandNotFound:
		return nil, errors.ElmNotFound("elm")
	case spawn.OtherSpawnError:
		return nil, errors.OtherSpawnError("elm", r.Err)
	case spawn.StdinWriteError:
		return nil, errors.OtherSpawnError("elm", r.Err)
	case spawn.Exited:
		return classifyMakeExit(r, opts, tempPath)
	}
	return nil, errors.New(errors.ErrCodeOtherSpawnError, "unreachable spawn result")
}

func classifyMakeExit(r spawn.Exited, opts MakeOptions, tempPath string) ([]byte, *errors.WatchError) {
	switch r.Reason {
	case spawn.ExitCode(0):
		if len(r.Stdout) > 0 {
			return nil, errors.UnexpectedElmMakeOutput(r.Stdout, r.Stderr)
		}
		if opts.TypecheckOnly {
			return nil, nil
		}
		code, err := os.ReadFile(tempPath)
		if err != nil {
			return nil, errors.StdoutDecodeError(tempPath, err)
		}
		return code, nil

	case spawn.ExitCode(1):
		return nil, parseMakeReport(r.Stderr, r.Stdout)

	default:
		return nil, errors.UnexpectedElmMakeOutput(r.Stdout, r.Stderr)
	}
}

// elmReport mirrors the compiler's --report=json output.
type elmReport struct {
	Type    string            `json:"type"`
	Path    string            `json:"path"`
	Title   string            `json:"title"`
	Message []json.RawMessage `json:"message"`
	Errors  []elmFileError    `json:"errors"`
}

type elmFileError struct {
	Path     string       `json:"path"`
	Name     string       `json:"name"`
	Problems []elmProblem `json:"problems"`
}

type elmProblem struct {
	Title   string            `json:"title"`
	Message []json.RawMessage `json:"message"`
}

func parseMakeReport(stderr, stdout []byte) *errors.WatchError {
	trimmed := strings.TrimSpace(string(stderr))
	if trimmed == "" || trimmed[0] != '{' {
		return errors.UnexpectedElmMakeOutput(stdout, stderr)
	}

	var report elmReport
	if err := json.Unmarshal([]byte(trimmed), &report); err != nil {
		return errors.ElmMakeJsonParseError(err, stderr)
	}

	switch report.Type {
	case "error":
		return errors.ElmMakeGeneralError(report.Title, report.Path, renderMessage(report.Message))
	case "compile-errors":
		var renderings []string
		for _, fileError := range report.Errors {
			for _, problem := range fileError.Problems {
				renderings = append(renderings, fmt.Sprintf("-- %s %s\n%s\n\n%s",
					problem.Title,
					strings.Repeat("-", maxInt(0, 50-len(problem.Title))),
					fileError.Path,
					renderMessage(problem.Message)))
			}
		}
		return errors.ElmMakeCompileErrors(renderings)
	default:
		return errors.ElmMakeJsonParseError(
			fmt.Errorf("unknown report type %q", report.Type), stderr)
	}
}

// renderMessage flattens the compiler's message array: plain strings mixed
// with styled chunks carrying a "string" field.
func renderMessage(parts []json.RawMessage) string {
	var b strings.Builder
	for _, part := range parts {
		var plain string
		if err := json.Unmarshal(part, &plain); err == nil {
			b.WriteString(plain)
			continue
		}
		var styled struct {
			String string `json:"string"`
		}
		if err := json.Unmarshal(part, &styled); err == nil {
			b.WriteString(styled.String)
		}
	}
	return b.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
