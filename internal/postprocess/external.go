package postprocess

import (
	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/spawn"
)

// RunExternal runs a postprocess command vector whose first token is an
// executable name. The compiled code goes in on stdin; the transformed code
// comes back on stdout. Exit 0 is success.
func RunExternal(executor spawn.Executor, command []string, extraArgs []string, code []byte, cwd string) Result {
	argv := append(append([]string{}, command[1:]...), extraArgs...)

	result := spawn.Run(executor, spawn.Options{
		Command: command[0],
		Args:    argv,
		Dir:     cwd,
		Stdin:   code,
	})

	switch r := result.(type) {
	case spawn.CommandNotFound:
		return Result{Err: errors.CommandNotFound(r.Command)}
	case spawn.OtherSpawnError:
		return Result{Err: errors.OtherSpawnError(command[0], r.Err)}
	case spawn.StdinWriteError:
		return Result{Err: errors.PostprocessStdinWriteError(command, r.Err)}
	case spawn.Exited:
		if r.Reason == spawn.ExitCode(0) {
			return Result{Code: r.Stdout}
		}
		return Result{Err: errors.PostprocessNonZeroExit(command, r.Reason.String(), r.Stdout, r.Stderr)}
	}
	return Result{Err: errors.New(errors.ErrCodeOtherSpawnError, "unreachable spawn result")}
}
