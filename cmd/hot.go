package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/hot"
	"github.com/grovetools/elmwatch/internal/spawn"
	"github.com/grovetools/elmwatch/internal/ws"
	"github.com/grovetools/elmwatch/version"
)

// NewHotCmd creates the `hot` command: watch, rebuild, and push reloads until
// interrupted.
func NewHotCmd() *cobra.Command {
	cmd := cli.NewStandardCommand(
		"hot [targets...]",
		"Watch the project, recompile on change, and live-reload browsers",
	)
	addModeFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		term := cli.NewTerminal(os.Stderr)

		debug, _ := cmd.Flags().GetBool("debug")
		optimize, _ := cmd.Flags().GetBool("optimize")
		if debug || optimize {
			// Hot mode sets the mode per target from the browser.
			return fail(term, errors.DebugOptimizeForHot())
		}

		var webSocketState *ws.Server
		var webSocketConnections []*hot.Connection
		for {
			p, werr := loadProject(args, "")
			if werr != nil {
				return fail(term, werr)
			}

			result, err := hot.Run(hot.RunOptions{
				Project:              p,
				Version:              version.Version,
				WebSocketState:       webSocketState,
				WebSocketConnections: webSocketConnections,
				Executor:             &spawn.RealExecutor{},
				Terminal:             term,
			})
			if err != nil {
				if werr, ok := err.(*errors.WatchError); ok {
					return fail(term, werr)
				}
				term.WriteLine(term.ErrorTitle(err.Error()))
				return exitError{code: 1}
			}

			switch result.Kind {
			case hot.ResultExit:
				if result.ExitCode != 0 {
					return exitError{code: result.ExitCode}
				}
				return nil
			case hot.ResultRestart:
				for _, reason := range result.RestartReasons {
					term.WriteLine(term.Dim("restarting: " + reason.Description()))
				}
				webSocketState = result.WebSocketState
				webSocketConnections = result.WebSocketConnections
			}
		}
	}

	return cmd
}
