// Package cmd holds the elm-watch subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/compile"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/spawn"
)

// addModeFlags registers the compilation mode flags shared by make and hot
// (hot only to reject them with a proper message).
func addModeFlags(flags *pflag.FlagSet) {
	flags.Bool("debug", false, "Compile with the debugger enabled")
	flags.Bool("optimize", false, "Compile with optimizations")
}

// NewMakeCmd creates the `make` command: compile every selected target once
// and exit.
func NewMakeCmd() *cobra.Command {
	cmd := cli.NewStandardCommand(
		"make [targets...]",
		"Compile the configured targets once and exit",
	)
	addModeFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		term := cli.NewTerminal(os.Stderr)

		debug, _ := cmd.Flags().GetBool("debug")
		optimize, _ := cmd.Flags().GetBool("optimize")

		var mode project.CompilationMode
		switch {
		case debug && optimize:
			return fail(term, errors.DebugOptimizeClash())
		case debug:
			mode = project.ModeDebug
		case optimize:
			mode = project.ModeOptimize
		}

		p, err := loadProject(args, mode)
		if err != nil {
			return fail(term, err)
		}

		if exitCode := compile.RunMake(&spawn.RealExecutor{}, term, p, 0); exitCode != 0 {
			return exitError{code: exitCode}
		}
		return nil
	}

	return cmd
}

// loadProject discovers elm-watch.json, parses it, and resolves the project
// for the selected targets.
func loadProject(selected []string, mode project.CompilationMode) (*project.Project, *errors.WatchError) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadArgs, "failed to get the working directory")
	}
	configPath, err := project.FindConfigFile(cwd)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigJsonParseError, err.Error())
	}

	cfg, werr := project.LoadConfig(configPath)
	if werr != nil {
		return nil, werr
	}

	persisted := project.LoadStateFile(project.StateFilePath(configPath))
	return project.NewProject(configPath, cfg, selected, mode, persisted)
}

// fail prints a rendered report and returns a silent exit-1 error.
func fail(term *cli.Terminal, werr *errors.WatchError) error {
	term.WriteLine(term.ErrorTitle(errors.Render(werr)))
	return exitError{code: 1}
}

// exitError carries an exit code up to main without re-printing anything.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// ExitCode extracts the exit code from an error returned by a command.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if exit, ok := err.(exitError); ok {
		return exit.code
	}
	return 1
}
