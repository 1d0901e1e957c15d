package main

import (
	"os"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"elm-watch",
		"A watch-mode build driver for the Elm compiler",
	)

	rootCmd.AddCommand(cmd.NewMakeCmd())
	rootCmd.AddCommand(cmd.NewHotCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
