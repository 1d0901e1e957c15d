package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/version"
)

// NewVersionCmd creates the `version` command.
func NewVersionCmd() *cobra.Command {
	cmd := cli.NewStandardCommand(
		"version",
		"Print version information",
	)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.String())
		return nil
	}
	return cmd
}
