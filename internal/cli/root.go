package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the convoctl command tree.
func NewRootCmd(version, commit string) *cobra.Command {
	root := &cobra.Command{
		Use:   "convoctl",
		Short: "Operator tooling for convodb databases",
		Long: `convoctl inspects convodb databases offline and produces signatures
for trusted backends. It also checks config files and load-tests a
running server.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newInspectCmd(), newGetCmd(), newVerifyCmd(), newSignCmd(), newConfigCmd(), newBenchCmd())
	return root
}

// Execute runs the command tree against args, writing to out.
func Execute(version, commit string, args []string, out io.Writer) error {
	cmd := NewRootCmd(version, commit)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd.Execute()
}
