// Command tlctl drives a δ-machine workspace: boot it, feed it a request,
// run its tick loop to halt, and inspect its registers and tape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagWorkspace  string
	flagConfigFile string
	flagLogLevel   string
	flagLogFile    string
)

func main() {
	root := &cobra.Command{
		Use:   "tlctl",
		Short: "tlctl — drive a δ-machine workspace",
		Long:  "tlctl boots and runs the Turing-style machine that models an autonomous engineering agent: an LLM oracle plays the transition function, the filesystem plays the tape.",
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "workspace directory (overrides WORKSPACE env and config file)")
	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "additional log file path")

	root.AddCommand(
		bootCmd(),
		tickCmd(),
		runCmd(),
		statusCmd(),
		resumeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
