package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "answerflow",
		Short: "Answer questions with a reviewed multi-unit workflow",
		Long: `answerflow plans a question into research and synthesis steps, runs each
step through a reviewer, and compiles a final answer with a reasoning trace.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./answerflow.yaml or $HOME/.config/answerflow/answerflow.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")
	flags.String("files-root", "", "directory the file-reading tool is confined to")
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("files_root", flags.Lookup("files-root"))

	root.AddCommand(newAskCmd(a), newBatchCmd(a), newServeCmd(a))
	return root
}
