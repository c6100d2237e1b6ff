package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		question string
		fileRef  string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer one question",
		Example: `  answerflow ask --question "How many moons does Mars have?"
  answerflow ask --question "Summarize the attached notes" --file notes.txt --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rn, err := a.newRunner()
			if err != nil {
				return err
			}

			result, runErr := rn.Execute(cmd.Context(), question, fileRef)
			if result == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result.State.ToResultDict()); err != nil {
					return err
				}
				return runErr
			}

			fmt.Fprintf(out, "Answer: %s\n", result.FinalAnswer)
			if result.FinalReasoningTrace != "" {
				fmt.Fprintf(out, "Reasoning: %s\n", result.FinalReasoningTrace)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "question to answer")
	cmd.Flags().StringVarP(&fileRef, "file", "f", "", "file attached to the question, relative to the files root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run record as JSON")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}
