package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/evaluation"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/typeutil"
)

const maxTaskLineBytes = 1 << 20

// taskRecord is one line of a GAIA-style metadata file.
type taskRecord struct {
	TaskID   string `json:"task_id"`
	Question string `json:"Question"`
	FileName string `json:"file_name"`
	// Level is a number in some exports and a string in others.
	Level       any    `json:"Level"`
	FinalAnswer string `json:"Final answer"`
}

func (r taskRecord) level() int {
	f, ok := typeutil.SafeFloat64(r.Level)
	if !ok {
		return 0
	}
	return int(f)
}

// responseRecord is one line of the batch output.
type responseRecord struct {
	TaskID         string             `json:"task_id"`
	ModelAnswer    string             `json:"model_answer"`
	ReasoningTrace string             `json:"reasoning_trace"`
	TerminalReason string             `json:"terminal_reason,omitempty"`
	Error          string             `json:"error,omitempty"`
	Scores         *evaluation.Scores `json:"scores,omitempty"`
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		input    string
		output   string
		parallel int
		level    int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer every question of a JSONL task file",
		Long: `batch reads GAIA-style records (task_id, Question, file_name, optional
"Final answer") and writes one response record per task. When reference
answers are present the responses are scored.`,
		Example: `  answerflow batch --input metadata.jsonl --output responses.jsonl --parallel 4 --level 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := readTasks(a.fs, input, a.logger)
			if err != nil {
				return err
			}
			if level > 0 {
				tasks = filterLevel(tasks, level)
			}

			rn, err := a.newRunner()
			if err != nil {
				return err
			}

			questions := make([]runtime.Question, len(tasks))
			for i, t := range tasks {
				questions[i] = runtime.Question{ID: t.TaskID, Question: t.Question, FileRef: t.FileName}
			}
			results, err := rn.ExecuteBatch(cmd.Context(), questions, parallel)
			if err != nil {
				return err
			}

			responses, summary := buildResponses(tasks, results)
			if err := writeResponses(a.fs, output, responses); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %d responses to %s\n", len(responses), output)
			if summary.Count > 0 {
				mean := summary.Mean()
				fmt.Fprintf(out, "Scored %d answers: exact_match=%.3f string_similarity=%.3f\n",
					summary.Count, mean.ExactMatch, mean.StringSimilarity)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSONL task file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "JSONL response file")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "questions answered concurrently")
	cmd.Flags().IntVar(&level, "level", 0, "only answer tasks of this level (0 answers all)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// readTasks parses a JSONL file. Blank lines are ignored and lines that are
// not valid JSON are logged and skipped.
func readTasks(fs afero.Fs, path string, logger logging.Logger) ([]taskRecord, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task file: %w", err)
	}
	defer f.Close()
	return decodeTasks(f, logger)
}

func decodeTasks(r io.Reader, logger logging.Logger) ([]taskRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTaskLineBytes)

	var tasks []taskRecord
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var t taskRecord
		if err := json.Unmarshal(raw, &t); err != nil {
			logger.Warn("batch_line_skipped", "line", line, "error", err.Error())
			continue
		}
		tasks = append(tasks, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return tasks, nil
}

func filterLevel(tasks []taskRecord, level int) []taskRecord {
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.level() == level {
			out = append(out, t)
		}
	}
	return out
}

// buildResponses pairs tasks with their outcomes and scores those that carry
// a reference answer.
func buildResponses(tasks []taskRecord, results []runtime.BatchResult) ([]responseRecord, *evaluation.Summary) {
	summary := &evaluation.Summary{}
	responses := make([]responseRecord, len(tasks))
	for i, t := range tasks {
		res := results[i]
		rec := responseRecord{TaskID: t.TaskID}
		if res.Result != nil {
			rec.ModelAnswer = res.Result.FinalAnswer
			rec.ReasoningTrace = res.Result.FinalReasoningTrace
			rec.TerminalReason = string(res.Result.State.TerminalReason)
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if t.FinalAnswer != "" {
			scores := evaluation.Score(rec.ModelAnswer, t.FinalAnswer)
			rec.Scores = &scores
			summary.Add(scores)
		}
		responses[i] = rec
	}
	return responses, summary
}

func writeResponses(fs afero.Fs, path string, responses []responseRecord) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create response file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range responses {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
