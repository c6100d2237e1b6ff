// Command answerflow answers questions with a reviewed plan, research and
// synthesis workflow.
//
// Usage:
//
//	answerflow ask --question "What is 6*7?"
//	answerflow batch --input tasks.jsonl --output answers.jsonl --parallel 4
//	answerflow serve --addr :50051 --metrics-addr :9090
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newApp(afero.NewOsFs(), nil))
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
