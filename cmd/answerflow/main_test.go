package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/agents"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/config"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/prompts"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/testutil"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/testutil/scripted"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func scriptedUnits(s *scripted.Script) UnitFactory {
	return func(*config.WorkflowConfig, afero.Fs, *prompts.Registry, logging.Logger) (agents.Units, error) {
		return s.Units(), nil
	}
}

// runCLI executes the command tree in-process against fs.
func runCLI(t *testing.T, ctx context.Context, fs afero.Fs, s *scripted.Script, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd(newApp(fs, scriptedUnits(s)))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// =============================================================================
// ASK TESTS
// =============================================================================

func TestAsk(t *testing.T) {
	out, err := runCLI(t, context.Background(), afero.NewMemMapFs(), scripted.New(), "ask", "--question", "What is 6*7?")
	require.NoError(t, err)
	assert.Equal(t, "Answer: 42\nReasoning: Researched, then answered.\n", out)
}

func TestAskJSON(t *testing.T) {
	out, err := runCLI(t, context.Background(), afero.NewMemMapFs(), scripted.New(),
		"ask", "-q", "What is in the file?", "--file", "notes.txt", "--json")
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, "42", record["final_answer"])
	assert.Equal(t, "completed", record["terminal_reason"])
	assert.Equal(t, "notes.txt", record["file_ref"])
	assert.Equal(t, envelope.SchemaVersion, record["schema_version"])
}

func TestAskRequiresQuestion(t *testing.T) {
	_, err := runCLI(t, context.Background(), afero.NewMemMapFs(), scripted.New(), "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "question" not set`)
}

func TestAskUnitFailure(t *testing.T) {
	script := scripted.New()
	script.Planner.Err = errors.New("provider unavailable")

	out, err := runCLI(t, context.Background(), afero.NewMemMapFs(), script, "ask", "-q", "q")

	var unitErr *runtime.UnitError
	require.ErrorAs(t, err, &unitErr)
	assert.Equal(t, envelope.UnitPlanner, unitErr.Unit)
	assert.True(t, strings.HasPrefix(out, "Answer:"))
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestConfigFileOverridesRetryLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/answerflow.yaml", []byte(`
retry_limits:
  synthesizer: 1
logging:
  level: debug
  format: text
`), 0o644))

	script := scripted.New()
	script.Reviewer.Decisions = map[envelope.ReviewKind][]agents.ReviewOutput{
		envelope.ReviewKindSynthesis: {scripted.Reject("not supported by the research")},
	}

	out, err := runCLI(t, context.Background(), fs, script,
		"--config", "/etc/answerflow.yaml", "ask", "-q", "q", "--json")
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, runtime.FailureAnswer, record["final_answer"])
	assert.Equal(t, "retry_exhausted", record["terminal_reason"])
	assert.Equal(t, "synthesizer", record["exhausted_unit"])

	limits, ok := record["retry_limits"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), limits["synthesizer"])
	assert.Equal(t, float64(3), limits["planner"])
	assert.Equal(t, 1, script.Synthesizer.Calls())
}

func TestMissingConfigFile(t *testing.T) {
	_, err := runCLI(t, context.Background(), afero.NewMemMapFs(), scripted.New(),
		"--config", "/nope.yaml", "ask", "-q", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestInvalidLogLevelFlag(t *testing.T) {
	_, err := runCLI(t, context.Background(), afero.NewMemMapFs(), scripted.New(),
		"--log-level", "loud", "ask", "-q", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

// =============================================================================
// BATCH TESTS
// =============================================================================

const taskFile = `{"task_id":"t1","Question":"What is 6*7?","file_name":"","Level":1,"Final answer":"42"}

not json
{"task_id":"t2","Question":"What is 40+1?","file_name":"sum.txt","Level":"1","Final answer":"41"}
{"task_id":"t3","Question":"Skip me","file_name":"","Level":2}
`

func readResponses(t *testing.T, fs afero.Fs, path string) []responseRecord {
	t.Helper()
	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []responseRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec responseRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in.jsonl", []byte(taskFile), 0o644))
	script := scripted.New()

	out, err := runCLI(t, context.Background(), fs, script,
		"batch", "--input", "/in.jsonl", "--output", "/out.jsonl", "--parallel", "2", "--level", "1")
	require.NoError(t, err)

	assert.Equal(t, "Wrote 2 responses to /out.jsonl\n"+
		"Scored 2 answers: exact_match=0.500 string_similarity=0.750\n", out)

	responses := readResponses(t, fs, "/out.jsonl")
	require.Len(t, responses, 2)

	assert.Equal(t, "t1", responses[0].TaskID)
	assert.Equal(t, "42", responses[0].ModelAnswer)
	assert.Equal(t, "Researched, then answered.", responses[0].ReasoningTrace)
	assert.Equal(t, "completed", responses[0].TerminalReason)
	require.NotNil(t, responses[0].Scores)
	assert.Equal(t, 1.0, responses[0].Scores.ExactMatch)

	assert.Equal(t, "t2", responses[1].TaskID)
	require.NotNil(t, responses[1].Scores)
	assert.Equal(t, 0.0, responses[1].Scores.ExactMatch)
	assert.InDelta(t, 0.5, responses[1].Scores.StringSimilarity, 1e-9)

	assert.Equal(t, 2, script.Planner.Calls())
}

func TestBatchWithoutReferences(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in.jsonl", []byte(
		`{"task_id":"a","Question":"q1"}`+"\n"+`{"task_id":"b","Question":""}`+"\n"), 0o644))

	out, err := runCLI(t, context.Background(), fs, scripted.New(),
		"batch", "-i", "/in.jsonl", "-o", "/out.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "Wrote 2 responses to /out.jsonl\n", out)

	responses := readResponses(t, fs, "/out.jsonl")
	require.Len(t, responses, 2)
	assert.Nil(t, responses[0].Scores)
	assert.Empty(t, responses[0].Error)
	assert.Contains(t, responses[1].Error, "invalid input")
	assert.Empty(t, responses[1].ModelAnswer)
}

func TestBatchMissingInput(t *testing.T) {
	_, err := runCLI(t, context.Background(), afero.NewMemMapFs(), scripted.New(),
		"batch", "-i", "/missing.jsonl", "-o", "/out.jsonl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open task file")
}

func TestDecodeTasksSkipsMalformedLines(t *testing.T) {
	logger := testutil.NewMockLogger()

	tasks, err := decodeTasks(strings.NewReader(taskFile), logger)
	require.NoError(t, err)

	require.Len(t, tasks, 3)
	assert.Equal(t, 1, tasks[0].level())
	assert.Equal(t, 1, tasks[1].level())
	assert.Equal(t, 2, tasks[2].level())
	assert.Equal(t, "sum.txt", tasks[1].FileName)
	assert.True(t, logger.HasLog("warn", "batch_line_skipped"))
	assert.Len(t, filterLevel(tasks, 2), 1)
}

// =============================================================================
// SERVE TESTS
// =============================================================================

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runCLI(t, ctx, afero.NewMemMapFs(), scripted.New(),
		"serve", "--addr", "127.0.0.1:0", "--metrics-addr", "")
	assert.NoError(t, err)
}

func TestMetricsServerHandler(t *testing.T) {
	srv := newMetricsServer(":0")
	assert.Equal(t, ":0", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
