package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TOOL EXECUTOR TESTS
// =============================================================================

func echoTool(name string) *ToolDefinition {
	return &ToolDefinition{
		Name:        name,
		Description: "echoes its input",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"echo": params["text"]}, nil
		},
	}
}

func TestNewToolExecutor(t *testing.T) {
	executor := NewToolExecutor()

	assert.NotNil(t, executor)
	assert.Empty(t, executor.List())
}

func TestRegisterTool(t *testing.T) {
	executor := NewToolExecutor()

	require.NoError(t, executor.Register(echoTool("echo")))

	assert.True(t, executor.Has("echo"))
	assert.Equal(t, []string{"echo"}, executor.List())
}

func TestRegisterToolRejects(t *testing.T) {
	tests := []struct {
		name    string
		def     *ToolDefinition
		wantErr string
	}{
		{"missing name", &ToolDefinition{Handler: echoTool("x").Handler}, "name is required"},
		{"missing handler", &ToolDefinition{Name: "broken"}, "handler is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolExecutor().Register(tt.def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegisterDuplicateTool(t *testing.T) {
	executor := NewToolExecutor()
	require.NoError(t, executor.Register(echoTool("echo")))

	err := executor.Register(echoTool("echo"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestExecuteTool(t *testing.T) {
	executor := NewToolExecutor()
	require.NoError(t, executor.Register(echoTool("echo")))

	result, err := executor.Execute(context.Background(), "echo", map[string]any{"text": "hi"})

	require.NoError(t, err)
	assert.Equal(t, "hi", result["echo"])
}

func TestExecuteToolNotFound(t *testing.T) {
	_, err := NewToolExecutor().Execute(context.Background(), "missing", nil)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Name)
}

func TestExecuteToolError(t *testing.T) {
	executor := NewToolExecutor()
	boom := errors.New("boom")
	require.NoError(t, executor.Register(&ToolDefinition{
		Name: "failing",
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return nil, boom
		},
	}))

	_, err := executor.Execute(context.Background(), "failing", nil)

	assert.ErrorIs(t, err, boom)
}

func TestExecuteNilParams(t *testing.T) {
	executor := NewToolExecutor()
	var got map[string]any
	require.NoError(t, executor.Register(&ToolDefinition{
		Name: "capture",
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			got = params
			return nil, nil
		},
	}))

	_, err := executor.Execute(context.Background(), "capture", nil)

	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSpecs(t *testing.T) {
	executor := NewToolExecutor()
	require.NoError(t, executor.Register(echoTool("b")))
	require.NoError(t, executor.Register(echoTool("a")))

	all := executor.Specs(nil)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)

	some := executor.Specs([]string{"b", "unknown"})
	require.Len(t, some, 1)
	assert.Equal(t, "b", some[0].Name)
	assert.Equal(t, "echoes its input", some[0].Description)

	assert.Empty(t, executor.Specs([]string{}))
}

func TestRegisterBuiltins(t *testing.T) {
	executor := NewToolExecutor()

	require.NoError(t, RegisterBuiltins(executor, NewFileReader(afero.NewMemMapFs(), 0)))

	assert.Equal(t, []string{"calculator", "read_text_file", "unit_converter"}, executor.List())
}

func TestRegisterBuiltinsWithoutFiles(t *testing.T) {
	executor := NewToolExecutor()

	require.NoError(t, RegisterBuiltins(executor, nil))

	assert.False(t, executor.Has("read_text_file"))
}

// =============================================================================
// CALCULATOR TESTS
// =============================================================================

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2", 3},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"-3 + 5", 2},
		{"2 * -3", -6},
		{"--4", 4},
		{"10 / 4", 2.5},
		{"10 % 4", 2},
		{"2 ^ 10", 1024},
		{"2 ^ 3 ^ 2", 512},
		{"-2 ^ 2", -4},
		{" 1.5 * 2 ", 3},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr string
	}{
		{"1 / 0", "division by zero"},
		{"5 % 0", "modulo by zero"},
		{"(1 + 2", "mismatched parentheses"},
		{"1 + 2)", "unexpected"},
		{"1 +", "unexpected end"},
		{"abc", "unexpected"},
		{"1..2", "invalid number"},
		{"", "unexpected end"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Evaluate(tt.expr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "3", FormatNumber(3))
	assert.Equal(t, "2.5", FormatNumber(2.5))
	assert.Equal(t, "-0.125", FormatNumber(-0.125))
	assert.Equal(t, "100000000000000000000", FormatNumber(1e20))
}

func TestCalculatorTool(t *testing.T) {
	executor := NewToolExecutor()
	require.NoError(t, executor.Register(CalculatorTool()))

	result, err := executor.Execute(context.Background(), "calculator", map[string]any{"expression": "(3 + 4) * 2"})
	require.NoError(t, err)
	assert.Equal(t, "14", result["result"])

	_, err = executor.Execute(context.Background(), "calculator", map[string]any{})
	assert.ErrorContains(t, err, "missing required parameter 'expression'")
}

// =============================================================================
// UNIT CONVERTER TESTS
// =============================================================================

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		from, to string
		want     float64
	}{
		{"km to m", 1, "km", "m", 1000},
		{"miles to km", 1, "miles", "km", 1.609344},
		{"feet to inches", 1, "feet", "inch", 12},
		{"lb to kg", 10, "lb", "kg", 4.5359237},
		{"hours to minutes", 2, "hours", "min", 120},
		{"gallon to litre", 1, "gallon", "litre", 3.785411784},
		{"celsius to fahrenheit", 100, "Celsius", "fahrenheit", 212},
		{"fahrenheit to celsius", 32, "F", "C", 0},
		{"celsius to kelvin", 0, "celsius", "kelvin", 273.15},
		{"degrees celsius", 10, "degrees celsius", "c", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.value, tt.from, tt.to)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestConvertErrors(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		wantErr  string
	}{
		{"unknown source", "parsec", "m", "unknown unit"},
		{"unknown target", "m", "parsec", "unknown unit"},
		{"dimension mismatch", "kg", "m", "cannot convert mass to length"},
		{"temperature mismatch", "celsius", "m", "cannot convert temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(1, tt.from, tt.to)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUnitConverterTool(t *testing.T) {
	def := UnitConverterTool()

	result, err := def.Handler(context.Background(), map[string]any{
		"value": 5.0, "from_unit": "km", "to_unit": "m",
	})
	require.NoError(t, err)
	assert.Equal(t, "5000", result["result"])
	assert.Equal(t, "m", result["unit"])

	result, err = def.Handler(context.Background(), map[string]any{
		"value": "2", "from_unit": "kg", "to_unit": "g",
	})
	require.NoError(t, err)
	assert.Equal(t, "2000", result["result"])

	_, err = def.Handler(context.Background(), map[string]any{
		"value": "five", "from_unit": "km", "to_unit": "m",
	})
	assert.ErrorContains(t, err, "must be a number")
}

// =============================================================================
// FILE READER TESTS
// =============================================================================

func memReader(t *testing.T, files map[string]string, maxBytes int) *FileReader {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return NewFileReader(fs, maxBytes)
}

func TestFileReaderRead(t *testing.T) {
	r := memReader(t, map[string]string{"/notes.txt": "hello world"}, 0)

	content, truncated, err := r.Read("notes.txt")

	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
	assert.False(t, truncated)
}

func TestFileReaderTruncates(t *testing.T) {
	r := memReader(t, map[string]string{"/big.txt": "abcdefghij"}, 4)

	content, truncated, err := r.Read("big.txt")

	require.NoError(t, err)
	assert.Equal(t, "abcd", content)
	assert.True(t, truncated)
}

func TestFileReaderTruncatesOnRuneBoundary(t *testing.T) {
	r := memReader(t, map[string]string{"/u.txt": "aé"}, 2)

	content, truncated, err := r.Read("u.txt")

	require.NoError(t, err)
	assert.Equal(t, "a", content)
	assert.True(t, truncated)
}

func TestFileReaderErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bin.dat", []byte{0xff, 0xfe, 0x00}, 0o644))
	require.NoError(t, fs.MkdirAll("/dir", 0o755))
	r := NewFileReader(fs, 0)

	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{"empty name", "  ", "file name is required"},
		{"missing", "nope.txt", "file not found"},
		{"directory", "dir", "is a directory"},
		{"binary", "bin.dat", "not a text file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Read(tt.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFileReaderConfinedToRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/files/in.txt", []byte("inside"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/root/secret.txt", []byte("outside"), 0o644))
	r := NewFileReader(afero.NewBasePathFs(fs, "/root/files"), 0)

	content, _, err := r.Read("in.txt")
	require.NoError(t, err)
	assert.Equal(t, "inside", content)

	_, _, err = r.Read("../secret.txt")
	assert.Error(t, err)
}

func TestFileReaderTool(t *testing.T) {
	r := memReader(t, map[string]string{"/a.txt": "alpha"}, 0)

	result, err := r.Tool().Handler(context.Background(), map[string]any{"file_name": "a.txt"})

	require.NoError(t, err)
	assert.Equal(t, "alpha", result["content"])
	assert.Equal(t, false, result["truncated"])
}
