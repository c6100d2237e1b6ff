package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// DefaultMaxFileBytes bounds how much of a file read_text_file returns.
const DefaultMaxFileBytes = 64 * 1024

// FileReader reads text files confined to a root directory.
type FileReader struct {
	fs       afero.Fs
	maxBytes int
}

// NewFileReader returns a reader over fs. Callers pass a base-path or
// read-only filesystem to confine access.
func NewFileReader(fs afero.Fs, maxBytes int) *FileReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &FileReader{fs: afero.NewReadOnlyFs(fs), maxBytes: maxBytes}
}

// Read returns the text of name and whether it was truncated.
func (r *FileReader) Read(name string) (string, bool, error) {
	clean := path.Clean("/" + strings.TrimSpace(name))
	if clean == "/" {
		return "", false, fmt.Errorf("file name is required")
	}

	f, err := r.fs.Open(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("file not found: %s", name)
		}
		return "", false, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%s is a directory", name)
	}

	buf := make([]byte, r.maxBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	truncated := n > r.maxBytes
	if truncated {
		n = r.maxBytes
	}
	data := buf[:n]
	if truncated {
		// Drop a rune split by the cut.
		for i := 0; i < utf8.UTFMax-1 && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	if !utf8.Valid(data) {
		return "", false, fmt.Errorf("%s is not a text file", name)
	}
	return string(data), truncated, nil
}

// Tool returns the read_text_file definition bound to r.
func (r *FileReader) Tool() *ToolDefinition {
	return &ToolDefinition{
		Name:        "read_text_file",
		Description: "Read the contents of a text file attached to the question.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_name": map[string]any{"type": "string", "description": "Name of the file to read"},
			},
			"required": []any{"file_name"},
		},
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			name, err := stringParam(params, "file_name")
			if err != nil {
				return nil, err
			}
			content, truncated, err := r.Read(name)
			if err != nil {
				return nil, err
			}
			return map[string]any{"content": content, "truncated": truncated}, nil
		},
	}
}
