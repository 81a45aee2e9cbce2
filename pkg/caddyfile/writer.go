package caddyfile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/logging"
)

const indent = "\t"

// Writer serializes a Document back to Caddyfile text.
type Writer struct {
	logger logging.Logger
}

// NewWriter creates a Caddyfile writer.
func NewWriter(logger logging.Logger) *Writer {
	return &Writer{logger: logger}
}

// Serialize emits the global options block first (only when options exist),
// then every named block in document order. Content lines are indented, with
// nested sub-blocks indented one level further per brace depth, and a single
// blank line separates sections. Blocks that were not modified round-trip to
// structurally identical text.
func (w *Writer) Serialize(doc *Document) string {
	var sections []string

	if len(doc.GlobalOptions) > 0 {
		sections = append(sections, renderBlock("", doc.GlobalOptions))
	}

	for _, name := range doc.BlockNames() {
		lines, _ := doc.Block(name)
		sections = append(sections, renderBlock(name, lines))
	}

	// Sections each end with a newline already; joining with one more
	// produces the single blank separator line.
	return strings.Join(sections, "\n")
}

// Save atomically replaces the file at path with the serialized document:
// the text is written to a temporary file in the same directory and renamed
// into place, so a crash mid-write never leaves a truncated Caddyfile.
func (w *Writer) Save(doc *Document, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewIOError("failed to create configuration directory", err).WithContext("path", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".caddyfile-*")
	if err != nil {
		return errors.NewIOError("failed to create temporary configuration file", err).WithContext("path", path)
	}
	tmpPath := tmp.Name()

	text := w.Serialize(doc)
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOError("failed to write configuration", err).WithContext("path", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to flush configuration", err).WithContext("path", tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to replace configuration file", err).WithContext("path", path)
	}

	w.logger.Infof("Caddyfile saved, path: %s, blocks: %d", path, doc.BlockCount())
	return nil
}

// renderBlock emits one block. An empty name produces the unnamed global
// options block.
func renderBlock(name string, lines []string) string {
	var b strings.Builder

	if name == "" {
		b.WriteString("{\n")
	} else {
		b.WriteString(name)
		b.WriteString(" {\n")
	}

	// Content lines carry their own nested braces; track depth so nested
	// sub-blocks indent naturally.
	depth := 1
	for _, line := range lines {
		kind := classifyLine(line)
		if kind == lineClose && depth > 1 {
			depth--
		}
		b.WriteString(strings.Repeat(indent, depth))
		b.WriteString(line)
		b.WriteString("\n")
		if kind == lineOpen || kind == lineBlockHead {
			depth++
		}
	}

	b.WriteString("}\n")
	return b.String()
}
