// Package edit implements view/create/str_replace/insert/undo_edit on text
// files. Paths are used exactly as given; the gateway is expected to run in
// an already isolated environment. Edits to one path are not serialized, so
// concurrent writers race and can clobber each other's backup slot.
package edit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"automation-gateway/internal/apperr"
	"automation-gateway/internal/logging"
)

const DefaultBackupSuffix = ".bak"

type Editor struct {
	suffix string
	logger *slog.Logger
}

func NewEditor(backupSuffix string, logger *slog.Logger) *Editor {
	if backupSuffix == "" {
		backupSuffix = DefaultBackupSuffix
	}
	return &Editor{suffix: backupSuffix, logger: logging.OrDiscard(logger)}
}

// Apply executes cmd and returns the text to report back to the caller.
func (e *Editor) Apply(cmd Command) (string, error) {
	switch c := cmd.(type) {
	case View:
		return e.view(c)
	case Create:
		return e.create(c)
	case StrReplace:
		return e.strReplace(c)
	case Insert:
		return e.insert(c)
	case UndoEdit:
		return e.undo(c)
	default:
		panic(fmt.Sprintf("edit: unhandled command %T", cmd))
	}
}

func (e *Editor) view(c View) (string, error) {
	b, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.NotFound("File not found: %s", c.Path)
		}
		return "", apperr.Execution(err, "Failed to read file")
	}
	content := string(b)
	if c.Range == nil {
		return content, nil
	}
	lines := strings.Split(content, "\n")
	n := len(lines)
	start, end := c.Range.Start, c.Range.End
	if start < 1 || start > n {
		return "", apperr.Validation("Invalid view_range: first element %d should be within range [1, %d]", start, n)
	}
	if end == -1 {
		return strings.Join(lines[start-1:], "\n"), nil
	}
	if end > n {
		return "", apperr.Validation("Invalid view_range: second element %d should be smaller than number of lines %d", end, n)
	}
	if end < start {
		return "", apperr.Validation("Invalid view_range: second element %d should be larger or equal to first element %d", end, start)
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

func (e *Editor) create(c Create) (string, error) {
	if err := os.WriteFile(c.Path, []byte(c.Text), 0o644); err != nil {
		return "", apperr.Execution(err, "Failed to create file")
	}
	e.logger.Info("file created", "path", c.Path, "bytes", len(c.Text))
	return "File created successfully at: " + c.Path, nil
}

func (e *Editor) strReplace(c StrReplace) (string, error) {
	content, perm, err := readForEdit(c.Path)
	if err != nil {
		return "", err
	}
	count := strings.Count(content, c.Old)
	if err := slotFor(c.Path, e.suffix).save([]byte(content), perm); err != nil {
		return "", apperr.Execution(err, "Failed to create backup")
	}
	if err := os.WriteFile(c.Path, []byte(strings.ReplaceAll(content, c.Old, c.New)), perm); err != nil {
		return "", apperr.Execution(err, "Failed to write file")
	}
	e.logger.Info("file edited", "path", c.Path, "command", "str_replace", "occurrences", count)
	return "String replacement completed successfully", nil
}

func (e *Editor) insert(c Insert) (string, error) {
	content, perm, err := readForEdit(c.Path)
	if err != nil {
		return "", err
	}
	lines, trailingNewline := splitLines(content)
	if c.Line > len(lines) {
		return "", apperr.Validation("Line number %d is out of range (file has %d lines)", c.Line, len(lines))
	}
	if err := slotFor(c.Path, e.suffix).save([]byte(content), perm); err != nil {
		return "", apperr.Execution(err, "Failed to create backup")
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:c.Line]...)
	out = append(out, c.Text)
	out = append(out, lines[c.Line:]...)
	updated := strings.Join(out, "\n")
	if trailingNewline {
		updated += "\n"
	}
	if err := os.WriteFile(c.Path, []byte(updated), perm); err != nil {
		return "", apperr.Execution(err, "Failed to write file")
	}
	e.logger.Info("file edited", "path", c.Path, "command", "insert", "line", c.Line)
	return "Text inserted successfully", nil
}

func (e *Editor) undo(c UndoEdit) (string, error) {
	slot := slotFor(c.Path, e.suffix)
	if !slot.exists() {
		return "", apperr.Validation("No backup file found to undo")
	}
	if err := slot.restore(); err != nil {
		if errors.Is(err, errNoBackup) {
			return "", apperr.Validation("No backup file found to undo")
		}
		return "", apperr.Execution(err, "Failed to restore backup")
	}
	e.logger.Info("edit undone", "path", c.Path)
	return "Edit undone successfully", nil
}

func readForEdit(path string) (string, os.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, apperr.Execution(err, "Failed to read file")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", 0, apperr.Execution(err, "Failed to read file")
	}
	return string(b), info.Mode().Perm(), nil
}

// splitLines splits content into lines, reporting whether it ended in "\n".
// An empty file has no lines.
func splitLines(content string) ([]string, bool) {
	if content == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(content, "\n")
	if trailing {
		content = strings.TrimSuffix(content, "\n")
	}
	return strings.Split(content, "\n"), trailing
}
