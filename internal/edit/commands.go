package edit

import (
	"strings"

	"automation-gateway/api"
	"automation-gateway/internal/apperr"
)

// Command is one decoded edit operation. The set of implementations is closed.
type Command interface {
	Target() string
	isCommand()
}

type View struct {
	Path  string
	Range *LineRange
}

// LineRange is 1-indexed and inclusive; End == -1 means through the last line.
type LineRange struct {
	Start, End int
}

type Create struct {
	Path string
	Text string
}

type StrReplace struct {
	Path string
	Old  string
	New  string
}

type Insert struct {
	Path string
	Text string
	Line int
}

type UndoEdit struct {
	Path string
}

func (c View) Target() string       { return c.Path }
func (c Create) Target() string     { return c.Path }
func (c StrReplace) Target() string { return c.Path }
func (c Insert) Target() string     { return c.Path }
func (c UndoEdit) Target() string   { return c.Path }

func (View) isCommand()       {}
func (Create) isCommand()     {}
func (StrReplace) isCommand() {}
func (Insert) isCommand()     {}
func (UndoEdit) isCommand()   {}

// Decode turns a wire request into a Command, checking the companion fields
// each command requires.
func Decode(req api.EditRequest) (Command, error) {
	path := req.Path
	needPath := func() error {
		if strings.TrimSpace(path) == "" {
			return apperr.Validation("path is required for %s action", req.Command)
		}
		return nil
	}
	switch req.Command {
	case "view":
		if err := needPath(); err != nil {
			return nil, err
		}
		cmd := View{Path: path}
		if req.ViewRange != nil {
			if len(req.ViewRange) != 2 {
				return nil, apperr.Validation("view_range should contain exactly 2 integers")
			}
			cmd.Range = &LineRange{Start: req.ViewRange[0], End: req.ViewRange[1]}
		}
		return cmd, nil
	case "create":
		if err := needPath(); err != nil {
			return nil, err
		}
		if req.FileText == nil {
			return nil, apperr.Validation("file_text is required for create action")
		}
		return Create{Path: path, Text: *req.FileText}, nil
	case "str_replace":
		if err := needPath(); err != nil {
			return nil, err
		}
		if req.OldStr == nil || req.NewStr == nil {
			return nil, apperr.Validation("old_str and new_str are required for str_replace action")
		}
		if *req.OldStr == "" {
			return nil, apperr.Validation("old_str must not be empty")
		}
		return StrReplace{Path: path, Old: *req.OldStr, New: *req.NewStr}, nil
	case "insert":
		if err := needPath(); err != nil {
			return nil, err
		}
		if req.FileText == nil || req.InsertLine == nil {
			return nil, apperr.Validation("file_text and insert_line are required for insert action")
		}
		if *req.InsertLine < 0 {
			return nil, apperr.Validation("insert_line %d must not be negative", *req.InsertLine)
		}
		return Insert{Path: path, Text: *req.FileText, Line: *req.InsertLine}, nil
	case "undo_edit":
		if err := needPath(); err != nil {
			return nil, err
		}
		return UndoEdit{Path: path}, nil
	default:
		return nil, apperr.Validation("Unsupported edit command: %q", req.Command)
	}
}
