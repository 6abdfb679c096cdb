package desktop

import (
	"automation-gateway/api"
	"automation-gateway/internal/apperr"
)

// Action is one decoded GUI action. The set of implementations is closed.
type Action interface {
	Name() string
	isAction()
}

type Point struct {
	X, Y int
}

type Button int

const (
	ButtonLeft   Button = 1
	ButtonMiddle Button = 2
	ButtonRight  Button = 3
)

type Key struct {
	Keys string
}

type Type struct {
	Text string
}

type MouseMove struct {
	To Point
}

// Click presses Button Repeat times, first moving to At when it is set.
type Click struct {
	action string
	Button Button
	Repeat int
	At     *Point
}

// Drag presses button 1 where the pointer currently is, moves to To and
// releases. Callers position the pointer with a MouseMove first.
type Drag struct {
	To Point
}

type Screenshot struct{}

type CursorPosition struct{}

func (Key) Name() string            { return "key" }
func (Type) Name() string           { return "type" }
func (MouseMove) Name() string      { return "mouse_move" }
func (c Click) Name() string        { return c.action }
func (Drag) Name() string           { return "left_click_drag" }
func (Screenshot) Name() string     { return "screenshot" }
func (CursorPosition) Name() string { return "cursor_position" }

func (Key) isAction()            {}
func (Type) isAction()           {}
func (MouseMove) isAction()      {}
func (Click) isAction()          {}
func (Drag) isAction()           {}
func (Screenshot) isAction()     {}
func (CursorPosition) isAction() {}

// Decode validates req and turns it into an Action.
func Decode(req api.ActionRequest) (Action, error) {
	switch req.Action {
	case "key", "type":
		if req.Text == nil {
			return nil, apperr.Validation("text is required for %s action", req.Action)
		}
		if req.Action == "key" {
			return Key{Keys: *req.Text}, nil
		}
		return Type{Text: *req.Text}, nil
	case "mouse_move", "left_click_drag":
		if req.Coordinate == nil {
			return nil, apperr.Validation("coordinate is required for %s action", req.Action)
		}
		p, err := point(req.Coordinate)
		if err != nil {
			return nil, err
		}
		if req.Action == "mouse_move" {
			return MouseMove{To: p}, nil
		}
		return Drag{To: p}, nil
	case "left_click", "right_click", "middle_click", "double_click":
		c := Click{action: req.Action, Button: ButtonLeft, Repeat: 1}
		switch req.Action {
		case "right_click":
			c.Button = ButtonRight
		case "middle_click":
			c.Button = ButtonMiddle
		case "double_click":
			c.Repeat = 2
		}
		if req.Coordinate != nil {
			p, err := point(req.Coordinate)
			if err != nil {
				return nil, err
			}
			c.At = &p
		}
		return c, nil
	case "screenshot":
		return Screenshot{}, nil
	case "cursor_position":
		return CursorPosition{}, nil
	case "":
		return nil, apperr.Validation("action is required")
	default:
		return nil, apperr.Validation("Invalid action: %q", req.Action)
	}
}

func point(c []int) (Point, error) {
	if len(c) != 2 {
		return Point{}, apperr.Validation("Coordinate must contain exactly 2 values")
	}
	return Point{X: c[0], Y: c[1]}, nil
}
