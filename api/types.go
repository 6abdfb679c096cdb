package api

// Envelope kinds.
const (
	KindSuccess = "success"
	KindError   = "error"
	KindBase64  = "base64"
)

// Media types carried by Envelope.MediaType.
const (
	MediaText = "text/plain"
	MediaPNG  = "image/png"
	MediaJSON = "application/json"
)

// Envelope is the uniform response shape of every endpoint.
type Envelope struct {
	Kind      string `json:"kind"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Text builds a plain-text envelope of the given kind.
func Text(kind, data string) Envelope {
	return Envelope{Kind: kind, MediaType: MediaText, Data: data}
}

type ActionRequest struct {
	Action     string  `json:"action"`
	Text       *string `json:"text,omitempty"`
	Coordinate []int   `json:"coordinate,omitempty"`
}

type EditRequest struct {
	Command    string  `json:"command"`
	Path       string  `json:"path"`
	FileText   *string `json:"file_text,omitempty"`
	ViewRange  []int   `json:"view_range,omitempty"`
	OldStr     *string `json:"old_str,omitempty"`
	NewStr     *string `json:"new_str,omitempty"`
	InsertLine *int    `json:"insert_line,omitempty"`
}

type BashRequest struct {
	Command *string `json:"command,omitempty"`
	Restart bool    `json:"restart,omitempty"`
}

// BashStatus describes the shell session as seen by GET /bash/status.
type BashStatus struct {
	Token     string `json:"token,omitempty"`
	State     string `json:"state"`
	Pid       int    `json:"pid,omitempty"`
	Shell     string `json:"shell"`
	Mode      string `json:"mode"`
	StartedAt string `json:"started_at,omitempty"`
	Commands  int    `json:"commands"`
}

// Event is pushed to /events subscribers.
type Event struct {
	Seq  uint64         `json:"seq"`
	Type string         `json:"type"`
	Time string         `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Event types.
const (
	EventReady          = "gateway.ready"
	EventSessionStarted = "bash.session.started"
	EventSessionStopped = "bash.session.stopped"
	EventSessionTimeout = "bash.session.timeout"
	EventSessionExited  = "bash.session.exited"
)

// HeaderExitCode carries the exit status of a /bash command.
const HeaderExitCode = "X-Exit-Code"
