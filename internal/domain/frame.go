package domain

import "fmt"

// FrameType discriminates the typed frames a generation stream emits.
type FrameType string

const (
	FramePassport FrameType = "passport"
	FrameChunk    FrameType = "chunk"
	FrameDone     FrameType = "done"
	FrameError    FrameType = "error"
)

// ErrorKindBackendFailure is the only failure kind surfaced mid-stream.
// Internal detail (timeouts, upstream status codes) stays in logs.
const ErrorKindBackendFailure = "backend_failure"

// Frame is one protocol message of a generation stream. Every frame is
// `{"type": ..., "data": ...}` on the wire; Data is absent on a done frame
// when the backend reported no usage.
type Frame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// PassportFrameData is the admission summary sent before any content.
// Usage is rendered "count/limit" so clients can show quota at a glance
// without two fields.
type PassportFrameData struct {
	PassportID string         `json:"passportId"`
	Tier       Tier           `json:"tier"`
	Usage      string         `json:"usage"`
	Status     PassportStatus `json:"status"`
}

// DoneFrameData carries the backend-reported token total, when present.
type DoneFrameData struct {
	TokensUsed int64 `json:"tokensUsed"`
}

// ErrorFrameData is the in-stream failure report: a coarse kind and a
// generic message, never upstream diagnostics.
type ErrorFrameData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewPassportFrame summarizes an admission for the stream preamble.
func NewPassportFrame(adm Admission) Frame {
	return Frame{
		Type: FramePassport,
		Data: PassportFrameData{
			PassportID: adm.PassportID,
			Tier:       adm.Tier,
			Usage:      fmt.Sprintf("%d/%d", adm.UsageCount, adm.UsageLimit),
			Status:     adm.Status,
		},
	}
}

// NewChunkFrame wraps one completion fragment.
func NewChunkFrame(content string) Frame {
	return Frame{Type: FrameChunk, Data: content}
}

// NewDoneFrame closes a successful stream. tokensUsed may be nil when the
// backend did not report usage; the frame is then a bare `{"type":"done"}`.
func NewDoneFrame(tokensUsed *int64) Frame {
	f := Frame{Type: FrameDone}
	if tokensUsed != nil {
		f.Data = DoneFrameData{TokensUsed: *tokensUsed}
	}
	return f
}

// NewErrorFrame closes a failed stream with a coarse kind and generic message.
func NewErrorFrame(kind, message string) Frame {
	return Frame{Type: FrameError, Data: ErrorFrameData{Kind: kind, Message: message}}
}
