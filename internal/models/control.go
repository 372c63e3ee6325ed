package models

// ControlSignalKind enumerates the operator control signals read from the
// filesystem between iterations.
type ControlSignalKind string

const (
	ControlNone     ControlSignalKind = "none"
	ControlStop     ControlSignalKind = "stop"
	ControlFeedback ControlSignalKind = "feedback"
)

// ControlSignal is derived fresh from the control files on every check and
// never cached across iterations.
type ControlSignal struct {
	Kind     ControlSignalKind `json:"kind"`
	Feedback string            `json:"feedback,omitempty"`
}
