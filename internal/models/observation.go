package models

// Image is a raw, row-major camera frame.
type Image struct {
	Width    int    `json:"width" cbor:"width"`
	Height   int    `json:"height" cbor:"height"`
	Channels int    `json:"channels" cbor:"channels"`
	Pixels   []byte `json:"-" cbor:"pixels"`
}

// Observation is the per-step snapshot a simulation instance produces.
// It is transient: the episode loop that produced it owns it for one step.
type Observation struct {
	Step    int                  `cbor:"step"`
	Images  map[string]Image     `cbor:"images,omitempty"`
	Proprio []float64            `cbor:"proprio"`
	State   map[string][]float64 `cbor:"state,omitempty"`
}

// StateTargetPosition is the privileged state key holding the target
// object's position. Scripted policies read it; learned ones should not.
const StateTargetPosition = "target_position"

// PoseWidth is the length of a pose vector: x y z rx ry rz gripper.
const PoseWidth = 7

// Gripper command values as the simulator interprets them.
const (
	GripperOpen  = -1.0
	GripperClose = 1.0
)

// ActionCommand is one control output applied to the simulator.
type ActionCommand struct {
	Pose []float64 `cbor:"pose"`
}

// Gripper returns the gripper component of the pose.
func (a ActionCommand) Gripper() float64 {
	if len(a.Pose) < PoseWidth {
		return 0
	}
	return a.Pose[PoseWidth-1]
}

// ActionChunk is what the model server returns for one observation: a
// sequence of poses to execute before the next query.
type ActionChunk struct {
	Actions [][]float64    `cbor:"actions"`
	Debug   map[string]any `cbor:"debug,omitempty"`
}
