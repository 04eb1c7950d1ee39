package modelserver

import (
	"context"
	"errors"
	"math"

	"github.com/spachava753/simeval/internal/models"
)

// ScriptedPolicy is a privileged policy that reads the target position from
// the observation state and scripts an approach, grasp and lift. It answers
// in absolute pose mode with the simulator's gripper convention.
type ScriptedPolicy struct {
	HoverHeight float64
	LiftHeight  float64
	Tolerance   float64
	ChunkSize   int
}

// NewScriptedPolicy returns a policy tuned for the kinematic scene.
func NewScriptedPolicy() *ScriptedPolicy {
	return &ScriptedPolicy{
		HoverHeight: 0.1,
		LiftHeight:  0.2,
		Tolerance:   0.005,
		ChunkSize:   2,
	}
}

func (p *ScriptedPolicy) Act(ctx context.Context, req Request) (models.ActionChunk, error) {
	if req.Observation == nil {
		return models.ActionChunk{}, errors.New("request has no observation")
	}
	obs := req.Observation

	target := obs.State[models.StateTargetPosition]
	if len(target) < 3 {
		return models.ActionChunk{}, errors.New("observation has no target_position state")
	}
	if len(obs.Proprio) < models.PoseWidth {
		return models.ActionChunk{}, errors.New("observation proprio is too short")
	}

	x, y, z := obs.Proprio[0], obs.Proprio[1], obs.Proprio[2]
	gripper := obs.Proprio[models.PoseWidth-1]

	waypoint := [3]float64{target[0], target[1], target[2]}
	grip := models.GripperOpen
	var phase string

	switch {
	case gripper > 0:
		phase = "lift"
		waypoint = [3]float64{x, y, p.LiftHeight}
		grip = models.GripperClose
	case math.Hypot(x-target[0], y-target[1]) > p.Tolerance:
		phase = "approach"
		waypoint[2] = target[2] + p.HoverHeight
	case z-target[2] > p.Tolerance:
		phase = "descend"
	default:
		phase = "grasp"
		grip = models.GripperClose
	}

	action := make([]float64, 0, models.PoseWidth)
	action = append(action, waypoint[:]...)
	action = append(action, obs.Proprio[3:6]...)
	action = append(action, grip)

	chunk := models.ActionChunk{Debug: map[string]any{"phase": phase}}
	for range max(p.ChunkSize, 1) {
		chunk.Actions = append(chunk.Actions, action)
	}
	return chunk, nil
}
