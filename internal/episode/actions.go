package episode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/spachava753/simeval/internal/models"
)

// actionQueue turns action chunks into the FIFO of commands sent to the
// simulator. It tracks the finger state in the model's gripper convention.
type actionQueue struct {
	mode        models.ActionMode
	gripSteps   int
	invert      bool
	fingerState float64
	pending     [][]float64
}

func newActionQueue(cfg models.EpisodeConfig) *actionQueue {
	return &actionQueue{
		mode:        cfg.ActionMode,
		gripSteps:   cfg.GripTransitionSteps,
		invert:      cfg.InvertGripper,
		fingerState: modelGripper(models.GripperOpen, cfg.InvertGripper),
	}
}

// modelGripper converts a simulator gripper value to the model convention.
// The conversion is its own inverse.
func modelGripper(g float64, invert bool) float64 {
	if invert {
		return -g
	}
	return g
}

func (q *actionQueue) empty() bool {
	return len(q.pending) == 0
}

func (q *actionQueue) len() int {
	return len(q.pending)
}

// push expands chunk relative to currentPose, the newest proprio pose.
// In delta mode each action is applied on top of the previous one. A
// gripper change is split into one arm-only action followed by gripSteps
// grip actions; a zero gripper value means no change.
func (q *actionQueue) push(chunk models.ActionChunk, currentPose []float64) error {
	if len(chunk.Actions) == 0 {
		return errors.New("action chunk is empty")
	}
	if len(currentPose) < 6 {
		return fmt.Errorf("current pose has %d values, want 6", len(currentPose))
	}
	pose := append([]float64(nil), currentPose[:6]...)
	last := q.fingerState

	for i, raw := range chunk.Actions {
		if len(raw) != models.PoseWidth {
			return fmt.Errorf("action %d has %d values, want %d", i, len(raw), models.PoseWidth)
		}

		action := append([]float64(nil), raw...)
		if q.mode == models.ActionDelta {
			action = deltaToAbs(raw, pose)
		}
		copy(pose, action[:6])

		g := action[6]
		if g == 0 || g == last {
			q.pending = append(q.pending, action)
		} else {
			arm := append([]float64(nil), action...)
			arm[6] = 0
			q.pending = append(q.pending, arm)
			for range q.gripSteps {
				q.pending = append(q.pending, append([]float64(nil), action...))
			}
			q.fingerState = g
		}
		if g != 0 {
			last = g
		}
	}
	return nil
}

// pop returns the next command in the simulator's gripper convention.
func (q *actionQueue) pop() models.ActionCommand {
	action := q.pending[0]
	q.pending = q.pending[1:]
	if q.invert {
		action[6] = -action[6]
	}
	return models.ActionCommand{Pose: action}
}

// deltaToAbs applies a delta pose to the current absolute pose. Rotations
// are static-frame xyz Euler angles; the delta rotation is applied on the
// left.
func deltaToAbs(delta, current []float64) []float64 {
	var next mat.Dense
	next.Mul(eulerToMat(delta[3:6]), eulerToMat(current[3:6]))
	rx, ry, rz := matToEuler(&next)

	return []float64{
		current[0] + delta[0],
		current[1] + delta[1],
		current[2] + delta[2],
		rx, ry, rz,
		delta[6],
	}
}

// eulerToMat builds Rz(c) * Ry(b) * Rx(a) for angles (a, b, c).
func eulerToMat(e []float64) *mat.Dense {
	sa, ca := math.Sincos(e[0])
	sb, cb := math.Sincos(e[1])
	sc, cc := math.Sincos(e[2])

	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, ca, -sa,
		0, sa, ca,
	})
	ry := mat.NewDense(3, 3, []float64{
		cb, 0, sb,
		0, 1, 0,
		-sb, 0, cb,
	})
	rz := mat.NewDense(3, 3, []float64{
		cc, -sc, 0,
		sc, cc, 0,
		0, 0, 1,
	})

	var zy, zyx mat.Dense
	zy.Mul(rz, ry)
	zyx.Mul(&zy, rx)
	return &zyx
}

const gimbalEpsilon = 1e-12

func matToEuler(m mat.Matrix) (a, b, c float64) {
	cy := math.Hypot(m.At(0, 0), m.At(1, 0))
	if cy > gimbalEpsilon {
		a = math.Atan2(m.At(2, 1), m.At(2, 2))
		b = math.Atan2(-m.At(2, 0), cy)
		c = math.Atan2(m.At(1, 0), m.At(0, 0))
		return a, b, c
	}
	a = math.Atan2(-m.At(1, 2), m.At(1, 1))
	b = math.Atan2(-m.At(2, 0), cy)
	return a, b, 0
}
