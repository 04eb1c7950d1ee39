package simulator

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/spachava753/simeval/internal/models"
)

// Scene geometry, in meters. Objects are placed within reach of the arm.
const (
	tableXMin, tableXMax = 0.35, 0.7
	tableYMin, tableYMax = -0.2, 0.2
	minSeparation        = 0.06
	placementTries       = 100

	dropHeight       = 0.05 // objects spawn above the table and settle
	settleRate       = 0.01 // fall per step
	maxEEFStep       = 0.05 // end-effector travel per step
	graspRadius      = 0.03
	graspHeight      = 0.04
	liftHeight       = 0.1
	releaseTolerance = 0.02

	imageSize = 32
)

// Camera names rendered by the kinematic scene.
const (
	CameraFront = "front_view"
	CameraSide  = "side_view"
)

var homePose = [models.PoseWidth]float64{0.3, 0, 0.3, math.Pi, 0, 0, models.GripperOpen}

// KinematicProvider creates Kinematic instances.
type KinematicProvider struct{}

func (KinematicProvider) Name() string {
	return "kinematic"
}

func (KinematicProvider) NewInstance(ctx context.Context, workerID int) (Instance, error) {
	return NewKinematic(), nil
}

type sceneObject struct {
	id  string
	pos [3]float64
}

// Kinematic is a deterministic pick-up scene without rigid-body physics:
// the end effector moves toward commanded poses at bounded speed, a closing
// gripper attaches the nearest object in reach, and releasing a lifted
// object counts as a drop.
type Kinematic struct {
	ready      bool
	step       int
	eef        [6]float64
	gripper    float64
	objects    []sceneObject
	target     int
	held       int
	floorShade byte
	wallShade  byte
}

// NewKinematic returns an instance that must be Reset before stepping.
func NewKinematic() *Kinematic {
	return &Kinematic{held: -1}
}

func (k *Kinematic) Reset(ctx context.Context, spec models.TrialSpec) (models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, err
	}
	if len(spec.Objects) == 0 {
		return models.Observation{}, faultf("reset", "trial %s has no objects", spec.ID)
	}

	target := -1
	for i, id := range spec.Objects {
		if id == spec.Target {
			target = i
		}
	}
	if target < 0 {
		return models.Observation{}, faultf("reset", "target %q is not in the scene", spec.Target)
	}

	rng := rand.New(rand.NewPCG(uint64(spec.Seed), streamID("placement")))
	objects := make([]sceneObject, 0, len(spec.Objects))
	for _, id := range spec.Objects {
		pos, ok := place(rng, objects)
		if !ok {
			return models.Observation{}, faultf("reset", "failed to sample init state for %s", id)
		}
		objects = append(objects, sceneObject{id: id, pos: pos})
	}

	copy(k.eef[:], homePose[:6])
	k.gripper = homePose[6]
	k.objects = objects
	k.target = target
	k.held = -1
	k.step = 0
	k.floorShade = shade(spec.FloorStyle)
	k.wallShade = shade(spec.WallStyle)
	k.ready = true

	return k.observe(), nil
}

// place rejection-samples a table position at least minSeparation from
// every placed object.
func place(rng *rand.Rand, placed []sceneObject) ([3]float64, bool) {
	for range placementTries {
		pos := [3]float64{
			tableXMin + rng.Float64()*(tableXMax-tableXMin),
			tableYMin + rng.Float64()*(tableYMax-tableYMin),
			dropHeight,
		}
		free := true
		for _, o := range placed {
			if math.Hypot(pos[0]-o.pos[0], pos[1]-o.pos[1]) < minSeparation {
				free = false
				break
			}
		}
		if free {
			return pos, true
		}
	}
	return [3]float64{}, false
}

func (k *Kinematic) Step(ctx context.Context, action models.ActionCommand) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if !k.ready {
		return StepResult{}, faultf("step", "step before reset")
	}
	if len(action.Pose) != models.PoseWidth {
		return StepResult{}, faultf("step", "action has %d values, want %d", len(action.Pose), models.PoseWidth)
	}
	for i, v := range action.Pose {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return StepResult{}, faultf("step", "action[%d] is not finite", i)
		}
	}

	k.step++

	for i := range k.objects {
		if i != k.held && k.objects[i].pos[2] > 0 {
			k.objects[i].pos[2] = math.Max(0, k.objects[i].pos[2]-settleRate)
		}
	}

	var delta [3]float64
	var dist float64
	for i := range delta {
		delta[i] = action.Pose[i] - k.eef[i]
		dist += delta[i] * delta[i]
	}
	dist = math.Sqrt(dist)
	scale := 1.0
	if dist > maxEEFStep {
		scale = maxEEFStep / dist
	}
	for i := range delta {
		k.eef[i] += delta[i] * scale
	}
	k.eef[2] = math.Max(0, k.eef[2])
	copy(k.eef[3:6], action.Pose[3:6])

	dropped := false
	switch g := action.Gripper(); {
	case g > 0 && k.gripper <= 0:
		k.gripper = models.GripperClose
		k.held = k.graspCandidate()
	case g < 0 && k.gripper > 0:
		k.gripper = models.GripperOpen
		if k.held >= 0 && k.objects[k.held].pos[2] > releaseTolerance {
			dropped = true
		}
		k.held = -1
	}

	if k.held >= 0 {
		copy(k.objects[k.held].pos[:], k.eef[:3])
	}

	success := k.held == k.target && k.objects[k.target].pos[2] >= liftHeight

	return StepResult{
		Observation: k.observe(),
		Success:     success,
		Dropped:     dropped,
	}, nil
}

// graspCandidate returns the nearest object within grasp reach, or -1.
func (k *Kinematic) graspCandidate() int {
	best, bestDist := -1, math.Inf(1)
	for i, o := range k.objects {
		d := math.Hypot(o.pos[0]-k.eef[0], o.pos[1]-k.eef[1])
		if d <= graspRadius && math.Abs(o.pos[2]-k.eef[2]) <= graspHeight && d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func (k *Kinematic) observe() models.Observation {
	proprio := make([]float64, 0, models.PoseWidth)
	proprio = append(proprio, k.eef[:]...)
	proprio = append(proprio, k.gripper)

	tgt := k.objects[k.target].pos
	return models.Observation{
		Step:    k.step,
		Proprio: proprio,
		State: map[string][]float64{
			models.StateTargetPosition: {tgt[0], tgt[1], tgt[2]},
		},
		Images: map[string]models.Image{
			CameraFront: k.render(0, 1, k.floorShade),
			CameraSide:  k.render(0, 2, k.wallShade),
		},
	}
}

// render projects the scene onto two axes as a grayscale frame.
func (k *Kinematic) render(axisU, axisV int, background byte) models.Image {
	img := models.Image{Width: imageSize, Height: imageSize, Channels: 1}
	img.Pixels = make([]byte, imageSize*imageSize)
	for i := range img.Pixels {
		img.Pixels[i] = background
	}

	bounds := [3][2]float64{{0.2, 0.8}, {-0.3, 0.3}, {0, 0.4}}
	plot := func(p []float64, value byte) {
		u := int((p[axisU] - bounds[axisU][0]) / (bounds[axisU][1] - bounds[axisU][0]) * imageSize)
		v := int((p[axisV] - bounds[axisV][0]) / (bounds[axisV][1] - bounds[axisV][0]) * imageSize)
		if u < 0 || u >= imageSize || v < 0 || v >= imageSize {
			return
		}
		img.Pixels[(imageSize-1-v)*imageSize+u] = value
	}

	for i, o := range k.objects {
		value := byte(200)
		if i == k.target {
			value = 255
		}
		plot(o.pos[:], value)
	}
	plot(k.eef[:3], 100)
	return img
}

func (k *Kinematic) Close() error {
	k.ready = false
	return nil
}

// shade maps a texture style name onto a background gray level.
func shade(style string) byte {
	if style == "" {
		return 128
	}
	h := fnv.New32a()
	h.Write([]byte(style))
	return byte(40 + h.Sum32()%120)
}

func streamID(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
