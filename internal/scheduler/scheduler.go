// Package scheduler enumerates the trials of a run: every task crossed with
// every seed, each with a seeded object sample, target and scene textures.
package scheduler

import (
	"fmt"
	"hash/fnv"
	"iter"
	"math/rand/v2"
	"slices"

	"github.com/spachava753/simeval/internal/models"
)

// Config describes what to schedule.
type Config struct {
	Tasks []models.Task
	Seeds []int64
	// ObjectsPerTrial is the sample size for tasks without their own
	// object_num or fixed object list.
	ObjectsPerTrial int
	// Pool is used for tasks whose suite has no entry in Pools.
	Pool  models.ObjectPool
	Pools map[string]models.ObjectPool
}

// ConfigFromSuites schedules every task of suites with its suite's pool.
func ConfigFromSuites(suites []models.Suite, seeds []int64, objectsPerTrial int) Config {
	cfg := Config{
		Seeds:           seeds,
		ObjectsPerTrial: objectsPerTrial,
		Pools:           make(map[string]models.ObjectPool, len(suites)),
	}
	for _, s := range suites {
		cfg.Tasks = append(cfg.Tasks, s.Tasks...)
		cfg.Pools[s.Name] = s.Pool
	}
	return cfg
}

// Scheduler produces TrialSpecs. It holds no iteration state, so Trials can
// be ranged over any number of times with identical results.
type Scheduler struct {
	cfg Config
}

// New validates cfg. All errors are configuration errors.
func New(cfg Config) (*Scheduler, error) {
	const op = "scheduling trials"

	if len(cfg.Tasks) == 0 {
		return nil, models.Errorf(models.ErrConfiguration, op, "no tasks to schedule")
	}
	if len(cfg.Seeds) == 0 {
		return nil, models.Errorf(models.ErrConfiguration, op, "no seeds to schedule")
	}
	seen := make(map[int64]bool, len(cfg.Seeds))
	for _, seed := range cfg.Seeds {
		if seen[seed] {
			return nil, models.Errorf(models.ErrConfiguration, op, "seed %d is listed twice", seed)
		}
		seen[seed] = true
	}

	s := &Scheduler{cfg: cfg}
	ids := make(map[string]bool, len(cfg.Tasks))
	for _, task := range cfg.Tasks {
		if ids[task.ID()] {
			return nil, models.Errorf(models.ErrConfiguration, op, "task %s is listed twice", task.ID())
		}
		ids[task.ID()] = true
		if err := s.check(task); err != nil {
			return nil, models.NewError(models.ErrConfiguration, op, fmt.Errorf("task %s: %w", task.ID(), err))
		}
	}
	return s, nil
}

func (s *Scheduler) check(task models.Task) error {
	pool := s.pool(task)
	if fixed := task.Config.Objects; len(fixed) > 0 {
		for _, id := range fixed {
			if !pool.Has(id) {
				return fmt.Errorf("object %q is not in the object pool", id)
			}
		}
		if task.Config.Target != "" && !slices.Contains(fixed, task.Config.Target) {
			return fmt.Errorf("target %q is not among the task objects", task.Config.Target)
		}
		return nil
	}

	n := s.objectCount(task)
	if n <= 0 {
		return fmt.Errorf("object count must be positive, got %d", n)
	}
	if n > len(pool.Objects) {
		return fmt.Errorf("needs %d objects but the pool has %d", n, len(pool.Objects))
	}
	if task.Config.Target != "" && !pool.Has(task.Config.Target) {
		return fmt.Errorf("target %q is not in the object pool", task.Config.Target)
	}
	return nil
}

func (s *Scheduler) pool(task models.Task) models.ObjectPool {
	if p, ok := s.cfg.Pools[task.Suite]; ok {
		return p
	}
	return s.cfg.Pool
}

func (s *Scheduler) objectCount(task models.Task) int {
	if task.Config.ObjectNum > 0 {
		return task.Config.ObjectNum
	}
	return s.cfg.ObjectsPerTrial
}

// Len returns the number of trials Trials yields.
func (s *Scheduler) Len() int {
	return len(s.cfg.Tasks) * len(s.cfg.Seeds)
}

// Trials yields specs task-major, seeds in configured order.
func (s *Scheduler) Trials() iter.Seq[models.TrialSpec] {
	return func(yield func(models.TrialSpec) bool) {
		for _, task := range s.cfg.Tasks {
			for _, seed := range s.cfg.Seeds {
				if !yield(s.spec(task, seed)) {
					return
				}
			}
		}
	}
}

// spec derives one trial. Object sampling and texture sampling use
// separate streams so adding textures to a pool leaves object samples
// unchanged.
func (s *Scheduler) spec(task models.Task, seed int64) models.TrialSpec {
	pool := s.pool(task)
	objRng := subsystemRand(seed, task.ID(), "objects")

	var objects []string
	if fixed := task.Config.Objects; len(fixed) > 0 {
		objects = append(objects, fixed...)
	} else {
		ids := pool.IDs()
		for _, i := range objRng.Perm(len(ids))[:s.objectCount(task)] {
			objects = append(objects, ids[i])
		}
	}

	target := task.Config.Target
	if target == "" {
		target = objects[objRng.IntN(len(objects))]
	}

	texRng := subsystemRand(seed, task.ID(), "textures")
	var floor, wall string
	if len(pool.FloorStyles) > 0 {
		floor = pool.FloorStyles[texRng.IntN(len(pool.FloorStyles))]
	}
	if len(pool.WallStyles) > 0 {
		wall = pool.WallStyles[texRng.IntN(len(pool.WallStyles))]
	}

	return models.TrialSpec{
		Suite:          task.Suite,
		TaskID:         task.ID(),
		Seed:           seed,
		Objects:        objects,
		Target:         target,
		Instruction:    task.RenderInstruction(target),
		FloorStyle:     floor,
		WallStyle:      wall,
		MaxSteps:       task.Config.MaxSteps,
		StabilizeSteps: task.Config.StabilizeSteps,
	}.WithID()
}

// subsystemRand returns a generator determined by seed, task and subsystem.
func subsystemRand(seed int64, taskID, subsystem string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(taskID + "/" + subsystem))
	return rand.New(rand.NewPCG(uint64(seed), h.Sum64()))
}
