package models

import (
	"io/fs"
	"strings"
)

// TaskConfig represents the parsed task.toml configuration.
type TaskConfig struct {
	ID             string         `toml:"id"`
	Version        string         `toml:"version"`
	MaxSteps       int            `toml:"max_steps"`       // default: 300
	StabilizeSteps int            `toml:"stabilize_steps"` // default: 10
	ObjectNum      int            `toml:"object_num"`      // 0 = run-level objects_per_trial
	Objects        []string       `toml:"objects,omitempty"`
	Target         string         `toml:"target,omitempty"`
	Metadata       map[string]any `toml:"metadata,omitempty"`
}

// Task represents a fully loaded task ready for scheduling.
type Task struct {
	Suite       string
	Name        string
	Path        string // filesystem path to task directory
	FS          fs.FS  // filesystem rooted at task directory
	Config      TaskConfig
	Instruction string // template; "{target}" is replaced by the target's display name
}

// ID returns the task identifier, qualified by its suite.
func (t Task) ID() string {
	id := t.Config.ID
	if id == "" {
		id = t.Name
	}
	if t.Suite == "" {
		return id
	}
	return t.Suite + "/" + id
}

// RenderInstruction fills the instruction template for a target object.
func (t Task) RenderInstruction(target string) string {
	instr := strings.TrimSpace(t.Instruction)
	if instr == "" {
		instr = "pick up {target}"
	}
	return strings.ReplaceAll(instr, "{target}", DisplayName(target))
}

// DisplayName turns an object identifier into words.
func DisplayName(objectID string) string {
	return strings.ReplaceAll(objectID, "_", " ")
}

// Object is a candidate scene object.
type Object struct {
	ID   string `toml:"id"`
	Name string `toml:"name,omitempty"`
}

// ObjectPool is the parsed objects.toml: candidate objects and textures.
type ObjectPool struct {
	Objects     []Object `toml:"object"`
	FloorStyles []string `toml:"floor_styles"`
	WallStyles  []string `toml:"wall_styles"`
}

// IDs returns the object identifiers in pool order.
func (p ObjectPool) IDs() []string {
	ids := make([]string, len(p.Objects))
	for i, o := range p.Objects {
		ids[i] = o.ID
	}
	return ids
}

// Has reports whether the pool contains id.
func (p ObjectPool) Has(id string) bool {
	for _, o := range p.Objects {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Suite is a loaded benchmark: its tasks and the object pool they draw from.
type Suite struct {
	Name  string
	Path  string
	Tasks []Task
	Pool  ObjectPool
}
