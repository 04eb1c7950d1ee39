package task

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spachava753/simeval/internal/config"
	"github.com/spachava753/simeval/internal/models"
)

// Loader loads tasks from task directories.
type Loader struct{}

// NewLoader creates a new task loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadTask loads a single task from a filesystem path. suite qualifies the
// task's identifier.
func (l *Loader) LoadTask(ctx context.Context, suite, taskPath string) (*models.Task, error) {
	absPath, err := filepath.Abs(taskPath)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	fsys := os.DirFS(absPath)

	cfg, err := config.LoadTaskConfig(fsys)
	if err != nil {
		return nil, fmt.Errorf("loading task config: %w", err)
	}

	// instruction.md is optional; the default template is "pick up {target}".
	var instruction string
	data, err := fs.ReadFile(fsys, "instruction.md")
	switch {
	case err == nil:
		instruction = string(data)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading instruction: %w", err)
	}

	return &models.Task{
		Suite:       suite,
		Name:        filepath.Base(absPath),
		Path:        absPath,
		FS:          fsys,
		Config:      cfg,
		Instruction: instruction,
	}, nil
}

// ValidateTask checks a task against the object pool it will draw from.
func (l *Loader) ValidateTask(task *models.Task, pool models.ObjectPool) error {
	for _, id := range task.Config.Objects {
		if !pool.Has(id) {
			return fmt.Errorf("object %q not found in objects.toml", id)
		}
	}
	if task.Config.Target != "" && !pool.Has(task.Config.Target) {
		return fmt.Errorf("target %q not found in objects.toml", task.Config.Target)
	}
	if n := task.Config.ObjectNum; n > len(pool.Objects) {
		return fmt.Errorf("object_num %d exceeds pool size %d", n, len(pool.Objects))
	}
	return nil
}
