package suite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/simeval/internal/config"
	"github.com/spachava753/simeval/internal/models"
	"github.com/spachava753/simeval/internal/task"
)

// Loader loads benchmark suites from local directories. A suite directory
// holds objects.toml and one subdirectory per task.
type Loader struct {
	taskLoader *task.Loader
}

// NewLoader creates a new suite loader.
func NewLoader() *Loader {
	return &Loader{
		taskLoader: task.NewLoader(),
	}
}

// LoadFromPath loads the suite at suitePath. Tasks are returned in
// directory order; maxTasks > 0 keeps only the first maxTasks of them.
func (l *Loader) LoadFromPath(ctx context.Context, suitePath string, maxTasks int) (*models.Suite, error) {
	return l.load(ctx, "", suitePath, maxTasks)
}

// load is LoadFromPath with an optional name override.
func (l *Loader) load(ctx context.Context, name, suitePath string, maxTasks int) (*models.Suite, error) {
	absPath, err := filepath.Abs(suitePath)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if name == "" {
		name = filepath.Base(absPath)
	}

	pool, err := config.LoadObjectPool(os.DirFS(absPath))
	if err != nil {
		return nil, fmt.Errorf("loading object pool for suite %s: %w", name, err)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading suite directory: %w", err)
	}

	var taskDirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		taskDirs = append(taskDirs, entry.Name())
	}
	if maxTasks > 0 && len(taskDirs) > maxTasks {
		taskDirs = taskDirs[:maxTasks]
	}

	tasks := make([]models.Task, len(taskDirs))
	g, ctx := errgroup.WithContext(ctx)
	for i, dir := range taskDirs {
		g.Go(func() error {
			t, err := l.taskLoader.LoadTask(ctx, name, filepath.Join(absPath, dir))
			if err != nil {
				return fmt.Errorf("loading task %s: %w", dir, err)
			}
			if err := l.taskLoader.ValidateTask(t, pool); err != nil {
				return fmt.Errorf("validating task %s: %w", dir, err)
			}
			tasks[i] = *t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks found in suite %s", absPath)
	}

	// Task IDs key trial IDs, so two directories may not share one.
	dirs := make(map[string]string, len(tasks))
	for i, t := range tasks {
		if prev, ok := dirs[t.ID()]; ok {
			return nil, fmt.Errorf("tasks %s and %s share id %q", prev, taskDirs[i], t.ID())
		}
		dirs[t.ID()] = taskDirs[i]
	}

	return &models.Suite{
		Name:  name,
		Path:  absPath,
		Tasks: tasks,
		Pool:  pool,
	}, nil
}

// LoadAll loads every referenced suite, in order.
func (l *Loader) LoadAll(ctx context.Context, refs []models.BenchmarkRef) ([]models.Suite, error) {
	suites := make([]models.Suite, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		s, err := l.load(ctx, ref.Name, ref.Path, ref.MaxTasks)
		if err != nil {
			return nil, fmt.Errorf("loading suite from path %s: %w", ref.Path, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate suite name %q (from %s)", s.Name, ref.Path)
		}
		seen[s.Name] = true
		suites = append(suites, *s)
	}
	return suites, nil
}
