// Package registry resolves benchmark references that live in git
// repositories, directly or through a registry.json index, into local
// suite directories.
package registry

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/simeval/internal/models"
)

// Resolver clones the repositories benchmark references point at.
type Resolver struct {
	baseDir string // Base directory for clones
	logger  *slog.Logger
}

// NewResolver creates a new Resolver. An empty baseDir means a new
// timestamped directory under os.TempDir().
func NewResolver(baseDir string, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), fmt.Sprintf("simeval-registry-%d", time.Now().Unix()))
	}
	logger.Debug("creating registry resolver base directory", "path", baseDir)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Resolver{
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

// BaseDir returns the base directory where repositories are cloned.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// NeedsResolve reports whether any reference points outside the local
// filesystem.
func NeedsResolve(refs []models.BenchmarkRef) bool {
	for _, ref := range refs {
		if ref.GitURL != "" || ref.Registry != "" {
			return true
		}
	}
	return false
}

// Resolve returns refs with every registry and git reference replaced by a
// local path. Local references pass through unchanged. Each distinct
// (git_url, git_commit_id) pair is cloned once.
func (r *Resolver) Resolve(ctx context.Context, refs []models.BenchmarkRef) ([]models.BenchmarkRef, error) {
	resolved, err := expandRegistries(ctx, refs)
	if err != nil {
		return nil, err
	}

	clones, err := r.cloneAll(ctx, resolved)
	if err != nil {
		return nil, err
	}

	for i, ref := range resolved {
		if ref.GitURL == "" {
			continue
		}
		resolved[i].Path = filepath.Join(clones[keyOf(ref)], ref.Path)
		resolved[i].GitURL = ""
		resolved[i].GitCommitID = ""
		r.logger.Debug("resolved benchmark", "name", ref.Name, "path", resolved[i].Path)
	}
	return resolved, nil
}

// expandRegistries copies refs, turning registry entries into git refs.
// Each registry file is read once.
func expandRegistries(ctx context.Context, refs []models.BenchmarkRef) ([]models.BenchmarkRef, error) {
	out := slices.Clone(refs)
	loaded := make(map[string][]RegistrySuite)
	for i, ref := range out {
		if ref.Registry == "" {
			continue
		}
		suites, ok := loaded[ref.Registry]
		if !ok {
			var err error
			if suites, err = Load(ctx, ref.Registry); err != nil {
				return nil, fmt.Errorf("loading registry %s: %w", ref.Registry, err)
			}
			loaded[ref.Registry] = suites
		}
		entry, err := FindSuite(suites, ref.Name, ref.Version)
		if err != nil {
			return nil, err
		}
		out[i].GitURL = entry.GitURL
		out[i].GitCommitID = entry.GitCommitID
		out[i].Path = entry.Path
		out[i].Registry = ""
	}
	return out, nil
}

// cloneAll clones every repository refs point at, in parallel, and returns
// the clone directory per key.
func (r *Resolver) cloneAll(ctx context.Context, refs []models.BenchmarkRef) (map[cloneKey]string, error) {
	var keys []cloneKey
	for _, ref := range refs {
		if ref.GitURL != "" && !slices.Contains(keys, keyOf(ref)) {
			keys = append(keys, keyOf(ref))
		}
	}
	r.logger.Debug("cloning benchmark repositories", "unique_repos", len(keys), "total_refs", len(refs))

	dirs := make([]string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			dir, err := r.cloneRepo(gctx, key)
			if err != nil {
				return fmt.Errorf("cloning %s: %w", key.GitURL, err)
			}
			dirs[i] = dir
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	clones := make(map[cloneKey]string, len(keys))
	for i, key := range keys {
		clones[key] = dirs[i]
	}
	return clones, nil
}

func keyOf(ref models.BenchmarkRef) cloneKey {
	return cloneKey{GitURL: ref.GitURL, GitCommitID: ref.GitCommitID}
}

// cloneRepo clones key into baseDir and returns the clone directory. An
// existing directory is reused. Unpinned repositories are cloned shallow;
// pinned ones need full history to check out the commit.
func (r *Resolver) cloneRepo(ctx context.Context, key cloneKey) (string, error) {
	dest := filepath.Join(r.baseDir, cloneDirName(key))
	if _, err := os.Stat(dest); err == nil {
		r.logger.Debug("reusing clone", "url", key.GitURL, "path", dest)
		return dest, nil
	}

	args := []string{"clone", "--quiet"}
	if key.GitCommitID == "" {
		args = append(args, "--depth", "1")
	}
	r.logger.Debug("cloning", "url", key.GitURL, "commit", key.GitCommitID, "dest", dest)
	if err := git(ctx, "", append(args, key.GitURL, dest)...); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("git clone: %w", err)
	}

	if key.GitCommitID != "" {
		if err := git(ctx, dest, "checkout", "--quiet", key.GitCommitID); err != nil {
			os.RemoveAll(dest)
			return "", fmt.Errorf("git checkout %s: %w", key.GitCommitID, err)
		}
	}
	return dest, nil
}

// git runs a git command. Its output goes to stderr so stdout stays free
// for reports.
func git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// cloneDirName names a clone <repo>-<url hash>-<commit prefix or HEAD>.
func cloneDirName(key cloneKey) string {
	sum := sha256.Sum256([]byte(key.GitURL))
	commit := "HEAD"
	if key.GitCommitID != "" {
		commit = key.GitCommitID[:min(12, len(key.GitCommitID))]
	}
	repo := filepath.Base(strings.TrimSuffix(key.GitURL, ".git"))
	return fmt.Sprintf("%s-%x-%s", repo, sum[:8], commit)
}
