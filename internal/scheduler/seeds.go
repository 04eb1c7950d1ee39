package scheduler

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spachava753/simeval/internal/models"
)

// SeedListFile is the name of the resolved seed list written to a run
// directory. It can be fed back through seeds.file to replay a run.
const SeedListFile = "seed_list.json"

// maxRandomSeed bounds generated seeds.
const maxRandomSeed = 10_000_000

// ResolveSeeds turns the seeds section into a concrete list. Relative
// files are resolved against baseDir.
func ResolveSeeds(cfg models.SeedConfig, baseDir string) ([]int64, error) {
	const op = "resolving seeds"

	switch {
	case cfg.File != "":
		path := cfg.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		seeds, err := LoadSeedList(path)
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, op, err)
		}
		if len(seeds) == 0 {
			return nil, models.Errorf(models.ErrConfiguration, op, "seed file %s is empty", path)
		}
		return seeds, nil
	case len(cfg.List) > 0:
		return append([]int64(nil), cfg.List...), nil
	case cfg.Random:
		if cfg.Count > maxRandomSeed {
			return nil, models.Errorf(models.ErrConfiguration, op, "cannot draw %d distinct seeds", cfg.Count)
		}
		rng := rand.New(rand.NewPCG(uint64(cfg.MasterSeed), 0x5eed))
		seen := make(map[int64]bool, cfg.Count)
		seeds := make([]int64, 0, cfg.Count)
		for len(seeds) < cfg.Count {
			seed := rng.Int64N(maxRandomSeed)
			if seen[seed] {
				continue
			}
			seen[seed] = true
			seeds = append(seeds, seed)
		}
		return seeds, nil
	default:
		seeds := make([]int64, cfg.Count)
		for i := range seeds {
			seeds[i] = cfg.Start + int64(i)
		}
		return seeds, nil
	}
}

// LoadSeedList reads a JSON array of seeds.
func LoadSeedList(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed list: %w", err)
	}
	var seeds []int64
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parsing seed list %s: %w", path, err)
	}
	return seeds, nil
}

// SaveSeedList writes seeds as a JSON array.
func SaveSeedList(path string, seeds []int64) error {
	data, err := json.Marshal(seeds)
	if err != nil {
		return fmt.Errorf("encoding seed list: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing seed list: %w", err)
	}
	return nil
}
