package util

import (
	"fmt"
	"strconv"
	"strings"
)

// maxSeedRange bounds a single "a-b" range so a typo cannot allocate
// millions of seeds.
const maxSeedRange = 100_000

// ParseSeedList converts a seed expression (e.g., "0-9,15,20-22") to a list
// of seeds in the order written. Ranges are inclusive. If the string is
// empty, it returns nil.
func ParseSeedList(expr string) ([]int64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var seeds []int64
	seen := make(map[int64]bool)
	add := func(seed int64) error {
		if seen[seed] {
			return fmt.Errorf("seed %d is listed twice", seed)
		}
		seen[seed] = true
		seeds = append(seeds, seed)
		return nil
	}

	for part := range strings.SplitSeq(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("invalid seed list: %s", expr)
		}

		// A leading minus is a negative seed, not a range.
		lo, hi, isRange := strings.Cut(part[1:], "-")
		if !isRange {
			seed, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid seed: %s", part)
			}
			if err := add(seed); err != nil {
				return nil, err
			}
			continue
		}

		lo = part[:1] + lo
		start, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed range start: %s", part)
		}
		end, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed range end: %s", part)
		}
		if end < start {
			return nil, fmt.Errorf("seed range is reversed: %s", part)
		}
		if end-start >= maxSeedRange {
			return nil, fmt.Errorf("seed range %s is larger than %d seeds", part, maxSeedRange)
		}
		for seed := start; seed <= end; seed++ {
			if err := add(seed); err != nil {
				return nil, err
			}
		}
	}
	return seeds, nil
}
