package episode

// proprioHistory is a fixed-size rolling window of proprio vectors. Until
// it fills up, the window is padded with copies of the newest entry.
type proprioHistory struct {
	size    int
	entries [][]float64
}

func newProprioHistory(size int) *proprioHistory {
	return &proprioHistory{size: max(size, 1)}
}

func (h *proprioHistory) push(p []float64) {
	h.entries = append(h.entries, append([]float64(nil), p...))
	if len(h.entries) > h.size {
		h.entries = h.entries[len(h.entries)-h.size:]
	}
	for len(h.entries) < h.size {
		h.entries = append(h.entries, append([]float64(nil), p...))
	}
}

// newest returns the most recent entry, or nil before the first push.
func (h *proprioHistory) newest() []float64 {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1]
}

// snapshot returns a deep copy, oldest first.
func (h *proprioHistory) snapshot() [][]float64 {
	out := make([][]float64, len(h.entries))
	for i, e := range h.entries {
		out[i] = append([]float64(nil), e...)
	}
	return out
}
