package evolution

import (
	"sort"
	"sync"
)

// Archive is the bounded novelty archive. Appends are serialized so the
// data-parallel fitness loop can score concurrently.
type Archive struct {
	mu          sync.Mutex
	descriptors []BehaviorDescriptor
	maxSize     int
	maxDistance float64
	k           int
}

// NewArchive creates an archive with the given capacity and
// normalization scale
func NewArchive(maxSize int, maxDistance float64) *Archive {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if maxDistance <= 0 {
		maxDistance = 10.0
	}
	return &Archive{
		maxSize:     maxSize,
		maxDistance: maxDistance,
		k:           15,
	}
}

// Novelty scores a descriptor as the mean distance to its k nearest
// archive neighbors (k = min(15, archive size)), normalized by the
// archive's distance scale and clamped to [0, 1]. An empty archive
// scores everything maximally novel.
func (a *Archive) Novelty(d BehaviorDescriptor) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.descriptors) == 0 {
		return 1.0
	}

	distances := make([]float64, len(a.descriptors))
	for i, other := range a.descriptors {
		distances[i] = d.Distance(other)
	}
	sort.Float64s(distances)

	k := a.k
	if len(distances) < k {
		k = len(distances)
	}

	sum := 0.0
	for _, dist := range distances[:k] {
		sum += dist
	}
	novelty := (sum / float64(k)) / a.maxDistance
	if novelty > 1.0 {
		novelty = 1.0
	}
	return novelty
}

// Append records a descriptor, evicting the oldest entry past capacity
func (a *Archive) Append(d BehaviorDescriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.descriptors = append(a.descriptors, d)
	if len(a.descriptors) > a.maxSize {
		a.descriptors = a.descriptors[len(a.descriptors)-a.maxSize:]
	}
}

// Size returns the current entry count
func (a *Archive) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.descriptors)
}
