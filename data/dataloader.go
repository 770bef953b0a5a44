package data

import (
	"fmt"
	"math/rand"
	"sync"
)

// Sample is a single element of an in-memory dataset.
type Sample struct {
	Input []float32
	Label int
	CamID int
}

// MemoryDataset holds samples of a uniform shape in memory.
type MemoryDataset struct {
	Samples []Sample
	Shape   []int
}

// Len returns the number of samples.
func (d *MemoryDataset) Len() int { return len(d.Samples) }

// SliceLoader batches a MemoryDataset with optional shuffling.
type SliceLoader struct {
	dataset   *MemoryDataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand

	mu       sync.Mutex
	indices  []int
	position int
}

// NewSliceLoader creates a Loader over dataset. A non-zero seed makes the
// shuffle order reproducible.
func NewSliceLoader(dataset *MemoryDataset, batchSize int, shuffle bool, seed int64) *SliceLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &SliceLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}
}

// Len returns the number of batches per epoch.
func (l *SliceLoader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Reset rewinds the loader and reshuffles when shuffling is enabled.
func (l *SliceLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.position = 0
	if l.shuffle {
		for i := len(l.indices) - 1; i > 0; i-- {
			j := l.rng.Intn(i + 1)
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		}
	}
}

// Next returns the next batch, or (nil, nil) when the epoch is complete.
func (l *SliceLoader) Next() (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position >= len(l.indices) {
		return nil, nil
	}

	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	picked := l.indices[l.position:end]
	l.position = end

	batch := &Batch{
		Inputs: make([][]float32, 0, len(picked)),
		Shape:  l.dataset.Shape,
		Labels: make([]int, 0, len(picked)),
		CamIDs: make([]int, 0, len(picked)),
	}
	for _, idx := range picked {
		s := l.dataset.Samples[idx]
		batch.Inputs = append(batch.Inputs, s.Input)
		batch.Labels = append(batch.Labels, s.Label)
		batch.CamIDs = append(batch.CamIDs, s.CamID)
	}
	return batch, nil
}

// SlicePairLoader batches an in-memory verification pair set.
type SlicePairLoader struct {
	left      []Sample
	right     []Sample
	same      []bool
	shape     []int
	batchSize int

	mu       sync.Mutex
	position int
}

// NewSlicePairLoader creates a PairLoader over aligned left/right samples.
func NewSlicePairLoader(left, right []Sample, same []bool, shape []int, batchSize int) (*SlicePairLoader, error) {
	if len(left) != len(right) || len(left) != len(same) {
		return nil, fmt.Errorf("pair set length mismatch: %d left, %d right, %d flags",
			len(left), len(right), len(same))
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &SlicePairLoader{
		left:      left,
		right:     right,
		same:      same,
		shape:     shape,
		batchSize: batchSize,
	}, nil
}

func (l *SlicePairLoader) Len() int {
	return (len(l.same) + l.batchSize - 1) / l.batchSize
}

func (l *SlicePairLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.position = 0
}

func (l *SlicePairLoader) Next() (*PairBatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position >= len(l.same) {
		return nil, nil
	}
	end := l.position + l.batchSize
	if end > len(l.same) {
		end = len(l.same)
	}
	start := l.position
	l.position = end

	out := &PairBatch{
		Left:  &Batch{Shape: l.shape},
		Right: &Batch{Shape: l.shape},
	}
	for i := start; i < end; i++ {
		out.Left.Inputs = append(out.Left.Inputs, l.left[i].Input)
		out.Left.Labels = append(out.Left.Labels, l.left[i].Label)
		out.Left.CamIDs = append(out.Left.CamIDs, l.left[i].CamID)
		out.Right.Inputs = append(out.Right.Inputs, l.right[i].Input)
		out.Right.Labels = append(out.Right.Labels, l.right[i].Label)
		out.Right.CamIDs = append(out.Right.CamIDs, l.right[i].CamID)
		out.Same = append(out.Same, l.same[i])
	}
	return out, nil
}
