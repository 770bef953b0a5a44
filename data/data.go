package data

import (
	"fmt"
)

// Batch is one pull from a Loader: a group of flattened samples plus their
// identity and camera labels. All samples in a batch share the same Shape.
type Batch struct {
	Inputs [][]float32 // one flattened sample per row
	Shape  []int       // per-sample shape, e.g. [3, 256, 128] for CHW images
	Labels []int       // identity (or class) index per sample
	CamIDs []int       // camera index per sample; zero for non-retrieval data
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Inputs)
}

// FlipHorizontal returns a copy of the batch with the last (width) axis of
// every sample reversed. Labels and camera IDs are shared with the receiver.
func (b *Batch) FlipHorizontal() *Batch {
	width := b.Shape[len(b.Shape)-1]
	flipped := make([][]float32, len(b.Inputs))
	for i, sample := range b.Inputs {
		out := make([]float32, len(sample))
		for row := 0; row < len(sample)/width; row++ {
			base := row * width
			for col := 0; col < width; col++ {
				out[base+col] = sample[base+width-1-col]
			}
		}
		flipped[i] = out
	}
	return &Batch{
		Inputs: flipped,
		Shape:  b.Shape,
		Labels: b.Labels,
		CamIDs: b.CamIDs,
	}
}

// Loader is a blocking pull-based batch source. Next returns (nil, nil) when
// the current epoch is exhausted; Reset prepares the loader for a new epoch.
type Loader interface {
	Next() (*Batch, error)
	Len() int // number of batches per epoch
	Reset()
}

// PairBatch is one pull from a PairLoader: aligned left/right samples plus
// the same-identity flag per pair.
type PairBatch struct {
	Left  *Batch
	Right *Batch
	Same  []bool
}

// PairLoader is the pull-based source for verification pair sets.
type PairLoader interface {
	Next() (*PairBatch, error)
	Len() int
	Reset()
}

// Kind tells the evaluation dispatcher how a test dataset is structured.
type Kind int

const (
	// KindRetrieval datasets expose query and gallery loaders.
	KindRetrieval Kind = iota
	// KindPairwise datasets expose a fixed verification pair set.
	KindPairwise
)

// TestSplit bundles the loaders of one test dataset. Retrieval datasets carry
// Query and Gallery; pairwise datasets carry Pairs. Classes maps the dataset's
// class names to its own label indices and may be nil.
type TestSplit struct {
	Kind    Kind
	Query   Loader
	Gallery Loader
	Pairs   PairLoader
	Classes map[string]int
}

// Manager is the external data collaborator: it owns dataset loading,
// augmentation and any prefetch workers, and exposes only blocking loaders.
type Manager interface {
	TrainLoader() Loader
	TestDatasets() []string
	TestSplit(name string) (*TestSplit, error)
	IsSource(name string) bool
	NumTrainClasses() int
	ClassMap() map[string]int
}

// MemoryManager is an in-memory Manager used by examples and tests.
type MemoryManager struct {
	train      Loader
	order      []string
	splits     map[string]*TestSplit
	sources    map[string]bool
	numClasses int
	classMap   map[string]int
}

// NewMemoryManager creates a Manager over pre-built loaders. Test datasets are
// reported in the order they are added.
func NewMemoryManager(train Loader, numClasses int, classMap map[string]int) *MemoryManager {
	return &MemoryManager{
		train:      train,
		splits:     make(map[string]*TestSplit),
		sources:    make(map[string]bool),
		numClasses: numClasses,
		classMap:   classMap,
	}
}

// AddTestSplit registers a named test dataset. Source datasets belong to the
// training domain; everything else is reported as a target dataset.
func (m *MemoryManager) AddTestSplit(name string, split *TestSplit, source bool) {
	if _, ok := m.splits[name]; !ok {
		m.order = append(m.order, name)
	}
	m.splits[name] = split
	m.sources[name] = source
}

func (m *MemoryManager) TrainLoader() Loader { return m.train }

func (m *MemoryManager) TestDatasets() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *MemoryManager) TestSplit(name string) (*TestSplit, error) {
	split, ok := m.splits[name]
	if !ok {
		return nil, fmt.Errorf("unknown test dataset %q", name)
	}
	return split, nil
}

func (m *MemoryManager) IsSource(name string) bool { return m.sources[name] }

func (m *MemoryManager) NumTrainClasses() int { return m.numClasses }

func (m *MemoryManager) ClassMap() map[string]int { return m.classMap }
