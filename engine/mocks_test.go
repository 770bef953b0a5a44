package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/openvinotoolkit/deep-object-reid/checkpoints"
	"github.com/openvinotoolkit/deep-object-reid/data"
)

// fakeModel echoes its inputs as embeddings unless a custom forward is set,
// so test datasets can encode the embedding space directly.
type fakeModel struct {
	capability Capability
	mode       Mode
	layers     []string
	trainable  map[string]bool
	classes    map[string]int
	forward    func(*data.Batch) ([][]float32, error)
}

func newFakeModel(capability Capability, layers ...string) *fakeModel {
	if len(layers) == 0 {
		layers = []string{"backbone", "head"}
	}
	m := &fakeModel{capability: capability, layers: layers, trainable: make(map[string]bool)}
	m.OpenAllLayers()
	return m
}

func (m *fakeModel) SetMode(mode Mode) Mode {
	prev := m.mode
	m.mode = mode
	return prev
}

func (m *fakeModel) Mode() Mode              { return m.mode }
func (m *fakeModel) Capability() Capability  { return m.capability }
func (m *fakeModel) LayerNames() []string    { return m.layers }
func (m *fakeModel) Classes() map[string]int { return m.classes }

func (m *fakeModel) OpenLayers(names []string) {
	for _, l := range m.layers {
		m.trainable[l] = false
	}
	for _, n := range names {
		m.trainable[n] = true
	}
}

func (m *fakeModel) OpenAllLayers() {
	for _, l := range m.layers {
		m.trainable[l] = true
	}
}

func (m *fakeModel) TrainableLayers() []string {
	var out []string
	for _, l := range m.layers {
		if m.trainable[l] {
			out = append(out, l)
		}
	}
	return out
}

func (m *fakeModel) Forward(batch *data.Batch) ([][]float32, error) {
	if m.forward != nil {
		return m.forward(batch)
	}
	out := make([][]float32, batch.Size())
	for i, in := range batch.Inputs {
		row := make([]float32, len(in))
		copy(row, in)
		out[i] = row
	}
	return out, nil
}

func (m *fakeModel) StateDict() map[string][]float32 {
	return map[string][]float32{"layer.weight": {1, 2, 3}}
}

type fakeOptim struct {
	lr    float64
	steps int
}

func (o *fakeOptim) Step() error      { o.steps++; return nil }
func (o *fakeOptim) ZeroGrad()        {}
func (o *fakeOptim) LR() float64      { return o.lr }
func (o *fakeOptim) SetLR(lr float64) { o.lr = lr }
func (o *fakeOptim) StateDict() checkpoints.OptimizerState {
	return checkpoints.OptimizerState{Type: "fake", LR: o.lr}
}

type fakeSched struct {
	metrics []float64
}

func (s *fakeSched) Step(metric float64) { s.metrics = append(s.metrics, metric) }
func (s *fakeSched) StateDict() checkpoints.SchedulerState {
	return checkpoints.SchedulerState{Type: "fake"}
}

type epochStart struct {
	epoch  int
	mutual bool
}

// fakeStep records epoch starts and batch counts and lets a test observe
// model state at batch time via onBatch.
type fakeStep struct {
	starts  []epochStart
	batches int
	loss    float64
	onBatch func(epoch int, batch *data.Batch)
}

func (s *fakeStep) BeginEpoch(epoch int, mutualLearning bool) {
	s.starts = append(s.starts, epochStart{epoch, mutualLearning})
}

func (s *fakeStep) ForwardBackward(batch *data.Batch) (LossSummary, float64, error) {
	s.batches++
	if s.onBatch != nil {
		epoch := 0
		if len(s.starts) > 0 {
			epoch = s.starts[len(s.starts)-1].epoch
		}
		s.onBatch(epoch, batch)
	}
	loss := s.loss
	if loss == 0 {
		loss = 1
	}
	return LossSummary{"loss": loss}, 0.5, nil
}

func oneHot(dim, idx int, v float32) []float32 {
	out := make([]float32, dim)
	out[idx] = v
	return out
}

// retrievalManager builds a two-identity dataset whose inputs already are
// separable embeddings, so the echoing fakeModel scores a perfect top-1.
func retrievalManager(t *testing.T) data.Manager {
	t.Helper()
	shape := []int{1, 1, 4}

	train := &data.MemoryDataset{Shape: shape}
	for i := 0; i < 4; i++ {
		train.Samples = append(train.Samples, data.Sample{Input: oneHot(4, i%2, 1), Label: i % 2})
	}
	query := &data.MemoryDataset{Shape: shape, Samples: []data.Sample{
		{Input: oneHot(4, 0, 1), Label: 0, CamID: 0},
		{Input: oneHot(4, 1, 1), Label: 1, CamID: 0},
	}}
	gallery := &data.MemoryDataset{Shape: shape, Samples: []data.Sample{
		{Input: oneHot(4, 0, 0.9), Label: 0, CamID: 1},
		{Input: oneHot(4, 1, 0.9), Label: 1, CamID: 1},
	}}

	dm := data.NewMemoryManager(data.NewSliceLoader(train, 2, false, 0), 2, nil)
	dm.AddTestSplit("toy", &data.TestSplit{
		Kind:    data.KindRetrieval,
		Query:   data.NewSliceLoader(query, 2, false, 0),
		Gallery: data.NewSliceLoader(gallery, 2, false, 0),
	}, true)
	return dm
}

func quietLogger() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestEngine(t *testing.T, dm data.Manager, step TrainStep, cfg Config) *Engine {
	t.Helper()
	e, err := New(dm, step, cfg, quietLogger())
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return e
}
