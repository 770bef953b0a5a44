// Command reid-train runs the orchestration engine over a synthetic
// retrieval workload. It is a smoke-test harness for the engine wiring:
// real setups supply their own models, losses and data manager.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/openvinotoolkit/deep-object-reid/config"
	"github.com/openvinotoolkit/deep-object-reid/data"
	"github.com/openvinotoolkit/deep-object-reid/engine"
	"github.com/openvinotoolkit/deep-object-reid/optim"
	"github.com/openvinotoolkit/deep-object-reid/sched"
)

const (
	featureDim   = 16
	embeddingDim = 8
	numIDs       = 8
	samplesPerID = 12
)

func main() {
	configPath := flag.String("config", "", "path to YAML run configuration")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: reid-train -config <file.yaml>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	rng := rand.New(rand.NewSource(42))
	dm := buildDataManager(rng)

	model := newProjectionModel(rng, engine.CapRetrieval)
	opt := optim.NewSGD(model, 0.01, 0.9, 1e-4)
	scheduler := sched.NewStepLR(opt, 10, 0.1)

	eng, err := engine.New(dm, &projectionStep{model: model, optim: opt}, cfg.EngineConfig(),
		engine.WithLogger(log))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := eng.RegisterModel("model_0", model, opt, scheduler, engine.StepBased); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	top1, err := eng.Run(ctx, cfg.RunOptions())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("final top-1: %.4f\n", top1)
}

// buildDataManager creates clustered synthetic identities so retrieval
// metrics are non-trivial.
func buildDataManager(rng *rand.Rand) data.Manager {
	centers := make([][]float32, numIDs)
	for id := range centers {
		centers[id] = randomVector(rng, featureDim, 4)
	}
	sample := func(id, cam int) data.Sample {
		input := make([]float32, featureDim)
		for i := range input {
			input[i] = centers[id][i] + float32(rng.NormFloat64()*0.1)
		}
		return data.Sample{Input: input, Label: id, CamID: cam}
	}

	train := &data.MemoryDataset{Shape: []int{1, 1, featureDim}}
	query := &data.MemoryDataset{Shape: []int{1, 1, featureDim}}
	gallery := &data.MemoryDataset{Shape: []int{1, 1, featureDim}}
	for id := 0; id < numIDs; id++ {
		for k := 0; k < samplesPerID; k++ {
			train.Samples = append(train.Samples, sample(id, k%2))
		}
		query.Samples = append(query.Samples, sample(id, 0))
		for k := 0; k < 4; k++ {
			gallery.Samples = append(gallery.Samples, sample(id, 1))
		}
	}

	trainLoader := data.NewPrefetcher(data.NewSliceLoader(train, 16, true, 1), 2, 4)
	dm := data.NewMemoryManager(trainLoader, numIDs, nil)
	dm.AddTestSplit("synthetic", &data.TestSplit{
		Kind:    data.KindRetrieval,
		Query:   data.NewSliceLoader(query, 16, false, 0),
		Gallery: data.NewSliceLoader(gallery, 16, false, 0),
	}, false)
	return dm
}

func randomVector(rng *rand.Rand, dim int, scale float64) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64() * scale)
	}
	return v
}

// projectionModel is a single linear layer producing embeddings. It exists to
// exercise the Model contract end to end; it is not a serious network.
type projectionModel struct {
	capability engine.Capability
	mode       engine.Mode
	weights    []float32 // embeddingDim x featureDim, row-major
	grads      []float32
	trainable  map[string]bool
}

func newProjectionModel(rng *rand.Rand, capability engine.Capability) *projectionModel {
	w := make([]float32, embeddingDim*featureDim)
	for i := range w {
		w[i] = float32(rng.NormFloat64() * 0.1)
	}
	return &projectionModel{
		capability: capability,
		weights:    w,
		grads:      make([]float32, len(w)),
		trainable:  map[string]bool{"projection": true},
	}
}

func (m *projectionModel) SetMode(mode engine.Mode) engine.Mode {
	prev := m.mode
	m.mode = mode
	return prev
}

func (m *projectionModel) Mode() engine.Mode               { return m.mode }
func (m *projectionModel) Capability() engine.Capability   { return m.capability }
func (m *projectionModel) LayerNames() []string            { return []string{"projection"} }
func (m *projectionModel) Classes() map[string]int         { return nil }
func (m *projectionModel) OpenAllLayers()                  { m.trainable["projection"] = true }
func (m *projectionModel) OpenLayers(names []string) {
	m.trainable["projection"] = false
	for _, n := range names {
		if n == "projection" {
			m.trainable["projection"] = true
		}
	}
}

func (m *projectionModel) TrainableLayers() []string {
	if m.trainable["projection"] {
		return []string{"projection"}
	}
	return nil
}

func (m *projectionModel) Forward(batch *data.Batch) ([][]float32, error) {
	out := make([][]float32, batch.Size())
	for i, input := range batch.Inputs {
		emb := make([]float32, embeddingDim)
		for r := 0; r < embeddingDim; r++ {
			var sum float32
			for c := 0; c < featureDim; c++ {
				sum += m.weights[r*featureDim+c] * input[c]
			}
			emb[r] = sum
		}
		out[i] = emb
	}
	return out, nil
}

func (m *projectionModel) StateDict() map[string][]float32 {
	w := make([]float32, len(m.weights))
	copy(w, m.weights)
	return map[string][]float32{"projection.weight": w}
}

func (m *projectionModel) Parameters() map[string][]float32 {
	if !m.trainable["projection"] {
		return map[string][]float32{}
	}
	return map[string][]float32{"projection.weight": m.weights}
}

func (m *projectionModel) Gradients() map[string][]float32 {
	return map[string][]float32{"projection.weight": m.grads}
}

// projectionStep nudges same-identity embeddings together with a crude
// center-pull gradient. Enough to make losses move; not a real criterion.
type projectionStep struct {
	model *projectionModel
	optim *optim.SGD
}

func (s *projectionStep) BeginEpoch(epoch int, mutualLearning bool) {}

func (s *projectionStep) ForwardBackward(batch *data.Batch) (engine.LossSummary, float64, error) {
	s.optim.ZeroGrad()

	emb, err := s.model.Forward(batch)
	if err != nil {
		return nil, 0, err
	}

	centers := make(map[int][]float64)
	counts := make(map[int]int)
	for i, e := range emb {
		id := batch.Labels[i]
		if centers[id] == nil {
			centers[id] = make([]float64, embeddingDim)
		}
		for j := range e {
			centers[id][j] += float64(e[j])
		}
		counts[id]++
	}
	for id := range centers {
		for j := range centers[id] {
			centers[id][j] /= float64(counts[id])
		}
	}

	var loss float64
	for i, e := range emb {
		center := centers[batch.Labels[i]]
		for j := range e {
			diff := float64(e[j]) - center[j]
			loss += diff * diff
			for c := 0; c < featureDim; c++ {
				s.model.grads[j*featureDim+c] += float32(2 * diff * float64(batch.Inputs[i][c]) / float64(batch.Size()))
			}
		}
	}
	loss /= float64(batch.Size())

	if err := s.optim.Step(); err != nil {
		return nil, 0, err
	}
	return engine.LossSummary{"loss": loss}, 0, nil
}
