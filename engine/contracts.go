package engine

import (
	"errors"

	"github.com/openvinotoolkit/deep-object-reid/checkpoints"
	"github.com/openvinotoolkit/deep-object-reid/data"
)

// Errors surfaced before any epoch executes. Registration-order and
// main-unit violations are programmer errors and non-recoverable.
var (
	ErrNotInitialized = errors.New("engine: model registered before engine initialization")
	ErrUnknownModel   = errors.New("engine: unknown model name")
	ErrNoModels       = errors.New("engine: no models registered")
	ErrBadInterval    = errors.New("engine: epoch interval needs at least one bound")
	ErrMainUnit       = errors.New("engine: main unit is not the first registered unit")
)

// Mode is a model's train/eval switch.
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

func (m Mode) String() string {
	if m == ModeTrain {
		return "train"
	}
	return "eval"
}

// Capability tags what a model produces, deciding which evaluator scores it.
type Capability int

const (
	// CapRetrieval models emit embeddings ranked against a gallery.
	CapRetrieval Capability = iota
	// CapClassification models emit per-class scores.
	CapClassification
	// CapContrastive models are trained jointly but never evaluated here.
	CapContrastive
)

// Model is the opaque network collaborator. The engine only switches modes,
// adjusts trainable layers, runs forward passes and snapshots parameters.
type Model interface {
	// SetMode switches train/eval mode and returns the previous mode, so
	// callers can restore it deterministically.
	SetMode(Mode) Mode
	Mode() Mode
	Capability() Capability
	// Forward returns one embedding or score row per batch sample.
	Forward(batch *data.Batch) ([][]float32, error)
	StateDict() map[string][]float32
	LayerNames() []string
	// OpenLayers makes exactly the named layers trainable; an empty list
	// freezes everything.
	OpenLayers(names []string)
	OpenAllLayers()
	TrainableLayers() []string
	// Classes returns the trained class-name map for classification models,
	// nil otherwise.
	Classes() map[string]int
}

// Optimizer is the opaque parameter-update collaborator.
type Optimizer interface {
	Step() error
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
	StateDict() checkpoints.OptimizerState
}

// SchedulerKind is fixed at registration; the engine never inspects scheduler
// types at runtime.
type SchedulerKind int

const (
	// StepBased schedulers advance on a bare step.
	StepBased SchedulerKind = iota
	// MetricBased schedulers consume the epoch's average training loss.
	MetricBased
)

// Scheduler adjusts an optimizer's learning rate once per epoch. Step-based
// schedulers must ignore the metric argument.
type Scheduler interface {
	Step(metric float64)
	StateDict() checkpoints.SchedulerState
}

// LossSummary maps loss names to their values for one batch. A "loss" entry,
// when present, is treated as the total.
type LossSummary map[string]float64

// TrainStep is the opaque forward/backward collaborator. BeginEpoch is called
// once before the first batch of every epoch with the mutual-learning flag
// resolved for that epoch.
type TrainStep interface {
	BeginEpoch(epoch int, mutualLearning bool)
	ForwardBackward(batch *data.Batch) (LossSummary, float64, error)
}

// ModelUnit bundles one named (model, optimizer, scheduler) triple.
type ModelUnit struct {
	Name      string
	Model     Model
	Optim     Optimizer
	Sched     Scheduler
	SchedKind SchedulerKind
}

// EvalResult is the metric tuple of one evaluation pass. Only the main
// model's result ever propagates to callers.
type EvalResult struct {
	Top1 float64
	Top5 float64
	MAP  float64
}
