// Package engine drives multi-model training and evaluation: epoch/batch
// iteration, auxiliary-model freeze policies, three-way evaluation dispatch,
// LR-plateau checkpoint selection with early stopping, and recoverable run
// state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openvinotoolkit/deep-object-reid/checkpoints"
	"github.com/openvinotoolkit/deep-object-reid/data"
)

// Config carries construction-time engine settings. Zero values select the
// documented defaults.
type Config struct {
	// FreezeAuxModels marks every unit but the first as freeze-eligible.
	FreezeAuxModels bool
	// FreezeInterval gates on which epochs eligible units are frozen. Nil
	// means freeze on every epoch (when FreezeAuxModels is set).
	FreezeInterval *EpochInterval
	// MutualOffInterval gates on which epochs mutual learning is disabled.
	// Nil means mutual learning is never disabled.
	MutualOffInterval *EpochInterval

	SaveCheckpoints bool
	EarlyStopping   bool
	TrainPatience   int     // default 10
	FloorLR         float64 // default 1e-5
	InitialLR       float64
	RunInfo         map[string]string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger replaces the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine is the orchestration core. It owns the model registry and run
// state; the network math, data loading and losses stay behind the Model,
// Manager and TrainStep collaborators. A single goroutine drives the whole
// epoch/batch loop.
type Engine struct {
	dm   data.Manager
	step TrainStep
	log  *slog.Logger

	units       map[string]*ModelUnit
	names       []string
	mainName    string
	freezeAux   bool
	freezeNames []string

	freezeIv    *EpochInterval
	mutualOffIv *EpochInterval

	selector      *plateauSelector
	saveChkpt     bool
	earlyStopping bool
	initialLR     float64
	runInfo       map[string]string

	// run state, created at Run entry and mutated once per epoch
	epoch        int
	startEpoch   int
	maxEpoch     int
	numBatches   int
	lrOfPrevIter *float64
}

// New creates an Engine over the data manager and opaque training step.
// All interval policies are validated here, before any epoch can execute.
func New(dm data.Manager, step TrainStep, cfg Config, opts ...Option) (*Engine, error) {
	if dm == nil {
		return nil, fmt.Errorf("engine: nil data manager")
	}
	if step == nil {
		return nil, fmt.Errorf("engine: nil training step")
	}
	for _, iv := range []*EpochInterval{cfg.FreezeInterval, cfg.MutualOffInterval} {
		if iv != nil {
			if err := iv.Validate(); err != nil {
				return nil, err
			}
		}
	}

	runInfo := make(map[string]string, len(cfg.RunInfo)+1)
	for k, v := range cfg.RunInfo {
		runInfo[k] = v
	}
	if _, ok := runInfo["run_id"]; !ok {
		runInfo["run_id"] = uuid.NewString()
	}

	e := &Engine{
		dm:            dm,
		step:          step,
		log:           slog.Default(),
		units:         make(map[string]*ModelUnit),
		freezeAux:     cfg.FreezeAuxModels,
		freezeIv:      cfg.FreezeInterval,
		mutualOffIv:   cfg.MutualOffInterval,
		selector:      newPlateauSelector(cfg.TrainPatience, cfg.FloorLR),
		saveChkpt:     cfg.SaveCheckpoints,
		earlyStopping: cfg.EarlyStopping,
		initialLR:     cfg.InitialLR,
		runInfo:       runInfo,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunOptions carries per-run settings.
type RunOptions struct {
	SaveDir      string
	MaxEpoch     int
	StartEpoch   int
	PrintFreq    int // batches between progress lines; default 10
	FixbaseEpoch int // epochs during which only OpenLayers train
	OpenLayers   []string
	StartEval    int
	EvalFreq     int // <= 0 means evaluate only after the final epoch
	// TestOnly short-circuits the epoch loop and returns the immediate
	// evaluation result without touching selection or persistence.
	TestOnly bool
	// LRSearch runs the loop without committing anything: no scheduler
	// steps, no selector updates, no checkpoints.
	LRSearch bool
	Eval     EvalOptions
}

func (o *RunOptions) defaults() {
	if o.PrintFreq <= 0 {
		o.PrintFreq = 10
	}
	o.Eval.defaults()
}

// Run is the unified training/evaluation pipeline. It returns the final
// epoch's primary top-1 metric (or the immediate result in test-only mode) as
// the run's single externally observable scalar. Cancellation of ctx is
// honoured at batch and epoch boundaries only; a cancelled run returns
// ctx.Err() and never persists a partial epoch.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (float64, error) {
	opts.defaults()

	if opts.Eval.VisRank && !opts.TestOnly {
		return 0, fmt.Errorf("engine: ranked-results dump requires test-only mode")
	}
	if _, err := e.mainUnit(); err != nil {
		return 0, err
	}

	if opts.TestOnly {
		res, err := e.Test(0, opts.Eval)
		if err != nil {
			return 0, err
		}
		return res.Top1, nil
	}

	if opts.MaxEpoch <= 0 {
		return 0, fmt.Errorf("engine: max epoch must be positive, got %d", opts.MaxEpoch)
	}
	if opts.StartEpoch < 0 || opts.StartEpoch >= opts.MaxEpoch {
		return 0, fmt.Errorf("engine: start epoch %d outside [0, %d)", opts.StartEpoch, opts.MaxEpoch)
	}

	if !opts.LRSearch {
		e.log.Info("test before training")
		if _, err := e.Test(0, opts.Eval); err != nil {
			return 0, err
		}
	}

	var saver *checkpoints.Manager
	if e.saveChkpt && !opts.LRSearch {
		saver = checkpoints.NewManager(opts.SaveDir)
	}

	start := time.Now()
	e.startEpoch = opts.StartEpoch
	e.maxEpoch = opts.MaxEpoch
	e.log.Info("start training",
		"start_epoch", e.startEpoch, "max_epoch", e.maxEpoch, "run_id", e.runInfo["run_id"])

	stopped := false
	for e.epoch = e.startEpoch; e.epoch < e.maxEpoch; e.epoch++ {
		avgLoss, err := e.trainEpoch(ctx, &opts)
		if err != nil {
			return 0, err
		}

		if !opts.LRSearch {
			e.updateLR(avgLoss)
		}

		// Epoch-boundary cancellation point.
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if !e.shouldEvaluate(opts) {
			continue
		}
		res, err := e.Test(e.epoch, opts.Eval)
		if err != nil {
			return 0, err
		}
		if opts.LRSearch {
			e.log.Info("search-mode evaluation",
				"epoch", e.epoch, "top1", res.Top1, "lr", e.currentLR())
			continue
		}

		shouldExit, isBest := e.selector.decide(res.Top1, e.lrOfPrevIter)
		shouldExit = e.earlyStopping && shouldExit
		if saver != nil {
			if err := e.saveModels(saver, isBest); err != nil {
				return 0, err
			}
		}
		if shouldExit {
			e.log.Info("early stop: no improvement within patience at floor LR", "epoch", e.epoch)
			stopped = true
			break
		}
	}
	if !stopped {
		e.epoch = e.maxEpoch - 1
	}

	e.log.Info("final test", "epoch", e.epoch)
	res, err := e.Test(e.epoch, opts.Eval)
	if err != nil {
		return 0, err
	}
	if !opts.LRSearch {
		if saver != nil {
			_, isBest := e.selector.decide(res.Top1, e.lrOfPrevIter)
			if err := e.saveModels(saver, isBest); err != nil {
				return 0, err
			}
		}
	} else {
		e.log.Info("search-mode evaluation",
			"epoch", e.epoch, "top1", res.Top1, "lr", e.currentLR())
	}

	e.log.Info("training finished", "elapsed", time.Since(start).Round(time.Second))
	return res.Top1, nil
}

// shouldEvaluate applies the periodic evaluation gate; the final epoch is
// excluded because the forced final evaluation always runs after the loop.
func (e *Engine) shouldEvaluate(opts RunOptions) bool {
	return (e.epoch+1) >= opts.StartEval &&
		opts.EvalFreq > 0 &&
		(e.epoch+1)%opts.EvalFreq == 0 &&
		(e.epoch+1) != e.maxEpoch
}

// trainEpoch runs one epoch: freeze decision, layer policy, batch iteration.
// It returns the epoch's average training loss. Cancellation is polled once
// per batch; the loop never aborts mid-batch.
func (e *Engine) trainEpoch(ctx context.Context, opts *RunOptions) (float64, error) {
	losses := newMetricMeter()
	var batchTime, dataTime, accuracy averageMeter

	e.setModeAll(ModeTrain)

	// Unfreeze before the layer policy and freeze after it, so freezing is
	// always the final word for the epoch.
	if !e.shouldFreezeAux(e.epoch) {
		e.unfreezeAuxModels()
	}
	e.applyLayerPolicy(opts.FixbaseEpoch, opts.OpenLayers)
	if e.shouldFreezeAux(e.epoch) {
		e.freezeAuxModels()
	}

	e.step.BeginEpoch(e.epoch, e.mutualLearningEnabled(e.epoch))

	loader := e.dm.TrainLoader()
	loader.Reset()
	e.numBatches = loader.Len()

	end := time.Now()
	for batchIdx := 0; ; batchIdx++ {
		batch, err := loader.Next()
		if err != nil {
			return 0, fmt.Errorf("pull training batch: %w", err)
		}
		if batch == nil {
			break
		}
		dataTime.update(time.Since(end).Seconds())

		summary, avgAcc, err := e.step.ForwardBackward(batch)
		if err != nil {
			return 0, fmt.Errorf("training step failed at epoch %d batch %d: %w", e.epoch, batchIdx, err)
		}
		batchTime.update(time.Since(end).Seconds())
		losses.update(summary)
		accuracy.update(avgAcc)

		if !opts.LRSearch && (batchIdx+1)%opts.PrintFreq == 0 {
			remaining := e.numBatches - (batchIdx + 1)
			futureEpochs := (e.maxEpoch - (e.epoch + 1)) * e.numBatches
			eta := time.Duration(batchTime.avg*float64(remaining+futureEpochs)) * time.Second
			e.log.Info("train",
				"epoch", fmt.Sprintf("%d/%d", e.epoch+1, e.maxEpoch),
				"batch", fmt.Sprintf("%d/%d", batchIdx+1, e.numBatches),
				"time", fmt.Sprintf("%.3f (%.3f)", batchTime.val, batchTime.avg),
				"data", fmt.Sprintf("%.3f (%.3f)", dataTime.val, dataTime.avg),
				"acc", fmt.Sprintf("%.3f (%.3f)", accuracy.val, accuracy.avg),
				"eta", eta,
				"losses", losses.String(),
				"lr", e.currentLR())
		}

		// The LR in effect for this batch; the checkpoint selector reads this
		// so its buckets reflect the LR during training, not a drop applied
		// by the scheduler afterwards.
		lr := e.currentLR()
		e.lrOfPrevIter = &lr

		end = time.Now()

		// Batch-boundary cancellation point.
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}

	return losses.lossAvg(), nil
}

// applyLayerPolicy is the two-stepped transfer-learning rule, re-evaluated
// every epoch: while inside the fixbase window with configured open layers,
// only those layers train on every model; otherwise all layers are open.
func (e *Engine) applyLayerPolicy(fixbaseEpoch int, openLayers []string) {
	if (e.epoch+1) <= fixbaseEpoch && openLayers != nil {
		e.log.Info("training open layers only",
			"layers", openLayers, "epoch", fmt.Sprintf("%d/%d", e.epoch+1, fixbaseEpoch))
		for _, name := range e.names {
			e.units[name].Model.OpenLayers(openLayers)
		}
		return
	}
	for _, name := range e.names {
		e.units[name].Model.OpenAllLayers()
	}
}

// shouldFreezeAux resolves the freeze policy for an epoch.
func (e *Engine) shouldFreezeAux(epoch int) bool {
	if !e.freezeAux {
		return false
	}
	if e.freezeIv == nil {
		return true
	}
	return e.freezeIv.Value(epoch)
}

// mutualLearningEnabled resolves the mutual-learning cutoff for an epoch.
func (e *Engine) mutualLearningEnabled(epoch int) bool {
	if e.mutualOffIv == nil {
		return true
	}
	return !e.mutualOffIv.Value(epoch)
}

func (e *Engine) freezeAuxModels() {
	for _, name := range e.freezeNames {
		m := e.units[name].Model
		m.SetMode(ModeEval)
		m.OpenLayers(nil)
	}
}

func (e *Engine) unfreezeAuxModels() {
	for _, name := range e.freezeNames {
		m := e.units[name].Model
		m.SetMode(ModeTrain)
		m.OpenAllLayers()
	}
}

// updateLR steps every non-nil scheduler after the epoch's batches.
// Metric-based schedulers receive the epoch's average training loss.
func (e *Engine) updateLR(avgLoss float64) {
	for _, name := range e.names {
		unit := e.units[name]
		if unit.Sched == nil {
			continue
		}
		if unit.SchedKind == MetricBased {
			unit.Sched.Step(avgLoss)
		} else {
			unit.Sched.Step(0)
		}
	}
}

// saveModels persists one checkpoint per registered unit for the epoch just
// completed. Persistence failures are fatal: the run must never proceed
// believing a checkpoint was written when it was not.
func (e *Engine) saveModels(saver *checkpoints.Manager, isBest bool) error {
	for _, name := range e.names {
		unit := e.units[name]

		ckpt := &checkpoints.Checkpoint{
			Weights:    unit.Model.StateDict(),
			Epoch:      e.epoch + 1,
			NumClasses: e.dm.NumTrainClasses(),
			ClassMap:   e.dm.ClassMap(),
			RunInfo:    e.runInfo,
			InitialLR:  e.initialLR,
		}
		if unit.Optim != nil {
			state := unit.Optim.StateDict()
			ckpt.OptimizerState = &state
		}
		if unit.Sched != nil {
			state := unit.Sched.StateDict()
			ckpt.SchedulerState = &state
		}

		path, err := saver.Save(name, ckpt, isBest, name == e.mainName)
		if err != nil {
			return fmt.Errorf("save checkpoint for %q: %w", name, err)
		}
		e.log.Info("checkpoint saved", "model", name, "path", path, "best", isBest)
	}
	return nil
}
