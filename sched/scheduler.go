// Package sched provides learning-rate schedulers implementing the engine's
// Scheduler contract. Step-based schedulers advance once per epoch and ignore
// the metric argument; ReduceLROnPlateau consumes the epoch's average training
// loss.
package sched

import (
	"math"

	"github.com/openvinotoolkit/deep-object-reid/checkpoints"
)

// LRSetter is the slice of the optimizer a scheduler needs.
type LRSetter interface {
	LR() float64
	SetLR(lr float64)
}

// StepLR multiplies the learning rate by Gamma every StepSize epochs.
type StepLR struct {
	opt      LRSetter
	baseLR   float64
	stepSize int
	gamma    float64
	epoch    int
}

// NewStepLR creates a step scheduler anchored at the optimizer's current LR.
func NewStepLR(opt LRSetter, stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLR{opt: opt, baseLR: opt.LR(), stepSize: stepSize, gamma: gamma}
}

func (s *StepLR) Step(metric float64) {
	_ = metric
	s.epoch++
	times := s.epoch / s.stepSize
	s.opt.SetLR(s.baseLR * math.Pow(s.gamma, float64(times)))
}

func (s *StepLR) StateDict() checkpoints.SchedulerState {
	return checkpoints.SchedulerState{
		Type: "StepLR",
		Values: map[string]float64{
			"base_lr":   s.baseLR,
			"step_size": float64(s.stepSize),
			"gamma":     s.gamma,
			"epoch":     float64(s.epoch),
		},
	}
}

// CosineAnnealingLR anneals the learning rate along a cosine curve from the
// base LR down to EtaMin over TMax epochs.
type CosineAnnealingLR struct {
	opt    LRSetter
	baseLR float64
	tMax   int
	etaMin float64
	epoch  int
}

// NewCosineAnnealingLR creates a cosine annealing scheduler.
func NewCosineAnnealingLR(opt LRSetter, tMax int, etaMin float64) *CosineAnnealingLR {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLR{opt: opt, baseLR: opt.LR(), tMax: tMax, etaMin: etaMin}
}

func (s *CosineAnnealingLR) Step(metric float64) {
	_ = metric
	s.epoch++
	if s.epoch >= s.tMax {
		s.opt.SetLR(s.etaMin)
		return
	}
	lr := s.etaMin + (s.baseLR-s.etaMin)*(1+math.Cos(math.Pi*float64(s.epoch)/float64(s.tMax)))/2
	s.opt.SetLR(lr)
}

func (s *CosineAnnealingLR) StateDict() checkpoints.SchedulerState {
	return checkpoints.SchedulerState{
		Type: "CosineAnnealingLR",
		Values: map[string]float64{
			"base_lr": s.baseLR,
			"t_max":   float64(s.tMax),
			"eta_min": s.etaMin,
			"epoch":   float64(s.epoch),
		},
	}
}

// ReduceLROnPlateau lowers the learning rate by Factor once the consumed
// metric has stopped improving for Patience epochs. It is metric-based: the
// engine passes the epoch's average training loss to Step.
type ReduceLROnPlateau struct {
	opt       LRSetter
	factor    float64
	patience  int
	threshold float64
	minLR     float64

	best        float64
	badEpochs   int
	initialized bool
}

// NewReduceLROnPlateau creates a plateau scheduler. Lower metric values count
// as improvements (loss semantics).
func NewReduceLROnPlateau(opt LRSetter, factor float64, patience int, threshold, minLR float64) *ReduceLROnPlateau {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	return &ReduceLROnPlateau{
		opt:       opt,
		factor:    factor,
		patience:  patience,
		threshold: threshold,
		minLR:     minLR,
	}
}

func (s *ReduceLROnPlateau) Step(metric float64) {
	if !s.initialized {
		s.best = metric
		s.initialized = true
		return
	}
	if metric < s.best-s.threshold {
		s.best = metric
		s.badEpochs = 0
		return
	}
	s.badEpochs++
	if s.badEpochs >= s.patience {
		lr := s.opt.LR() * s.factor
		if lr < s.minLR {
			lr = s.minLR
		}
		s.opt.SetLR(lr)
		s.badEpochs = 0
	}
}

func (s *ReduceLROnPlateau) StateDict() checkpoints.SchedulerState {
	initialized := 0.0
	if s.initialized {
		initialized = 1
	}
	return checkpoints.SchedulerState{
		Type: "ReduceLROnPlateau",
		Values: map[string]float64{
			"factor":      s.factor,
			"patience":    float64(s.patience),
			"threshold":   s.threshold,
			"min_lr":      s.minLR,
			"best":        s.best,
			"bad_epochs":  float64(s.badEpochs),
			"initialized": initialized,
		},
	}
}
