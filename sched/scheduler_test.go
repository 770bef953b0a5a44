package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type memOptim struct {
	lr float64
}

func (o *memOptim) LR() float64      { return o.lr }
func (o *memOptim) SetLR(lr float64) { o.lr = lr }

func TestStepLRDecaysEveryStepSize(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewStepLR(opt, 2, 0.1)

	wantByEpoch := []float64{0.1, 0.01, 0.01, 0.001, 0.001, 0.0001}
	for epoch, want := range wantByEpoch {
		s.Step(0)
		assert.InDelta(t, want, opt.LR(), 1e-12, "after epoch %d", epoch+1)
	}
}

func TestStepLRAnchorsAtConstructionLR(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewStepLR(opt, 2, 0.1)

	// External LR changes do not move the schedule's anchor.
	opt.SetLR(5.0)
	s.Step(0)
	assert.InDelta(t, 0.1, opt.LR(), 1e-12)
}

func TestStepLRDefaults(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewStepLR(opt, 0, 2.0)
	assert.Equal(t, 30, s.stepSize)
	assert.InDelta(t, 0.1, s.gamma, 0)
}

func TestStepLRStateDict(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewStepLR(opt, 2, 0.1)
	s.Step(0)

	state := s.StateDict()
	assert.Equal(t, "StepLR", state.Type)
	assert.InDelta(t, 1, state.Values["epoch"], 0)
	assert.InDelta(t, 0.1, state.Values["base_lr"], 0)
}

func TestCosineAnnealingLREndpoints(t *testing.T) {
	opt := &memOptim{lr: 1.0}
	s := NewCosineAnnealingLR(opt, 4, 0)

	// Halfway through the schedule the cosine curve is at half the base LR.
	s.Step(0)
	s.Step(0)
	assert.InDelta(t, 0.5, opt.LR(), 1e-9)

	s.Step(0)
	s.Step(0)
	assert.InDelta(t, 0, opt.LR(), 1e-9, "clamps to eta_min at t_max")

	// Further steps stay at the minimum.
	s.Step(0)
	assert.InDelta(t, 0, opt.LR(), 1e-9)
}

func TestCosineAnnealingLREtaMin(t *testing.T) {
	opt := &memOptim{lr: 1.0}
	s := NewCosineAnnealingLR(opt, 2, 0.25)

	s.Step(0)
	assert.InDelta(t, 0.625, opt.LR(), 1e-9) // 0.25 + 0.75*(1+cos(pi/2))/2
	s.Step(0)
	assert.InDelta(t, 0.25, opt.LR(), 1e-9)
}

func TestReduceLROnPlateauDropsAfterPatience(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewReduceLROnPlateau(opt, 0.1, 2, 1e-4, 0)

	s.Step(1.0) // establishes the baseline
	s.Step(1.0) // bad epoch 1
	assert.InDelta(t, 0.1, opt.LR(), 1e-12)
	s.Step(1.0) // bad epoch 2 triggers the drop
	assert.InDelta(t, 0.01, opt.LR(), 1e-12)
}

func TestReduceLROnPlateauImprovementResetsPatience(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewReduceLROnPlateau(opt, 0.1, 2, 1e-4, 0)

	s.Step(1.0)
	s.Step(1.0)
	s.Step(0.5) // clear improvement resets the bad-epoch counter
	s.Step(0.5)
	assert.InDelta(t, 0.1, opt.LR(), 1e-12)
	s.Step(0.5)
	assert.InDelta(t, 0.01, opt.LR(), 1e-12)
}

func TestReduceLROnPlateauThreshold(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewReduceLROnPlateau(opt, 0.1, 1, 1e-2, 0)

	s.Step(1.0)
	// Within the threshold: not an improvement, so the LR drops.
	s.Step(0.995)
	assert.InDelta(t, 0.01, opt.LR(), 1e-12)
}

func TestReduceLROnPlateauMinLRClamp(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewReduceLROnPlateau(opt, 0.1, 1, 1e-4, 0.05)

	s.Step(1.0)
	s.Step(1.0)
	assert.InDelta(t, 0.05, opt.LR(), 1e-12)
}

func TestReduceLROnPlateauStateDict(t *testing.T) {
	opt := &memOptim{lr: 0.1}
	s := NewReduceLROnPlateau(opt, 0.1, 2, 1e-4, 0)
	s.Step(0.7)

	state := s.StateDict()
	assert.Equal(t, "ReduceLROnPlateau", state.Type)
	assert.InDelta(t, 0.7, state.Values["best"], 1e-12)
	assert.InDelta(t, 1, state.Values["initialized"], 0)
}
