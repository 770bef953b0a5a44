package engine

import "math"

// plateauSelector implements the LR-plateau-bucketed best-checkpoint and
// early-stop decision. Patience is counted only within a constant-LR regime:
// a scheduled LR drop is expected to transiently perturb the metric, so any
// LR change opens a fresh bucket and the first result in it is a best
// candidate. Early stop additionally requires the LR to have reached its
// floor; stopping while the LR can still decrease would be premature.
type plateauSelector struct {
	patience int
	floorLR  float64

	bestMetric float64
	lrPrevBest *float64
	iterToWait int
}

func newPlateauSelector(patience int, floorLR float64) *plateauSelector {
	if patience <= 0 {
		patience = 10
	}
	if floorLR <= 0 {
		floorLR = 1e-5
	}
	return &plateauSelector{patience: patience, floorLR: floorLR}
}

// decide consumes the evaluated top-1 metric and the learning rate that was
// in effect during the epoch just evaluated (not any LR drop applied after
// it). It returns whether the run should stop and whether this checkpoint is
// a candidate for best.
func (s *plateauSelector) decide(top1 float64, lastLR *float64) (shouldExit, isBest bool) {
	current := math.Round(top1*1e4) / 1e4

	sameBucket := (s.lrPrevBest == nil && lastLR == nil) ||
		(s.lrPrevBest != nil && lastLR != nil && *s.lrPrevBest == *lastLR)

	if sameBucket && s.bestMetric >= current {
		s.iterToWait++
		if lastLR != nil && *lastLR <= s.floorLR && s.iterToWait >= s.patience {
			return true, false
		}
		return false, false
	}

	s.bestMetric = current
	s.iterToWait = 0
	if lastLR != nil {
		lr := *lastLR
		s.lrPrevBest = &lr
	} else {
		s.lrPrevBest = nil
	}
	return false, true
}
