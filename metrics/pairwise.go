package metrics

import (
	"fmt"
	"sort"

	"github.com/openvinotoolkit/deep-object-reid/data"
)

// pairwiseFolds is the cross-validation fold count for threshold selection.
const pairwiseFolds = 10

// PairwiseResult holds verification metrics over a fixed pair set. These are
// informational only; they never feed checkpoint selection.
type PairwiseResult struct {
	SameAcc      float64 // accuracy on same-identity pairs
	DiffAcc      float64 // accuracy on different-identity pairs
	OverallAcc   float64
	AUC          float64
	AvgThreshold float64
}

// EvaluatePairwise scores a model on a verification pair set. Pairs are
// embedded, compared by cosine similarity, and a decision threshold is
// cross-validated over folds; the reported accuracy is aggregated over the
// held-out folds and the threshold is the fold average.
func EvaluatePairwise(loader data.PairLoader, forward ForwardFunc) (*PairwiseResult, error) {
	var sims []float64
	var same []bool

	loader.Reset()
	for {
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("pairwise evaluation: %w", err)
		}
		if batch == nil {
			break
		}
		left, err := forward(batch.Left)
		if err != nil {
			return nil, fmt.Errorf("pairwise forward pass: %w", err)
		}
		right, err := forward(batch.Right)
		if err != nil {
			return nil, fmt.Errorf("pairwise forward pass: %w", err)
		}
		if len(left) != len(batch.Same) || len(right) != len(batch.Same) {
			return nil, fmt.Errorf("pairwise forward pass returned %d/%d rows for %d pairs",
				len(left), len(right), len(batch.Same))
		}
		for i := range batch.Same {
			sims = append(sims, cosineSimilarity(left[i], right[i]))
			same = append(same, batch.Same[i])
		}
	}
	if len(sims) == 0 {
		return nil, fmt.Errorf("pairwise evaluation: empty pair set")
	}

	res := &PairwiseResult{AUC: rankAUC(sims, same)}

	folds := pairwiseFolds
	if folds > len(sims) {
		folds = len(sims)
	}
	var sameHits, sameTotal, diffHits, diffTotal int
	var thresholdSum float64
	for fold := 0; fold < folds; fold++ {
		trainSims, trainSame := foldSplit(sims, same, fold, folds, false)
		testSims, testSame := foldSplit(sims, same, fold, folds, true)

		threshold := bestThreshold(trainSims, trainSame)
		thresholdSum += threshold

		for i, s := range testSims {
			predictedSame := s >= threshold
			if testSame[i] {
				sameTotal++
				if predictedSame {
					sameHits++
				}
			} else {
				diffTotal++
				if !predictedSame {
					diffHits++
				}
			}
		}
	}

	if sameTotal > 0 {
		res.SameAcc = float64(sameHits) / float64(sameTotal)
	}
	if diffTotal > 0 {
		res.DiffAcc = float64(diffHits) / float64(diffTotal)
	}
	res.OverallAcc = float64(sameHits+diffHits) / float64(sameTotal+diffTotal)
	res.AvgThreshold = thresholdSum / float64(folds)
	return res, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	denom := norm(a) * norm(b)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// foldSplit returns either the fold-th slice (test=true) or everything else.
func foldSplit(sims []float64, same []bool, fold, folds int, test bool) ([]float64, []bool) {
	var outSims []float64
	var outSame []bool
	for i := range sims {
		inFold := i%folds == fold
		if inFold == test {
			outSims = append(outSims, sims[i])
			outSame = append(outSame, same[i])
		}
	}
	return outSims, outSame
}

// bestThreshold sweeps candidate thresholds (the observed similarities) and
// returns the one maximizing accuracy on the given pairs.
func bestThreshold(sims []float64, same []bool) float64 {
	if len(sims) == 0 {
		return 0
	}
	candidates := append([]float64(nil), sims...)
	sort.Float64s(candidates)

	best := candidates[0]
	bestAcc := -1.0
	for _, t := range candidates {
		correct := 0
		for i, s := range sims {
			if (s >= t) == same[i] {
				correct++
			}
		}
		acc := float64(correct) / float64(len(sims))
		if acc > bestAcc {
			bestAcc = acc
			best = t
		}
	}
	return best
}

// rankAUC computes the area under the ROC curve via the rank statistic:
// the probability that a random same-pair scores above a random diff-pair.
func rankAUC(sims []float64, same []bool) float64 {
	type scored struct {
		sim  float64
		same bool
	}
	all := make([]scored, len(sims))
	for i := range sims {
		all[i] = scored{sims[i], same[i]}
	}
	sort.Slice(all, func(a, b int) bool { return all[a].sim < all[b].sim })

	var positives, negatives, rankSum float64
	i := 0
	for i < len(all) {
		j := i
		for j < len(all) && all[j].sim == all[i].sim {
			j++
		}
		avgRank := float64(i+j+1) / 2 // average 1-based rank of the tie group
		for k := i; k < j; k++ {
			if all[k].same {
				positives++
				rankSum += avgRank
			} else {
				negatives++
			}
		}
		i = j
	}
	if positives == 0 || negatives == 0 {
		return 0
	}
	return (rankSum - positives*(positives+1)/2) / (positives * negatives)
}
