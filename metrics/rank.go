package metrics

import (
	"fmt"
	"math/rand"
)

// singleGalleryShotRepeats is the number of random gallery samplings averaged
// in single-gallery-shot mode.
const singleGalleryShotRepeats = 10

// EvaluateRank computes the CMC curve up to maxRank and the mean average
// precision for a query-gallery distance matrix. Gallery samples sharing both
// identity and camera with the query are excluded, following the standard
// retrieval protocol. When singleGalleryShot is set, the CMC is averaged over
// repeated samplings of one gallery instance per identity (the protocol used
// by datasets with multi-shot galleries and single-shot evaluation).
func EvaluateRank(dist [][]float64, qPids, gPids, qCams, gCams []int, maxRank int, singleGalleryShot bool) ([]float64, float64, error) {
	numQ := len(dist)
	if numQ == 0 {
		return nil, 0, fmt.Errorf("empty distance matrix")
	}
	numG := len(dist[0])
	if len(qPids) != numQ || len(qCams) != numQ {
		return nil, 0, fmt.Errorf("query label count mismatch: %d distances, %d pids, %d camids",
			numQ, len(qPids), len(qCams))
	}
	if len(gPids) != numG || len(gCams) != numG {
		return nil, 0, fmt.Errorf("gallery label count mismatch: %d distances, %d pids, %d camids",
			numG, len(gPids), len(gCams))
	}
	if maxRank > numG {
		maxRank = numG
	}
	if maxRank <= 0 {
		return nil, 0, fmt.Errorf("gallery too small for rank evaluation")
	}

	// Fixed seed so single-gallery-shot sampling is reproducible run to run.
	rng := rand.New(rand.NewSource(1))

	cmc := make([]float64, maxRank)
	var sumAP float64
	validQueries := 0

	for qi := 0; qi < numQ; qi++ {
		order := argsortRow(dist[qi])

		// Drop gallery samples that share identity and camera with the query.
		kept := order[:0:0]
		for _, gi := range order {
			if gPids[gi] == qPids[qi] && gCams[gi] == qCams[qi] {
				continue
			}
			kept = append(kept, gi)
		}

		matches := make([]bool, len(kept))
		anyMatch := false
		for i, gi := range kept {
			if gPids[gi] == qPids[qi] {
				matches[i] = true
				anyMatch = true
			}
		}
		if !anyMatch {
			// Query identity absent from the usable gallery; skipped.
			continue
		}
		validQueries++

		if singleGalleryShot {
			accumulateSingleShotCMC(cmc, kept, matches, gPids, maxRank, rng)
		} else {
			if hit := firstHit(matches); hit < maxRank {
				for r := hit; r < maxRank; r++ {
					cmc[r]++
				}
			}
		}

		sumAP += averagePrecision(matches)
	}

	if validQueries == 0 {
		return nil, 0, fmt.Errorf("no query appears in the gallery")
	}
	for r := range cmc {
		cmc[r] /= float64(validQueries)
	}
	return cmc, sumAP / float64(validQueries), nil
}

// accumulateSingleShotCMC adds the averaged single-gallery-shot CMC for one
// query into cmc. Each repeat keeps one random instance per gallery identity.
func accumulateSingleShotCMC(cmc []float64, kept []int, matches []bool, gPids []int, maxRank int, rng *rand.Rand) {
	// positions of each identity within the kept (distance-ordered) list
	byPid := make(map[int][]int)
	for pos, gi := range kept {
		byPid[gPids[gi]] = append(byPid[gPids[gi]], pos)
	}

	repeatCMC := make([]float64, maxRank)
	for rep := 0; rep < singleGalleryShotRepeats; rep++ {
		sampled := make(map[int]bool)
		for _, positions := range byPid {
			sampled[positions[rng.Intn(len(positions))]] = true
		}
		rank := 0
		for pos := 0; pos < len(kept); pos++ {
			if !sampled[pos] {
				continue
			}
			if matches[pos] {
				for r := rank; r < maxRank; r++ {
					repeatCMC[r]++
				}
				break
			}
			rank++
			if rank >= maxRank {
				break
			}
		}
	}
	for r := 0; r < maxRank; r++ {
		cmc[r] += repeatCMC[r] / singleGalleryShotRepeats
	}
}

func firstHit(matches []bool) int {
	for i, m := range matches {
		if m {
			return i
		}
	}
	return len(matches)
}

// averagePrecision computes AP over a ranked boolean match list.
func averagePrecision(matches []bool) float64 {
	var hits int
	var sum float64
	for i, m := range matches {
		if !m {
			continue
		}
		hits++
		sum += float64(hits) / float64(i+1)
	}
	if hits == 0 {
		return 0
	}
	return sum / float64(hits)
}
