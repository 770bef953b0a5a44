package metrics

import (
	"math"
	"sort"
)

// Default k-reciprocal re-ranking parameters.
const (
	DefaultRerankK1     = 20
	DefaultRerankK2     = 6
	DefaultRerankLambda = 0.3
)

// ReRank refines a query-gallery distance matrix with the k-reciprocal
// encoding / Jaccard distance procedure (Zhong et al., CVPR'17). It needs the
// query-query and gallery-gallery distance matrices in addition to the
// query-gallery one and returns a matrix of the same shape as qg.
func ReRank(qg, qq, gg [][]float64, k1, k2 int, lambda float64) [][]float64 {
	if k1 <= 0 {
		k1 = DefaultRerankK1
	}
	if k2 <= 0 {
		k2 = DefaultRerankK2
	}
	if lambda < 0 || lambda > 1 {
		lambda = DefaultRerankLambda
	}

	numQ := len(qg)
	numG := 0
	if numQ > 0 {
		numG = len(qg[0])
	}
	all := numQ + numG

	// Joint distance matrix over queries and gallery, squared and column-max
	// normalized, then transposed (original formulation).
	joint := make([][]float64, all)
	for i := 0; i < all; i++ {
		joint[i] = make([]float64, all)
		for j := 0; j < all; j++ {
			var d float64
			switch {
			case i < numQ && j < numQ:
				d = qq[i][j]
			case i < numQ && j >= numQ:
				d = qg[i][j-numQ]
			case i >= numQ && j < numQ:
				d = qg[j][i-numQ]
			default:
				d = gg[i-numQ][j-numQ]
			}
			joint[i][j] = d * d
		}
	}
	colMax := make([]float64, all)
	for j := 0; j < all; j++ {
		for i := 0; i < all; i++ {
			if joint[i][j] > colMax[j] {
				colMax[j] = joint[i][j]
			}
		}
	}
	dist := make([][]float64, all)
	for i := 0; i < all; i++ {
		dist[i] = make([]float64, all)
		for j := 0; j < all; j++ {
			if colMax[i] > 0 {
				dist[i][j] = joint[j][i] / colMax[i]
			}
		}
	}

	initialRank := make([][]int, all)
	for i := 0; i < all; i++ {
		initialRank[i] = argsortRow(dist[i])
	}

	// Sparse k-reciprocal weight vectors, Gaussian-weighted and normalized.
	weights := make([]map[int]float64, all)
	for i := 0; i < all; i++ {
		expansion := kReciprocalExpansion(initialRank, i, k1)
		row := make(map[int]float64, len(expansion))
		var sum float64
		for _, j := range expansion {
			w := math.Exp(-dist[i][j])
			row[j] = w
			sum += w
		}
		for j := range row {
			row[j] /= sum
		}
		weights[i] = row
	}

	// Local query expansion: average the weight vectors of the k2 nearest
	// neighbours.
	if k2 > 1 {
		expanded := make([]map[int]float64, all)
		for i := 0; i < all; i++ {
			row := make(map[int]float64)
			limit := k2
			if limit > all {
				limit = all
			}
			for _, n := range initialRank[i][:limit] {
				for j, w := range weights[n] {
					row[j] += w / float64(limit)
				}
			}
			expanded[i] = row
		}
		weights = expanded
	}

	// Inverted index: for each sample, who assigns it non-zero weight.
	inverted := make([][]int, all)
	for i := 0; i < all; i++ {
		for j := range weights[i] {
			inverted[j] = append(inverted[j], i)
		}
	}

	final := make([][]float64, numQ)
	for qi := 0; qi < numQ; qi++ {
		minSum := make([]float64, all)
		for j, wq := range weights[qi] {
			for _, owner := range inverted[j] {
				minSum[owner] += math.Min(wq, weights[owner][j])
			}
		}
		final[qi] = make([]float64, numG)
		for gi := 0; gi < numG; gi++ {
			jaccard := 1 - minSum[numQ+gi]/(2-minSum[numQ+gi])
			final[qi][gi] = jaccard*(1-lambda) + dist[qi][numQ+gi]*lambda
		}
	}
	return final
}

// kReciprocalExpansion returns the expanded k-reciprocal neighbour set of
// sample i: its k-reciprocal neighbours plus the half-k reciprocal sets of
// those neighbours when they overlap by more than two thirds.
func kReciprocalExpansion(initialRank [][]int, i, k1 int) []int {
	base := kReciprocalNeighbors(initialRank, i, k1)
	inBase := make(map[int]bool, len(base))
	for _, b := range base {
		inBase[b] = true
	}

	expansion := append([]int(nil), base...)
	seen := make(map[int]bool, len(base))
	for _, b := range base {
		seen[b] = true
	}

	half := int(math.Round(float64(k1)/2)) + 1
	for _, candidate := range base {
		candSet := kReciprocalNeighbors(initialRank, candidate, half-1)
		overlap := 0
		for _, c := range candSet {
			if inBase[c] {
				overlap++
			}
		}
		if float64(overlap) > 2.0/3.0*float64(len(candSet)) {
			for _, c := range candSet {
				if !seen[c] {
					seen[c] = true
					expansion = append(expansion, c)
				}
			}
		}
	}
	sort.Ints(expansion)
	return expansion
}

// kReciprocalNeighbors returns the members of i's forward k-neighbourhood
// that also contain i within their own forward k-neighbourhood.
func kReciprocalNeighbors(initialRank [][]int, i, k int) []int {
	limit := k + 1
	if limit > len(initialRank[i]) {
		limit = len(initialRank[i])
	}
	forward := initialRank[i][:limit]
	var out []int
	for _, j := range forward {
		backLimit := k + 1
		if backLimit > len(initialRank[j]) {
			backLimit = len(initialRank[j])
		}
		for _, b := range initialRank[j][:backLimit] {
			if b == i {
				out = append(out, j)
				break
			}
		}
	}
	return out
}
