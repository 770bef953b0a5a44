package metrics

import (
	"fmt"
	"math"
	"sort"
)

// Supported distance metrics for query-gallery matrices.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// DistanceMatrix computes the pairwise distance matrix between two embedding
// sets. Rows index a, columns index b.
func DistanceMatrix(a, b [][]float32, metric string) ([][]float64, error) {
	switch metric {
	case MetricEuclidean:
		return euclideanDistances(a, b), nil
	case MetricCosine:
		return cosineDistances(a, b), nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", metric)
	}
}

func euclideanDistances(a, b [][]float32) [][]float64 {
	out := make([][]float64, len(a))
	for i, av := range a {
		row := make([]float64, len(b))
		for j, bv := range b {
			var sum float64
			for k := range av {
				d := float64(av[k]) - float64(bv[k])
				sum += d * d
			}
			row[j] = math.Sqrt(sum)
		}
		out[i] = row
	}
	return out
}

// cosineDistances returns 1 - cos(a_i, b_j).
func cosineDistances(a, b [][]float32) [][]float64 {
	out := make([][]float64, len(a))
	for i, av := range a {
		row := make([]float64, len(b))
		na := norm(av)
		for j, bv := range b {
			var dot float64
			for k := range av {
				dot += float64(av[k]) * float64(bv[k])
			}
			denom := na * norm(bv)
			if denom == 0 {
				row[j] = 1
				continue
			}
			row[j] = 1 - dot/denom
		}
		out[i] = row
	}
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// NormalizeRows L2-normalizes every embedding in place and returns the slice.
func NormalizeRows(embeddings [][]float32) [][]float32 {
	for _, row := range embeddings {
		n := norm(row)
		if n == 0 {
			continue
		}
		for i := range row {
			row[i] = float32(float64(row[i]) / n)
		}
	}
	return embeddings
}

// argsortRow returns the column indices of row sorted by ascending value.
// Ties keep their original order so results are deterministic.
func argsortRow(row []float64) []int {
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return row[idx[a]] < row[idx[b]] })
	return idx
}
