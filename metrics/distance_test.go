package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMatrixEuclidean(t *testing.T) {
	a := [][]float32{{0, 0}, {3, 4}}
	b := [][]float32{{0, 0}, {6, 8}}

	dist, err := DistanceMatrix(a, b, MetricEuclidean)
	require.NoError(t, err)

	assert.InDelta(t, 0, dist[0][0], 1e-9)
	assert.InDelta(t, 10, dist[0][1], 1e-9)
	assert.InDelta(t, 5, dist[1][0], 1e-9)
	assert.InDelta(t, 5, dist[1][1], 1e-9)
}

func TestDistanceMatrixCosine(t *testing.T) {
	a := [][]float32{{1, 0}}
	b := [][]float32{{1, 0}, {0, 1}, {-1, 0}, {2, 0}}

	dist, err := DistanceMatrix(a, b, MetricCosine)
	require.NoError(t, err)

	assert.InDelta(t, 0, dist[0][0], 1e-9)
	assert.InDelta(t, 1, dist[0][1], 1e-9)
	assert.InDelta(t, 2, dist[0][2], 1e-9)
	assert.InDelta(t, 0, dist[0][3], 1e-9, "cosine distance ignores magnitude")
}

func TestDistanceMatrixCosineZeroVector(t *testing.T) {
	dist, err := DistanceMatrix([][]float32{{0, 0}}, [][]float32{{1, 0}}, MetricCosine)
	require.NoError(t, err)
	assert.InDelta(t, 1, dist[0][0], 1e-9)
}

func TestDistanceMatrixUnknownMetric(t *testing.T) {
	_, err := DistanceMatrix([][]float32{{1}}, [][]float32{{1}}, "manhattan")
	assert.Error(t, err)
}

func TestNormalizeRows(t *testing.T) {
	rows := NormalizeRows([][]float32{{3, 4}, {0, 0}})

	var n float64
	for _, v := range rows[0] {
		n += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, math.Sqrt(n), 1e-6)
	assert.Equal(t, []float32{0, 0}, rows[1], "zero rows pass through untouched")
}

func TestArgsortRowStableTies(t *testing.T) {
	assert.Equal(t, []int{1, 3, 0, 2}, argsortRow([]float64{2, 1, 2, 1}))
}
