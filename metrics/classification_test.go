package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvinotoolkit/deep-object-reid/data"
)

// identityForward echoes batch inputs as score rows.
func identityForward(batch *data.Batch) ([][]float32, error) {
	out := make([][]float32, batch.Size())
	for i, in := range batch.Inputs {
		row := make([]float32, len(in))
		copy(row, in)
		out[i] = row
	}
	return out, nil
}

func scoreLoader(samples []data.Sample, batchSize int) data.Loader {
	numScores := len(samples[0].Input)
	return data.NewSliceLoader(&data.MemoryDataset{
		Samples: samples,
		Shape:   []int{numScores},
	}, batchSize, false, 0)
}

func TestEvaluateClassificationAccuracy(t *testing.T) {
	loader := scoreLoader([]data.Sample{
		{Input: []float32{0.9, 0.1, 0.0}, Label: 0},
		{Input: []float32{0.1, 0.8, 0.1}, Label: 1},
		{Input: []float32{0.2, 0.1, 0.7}, Label: 2},
		{Input: []float32{0.5, 0.4, 0.1}, Label: 1}, // top-1 miss, top-2 hit
	}, 2)

	res, err := EvaluateClassification(loader, identityForward, []int{1, 2}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.NumClasses)
	assert.InDelta(t, 0.75, res.CMC[0], 1e-9)
	assert.InDelta(t, 1.0, res.CMC[1], 1e-9)
}

func TestEvaluateClassificationPerfectScores(t *testing.T) {
	loader := scoreLoader([]data.Sample{
		{Input: []float32{1, 0}, Label: 0},
		{Input: []float32{0, 1}, Label: 1},
	}, 2)

	res, err := EvaluateClassification(loader, identityForward, []int{1}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.CMC[0], 1e-9)
	assert.InDelta(t, 1.0, res.MAP, 1e-9)

	require.NotNil(t, res.ConfusionMatrix)
	assert.InDelta(t, 1.0, res.ConfusionMatrix[0][0], 1e-9)
	assert.InDelta(t, 0.0, res.ConfusionMatrix[0][1], 1e-9)
	assert.InDelta(t, 1.0, res.ConfusionMatrix[1][1], 1e-9)
}

func TestEvaluateClassificationConfusionMatrixRowNormalized(t *testing.T) {
	loader := scoreLoader([]data.Sample{
		{Input: []float32{1, 0}, Label: 0},
		{Input: []float32{0, 1}, Label: 0},
		{Input: []float32{0, 1}, Label: 1},
		{Input: []float32{0, 1}, Label: 1},
	}, 4)

	res, err := EvaluateClassification(loader, identityForward, []int{1}, nil)
	require.NoError(t, err)

	require.NotNil(t, res.ConfusionMatrix)
	assert.InDelta(t, 0.5, res.ConfusionMatrix[0][0], 1e-9)
	assert.InDelta(t, 0.5, res.ConfusionMatrix[0][1], 1e-9)
	assert.InDelta(t, 1.0, res.ConfusionMatrix[1][1], 1e-9)
}

func TestEvaluateClassificationSkipsLargeConfusionMatrix(t *testing.T) {
	dim := ConfusionMatrixLimit + 1
	row := make([]float32, dim)
	row[0] = 1
	loader := scoreLoader([]data.Sample{{Input: row, Label: 0}}, 1)

	res, err := EvaluateClassification(loader, identityForward, []int{1}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.ConfusionMatrix)
}

func TestEvaluateClassificationLabelRemap(t *testing.T) {
	// Dataset label 0 maps to model class 2: the sample is only correct after
	// the remap is applied.
	loader := scoreLoader([]data.Sample{
		{Input: []float32{0, 0, 1}, Label: 0},
	}, 1)

	res, err := EvaluateClassification(loader, identityForward, []int{1}, []int{2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.CMC[0], 1e-9)
}

func TestEvaluateClassificationLabelOutsideMap(t *testing.T) {
	loader := scoreLoader([]data.Sample{
		{Input: []float32{0, 0, 1}, Label: 5},
	}, 1)

	_, err := EvaluateClassification(loader, identityForward, []int{1}, []int{2})
	assert.Error(t, err)
}

func TestEvaluateClassificationEmptyLoader(t *testing.T) {
	loader := data.NewSliceLoader(&data.MemoryDataset{Shape: []int{2}}, 1, false, 0)
	_, err := EvaluateClassification(loader, identityForward, []int{1}, nil)
	assert.Error(t, err)
}

func TestLabelMap(t *testing.T) {
	tests := []struct {
		name    string
		dataset map[string]int
		model   map[string]int
		want    []int
	}{
		{
			name:    "strict subset remapped",
			dataset: map[string]int{"cat": 0, "dog": 1},
			model:   map[string]int{"bird": 0, "cat": 1, "dog": 2},
			want:    []int{1, 2},
		},
		{
			name:    "equal size needs no remap",
			dataset: map[string]int{"cat": 0, "dog": 1},
			model:   map[string]int{"cat": 0, "dog": 1},
			want:    nil,
		},
		{
			name:  "missing dataset classes",
			model: map[string]int{"cat": 0},
			want:  nil,
		},
		{
			name:    "missing model classes",
			dataset: map[string]int{"cat": 0},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LabelMap(tt.dataset, tt.model))
		})
	}
}
