package metrics

import (
	"fmt"
	"sort"

	"github.com/openvinotoolkit/deep-object-reid/data"
)

// ForwardFunc runs a model forward pass over one batch and returns one score
// or embedding row per sample.
type ForwardFunc func(batch *data.Batch) ([][]float32, error)

// ConfusionMatrixLimit is the largest class count for which a confusion
// matrix is materialized; larger problems skip it to keep output readable.
const ConfusionMatrixLimit = 20

// ClassificationResult holds per-dataset classification metrics.
type ClassificationResult struct {
	CMC []float64 // accuracy at each requested rank, aligned with the input ranks
	MAP float64
	// ConfusionMatrix is row-normalized over true classes; nil when the class
	// count exceeds ConfusionMatrixLimit.
	ConfusionMatrix [][]float64
	NumClasses      int
}

// LabelMap maps a dataset's class indices into a model's label space when the
// dataset classes are a strict subset of the trained classes. The returned
// slice is indexed by dataset label; nil means no remapping is needed.
func LabelMap(datasetClasses, modelClasses map[string]int) []int {
	if len(datasetClasses) == 0 || len(modelClasses) == 0 ||
		len(datasetClasses) >= len(modelClasses) {
		return nil
	}
	names := make([]string, 0, len(datasetClasses))
	for name := range datasetClasses {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]int, len(datasetClasses))
	for _, name := range names {
		out[datasetClasses[name]] = modelClasses[name]
	}
	return out
}

// EvaluateClassification scores a classification model over a labelled
// loader. ranks selects the accuracy cut-offs to report; labelMap (optional)
// remaps dataset labels into the model's label space before scoring.
func EvaluateClassification(loader data.Loader, forward ForwardFunc, ranks []int, labelMap []int) (*ClassificationResult, error) {
	if len(ranks) == 0 {
		ranks = []int{1, 5}
	}

	var scores [][]float32
	var labels []int

	loader.Reset()
	for {
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("classification evaluation: %w", err)
		}
		if batch == nil {
			break
		}
		logits, err := forward(batch)
		if err != nil {
			return nil, fmt.Errorf("classification forward pass: %w", err)
		}
		if len(logits) != batch.Size() {
			return nil, fmt.Errorf("forward pass returned %d rows for %d samples", len(logits), batch.Size())
		}
		for i, row := range logits {
			label := batch.Labels[i]
			if labelMap != nil {
				if label < 0 || label >= len(labelMap) {
					return nil, fmt.Errorf("dataset label %d outside label map", label)
				}
				label = labelMap[label]
			}
			scores = append(scores, row)
			labels = append(labels, label)
		}
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("classification evaluation: empty loader")
	}

	numClasses := len(scores[0])
	res := &ClassificationResult{NumClasses: numClasses}

	// Rank accuracies from per-sample score ordering.
	hits := make([]int, len(ranks))
	var predicted []int
	for i, row := range scores {
		order := argsortScoresDesc(row)
		predicted = append(predicted, order[0])
		pos := indexOf(order, labels[i])
		for ri, r := range ranks {
			if pos >= 0 && pos < r {
				hits[ri]++
			}
		}
	}
	res.CMC = make([]float64, len(ranks))
	for ri := range ranks {
		res.CMC[ri] = float64(hits[ri]) / float64(len(scores))
	}

	res.MAP = classificationMAP(scores, labels, numClasses)

	if numClasses <= ConfusionMatrixLimit {
		res.ConfusionMatrix = confusionMatrix(predicted, labels, numClasses)
	}
	return res, nil
}

// classificationMAP averages, over classes with at least one positive sample,
// the average precision of ranking all samples by that class's score.
func classificationMAP(scores [][]float32, labels []int, numClasses int) float64 {
	var sum float64
	classes := 0
	for c := 0; c < numClasses; c++ {
		col := make([]float64, len(scores))
		positives := 0
		for i := range scores {
			col[i] = -float64(scores[i][c]) // ascending sort => descending score
			if labels[i] == c {
				positives++
			}
		}
		if positives == 0 {
			continue
		}
		order := argsortRow(col)
		matches := make([]bool, len(order))
		for pos, i := range order {
			matches[pos] = labels[i] == c
		}
		sum += averagePrecision(matches)
		classes++
	}
	if classes == 0 {
		return 0
	}
	return sum / float64(classes)
}

func confusionMatrix(predicted, labels []int, numClasses int) [][]float64 {
	counts := make([][]float64, numClasses)
	for i := range counts {
		counts[i] = make([]float64, numClasses)
	}
	for i := range labels {
		if labels[i] < 0 || labels[i] >= numClasses || predicted[i] < 0 || predicted[i] >= numClasses {
			continue
		}
		counts[labels[i]][predicted[i]]++
	}
	for _, row := range counts {
		var total float64
		for _, v := range row {
			total += v
		}
		if total == 0 {
			continue
		}
		for j := range row {
			row[j] /= total
		}
	}
	return counts
}

func argsortScoresDesc(row []float32) []int {
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return row[idx[a]] > row[idx[b]] })
	return idx
}

func indexOf(order []int, target int) int {
	for pos, v := range order {
		if v == target {
			return pos
		}
	}
	return -1
}
