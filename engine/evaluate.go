package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/openvinotoolkit/deep-object-reid/data"
	"github.com/openvinotoolkit/deep-object-reid/metrics"
)

// EvalOptions carries evaluation-pass settings.
type EvalOptions struct {
	DistMetric       string // metrics.MetricEuclidean (default) or metrics.MetricCosine
	NormalizeFeature bool
	// FlipEval averages each embedding with the embedding of the
	// horizontally flipped input.
	FlipEval bool
	Rerank   bool
	RerankK1 int
	RerankK2 int
	// RerankLambda blends the original distance into the Jaccard distance.
	RerankLambda float64
	Ranks        []int // CMC ranks to report; default 1, 5, 10, 20
	// SingleGalleryShot selects the averaged one-instance-per-identity CMC
	// protocol for datasets that demand it.
	SingleGalleryShot bool
	// VisRank dumps top-k ranked gallery indices per query; valid only in
	// test-only runs.
	VisRank     bool
	VisRankTopK int
	SaveDir     string
}

func (o *EvalOptions) defaults() {
	if o.DistMetric == "" {
		o.DistMetric = metrics.MetricEuclidean
	}
	if len(o.Ranks) == 0 {
		o.Ranks = []int{1, 5, 10, 20}
	}
	if o.RerankLambda == 0 {
		o.RerankLambda = metrics.DefaultRerankLambda
	}
	if o.VisRankTopK <= 0 {
		o.VisRankTopK = 10
	}
}

// Test evaluates every registered model on every configured test dataset and
// returns the metric tuple of the main (first-registered) model. Later models
// are still evaluated for logging, but their results never override the
// propagated one. Any evaluation failure is fatal for the run: no
// partial-failure contract exists upstream.
func (e *Engine) Test(epoch int, opts EvalOptions) (EvalResult, error) {
	opts.defaults()

	main, err := e.mainUnit()
	if err != nil {
		return EvalResult{}, err
	}

	e.setModeAll(ModeEval)

	var result EvalResult
	for _, datasetName := range e.dm.TestDatasets() {
		split, err := e.dm.TestSplit(datasetName)
		if err != nil {
			return EvalResult{}, err
		}
		domain := "target"
		if e.dm.IsSource(datasetName) {
			domain = "source"
		}
		e.log.Info("evaluating dataset", "dataset", datasetName, "domain", domain, "epoch", epoch+1)

		for _, name := range e.names {
			unit := e.units[name]
			var cur *EvalResult

			switch {
			case unit.Model.Capability() == CapClassification:
				cur, err = e.evaluateClassification(unit, split, datasetName, opts)
			case unit.Model.Capability() == CapContrastive:
				// trained jointly, never scored here
			case split.Kind == data.KindPairwise:
				err = e.evaluatePairwise(unit, split, datasetName)
			default:
				cur, err = e.evaluateRetrieval(unit, split, datasetName, opts)
			}
			if err != nil {
				return EvalResult{}, fmt.Errorf("evaluate %q on %q: %w", name, datasetName, err)
			}

			if name == main.Name && cur != nil {
				result = *cur
			}
		}
	}
	return result, nil
}

// evaluateClassification scores per-class logits, remapping dataset labels
// into the model's label space when the dataset classes are a strict subset
// of the trained classes.
func (e *Engine) evaluateClassification(unit *ModelUnit, split *data.TestSplit, datasetName string, opts EvalOptions) (*EvalResult, error) {
	labelMap := metrics.LabelMap(split.Classes, unit.Model.Classes())

	res, err := metrics.EvaluateClassification(split.Query, unit.Model.Forward, opts.Ranks, labelMap)
	if err != nil {
		return nil, err
	}

	e.log.Info("classification results",
		"model", unit.Name, "dataset", datasetName, "mAP", fmt.Sprintf("%.2f%%", res.MAP*100))
	for i, r := range opts.Ranks {
		e.log.Info("classification rank", "model", unit.Name,
			"rank", r, "accuracy", fmt.Sprintf("%.2f%%", res.CMC[i]*100))
	}
	if res.ConfusionMatrix != nil {
		e.log.Info("confusion matrix", "model", unit.Name, "matrix", res.ConfusionMatrix)
	}

	out := &EvalResult{Top1: res.CMC[0], MAP: res.MAP}
	if len(res.CMC) > 1 {
		out.Top5 = res.CMC[1]
	}
	return out, nil
}

// evaluatePairwise scores a verification pair set. The result is purely
// informational and never feeds checkpoint selection.
func (e *Engine) evaluatePairwise(unit *ModelUnit, split *data.TestSplit, datasetName string) error {
	res, err := metrics.EvaluatePairwise(split.Pairs, unit.Model.Forward)
	if err != nil {
		return err
	}
	e.log.Info("pairwise results",
		"model", unit.Name,
		"dataset", datasetName,
		"accuracy", fmt.Sprintf("%.2f%%", res.OverallAcc*100),
		"same_accuracy", fmt.Sprintf("%.2f%%", res.SameAcc*100),
		"diff_accuracy", fmt.Sprintf("%.2f%%", res.DiffAcc*100),
		"auc", fmt.Sprintf("%.4f", res.AUC),
		"avg_threshold", fmt.Sprintf("%.2f", res.AvgThreshold))
	return nil
}

// evaluateRetrieval extracts query and gallery embeddings, builds the
// distance matrix (optionally refined by k-reciprocal re-ranking), and
// computes the CMC curve and mean average precision.
func (e *Engine) evaluateRetrieval(unit *ModelUnit, split *data.TestSplit, datasetName string, opts EvalOptions) (*EvalResult, error) {
	qf, qPids, qCams, err := e.extractFeatures(unit.Model, split.Query, opts)
	if err != nil {
		return nil, fmt.Errorf("extract query features: %w", err)
	}
	gf, gPids, gCams, err := e.extractFeatures(unit.Model, split.Gallery, opts)
	if err != nil {
		return nil, fmt.Errorf("extract gallery features: %w", err)
	}

	dist, err := metrics.DistanceMatrix(qf, gf, opts.DistMetric)
	if err != nil {
		return nil, err
	}

	if opts.Rerank {
		qq, err := metrics.DistanceMatrix(qf, qf, opts.DistMetric)
		if err != nil {
			return nil, err
		}
		gg, err := metrics.DistanceMatrix(gf, gf, opts.DistMetric)
		if err != nil {
			return nil, err
		}
		dist = metrics.ReRank(dist, qq, gg, opts.RerankK1, opts.RerankK2, opts.RerankLambda)
	}

	maxRank := 0
	for _, r := range opts.Ranks {
		if r > maxRank {
			maxRank = r
		}
	}
	cmc, mAP, err := metrics.EvaluateRank(dist, qPids, gPids, qCams, gCams, maxRank, opts.SingleGalleryShot)
	if err != nil {
		return nil, err
	}

	e.log.Info("retrieval results",
		"model", unit.Name, "dataset", datasetName, "mAP", fmt.Sprintf("%.2f%%", mAP*100))
	for _, r := range opts.Ranks {
		if r <= len(cmc) {
			e.log.Info("retrieval rank", "model", unit.Name,
				"rank", r, "accuracy", fmt.Sprintf("%.2f%%", cmc[r-1]*100))
		}
	}

	if opts.VisRank {
		if err := dumpRankedResults(opts.SaveDir, datasetName, unit.Name, dist, opts.VisRankTopK); err != nil {
			return nil, err
		}
	}

	out := &EvalResult{Top1: cmc[0], MAP: mAP}
	if len(cmc) >= 5 {
		out.Top5 = cmc[4]
	}
	return out, nil
}

// extractFeatures runs the model over a loader, optionally averaging each
// embedding with its horizontally flipped counterpart and L2-normalizing.
func (e *Engine) extractFeatures(m Model, loader data.Loader, opts EvalOptions) ([][]float32, []int, []int, error) {
	var features [][]float32
	var pids, camids []int

	loader.Reset()
	for {
		batch, err := loader.Next()
		if err != nil {
			return nil, nil, nil, err
		}
		if batch == nil {
			break
		}
		emb, err := m.Forward(batch)
		if err != nil {
			return nil, nil, nil, err
		}
		if opts.FlipEval {
			flipped, err := m.Forward(batch.FlipHorizontal())
			if err != nil {
				return nil, nil, nil, err
			}
			for i := range emb {
				for j := range emb[i] {
					emb[i][j] = 0.5 * (emb[i][j] + flipped[i][j])
				}
			}
		}
		features = append(features, emb...)
		pids = append(pids, batch.Labels...)
		camids = append(camids, batch.CamIDs...)
	}
	if len(features) == 0 {
		return nil, nil, nil, fmt.Errorf("empty loader")
	}

	if opts.NormalizeFeature {
		features = metrics.NormalizeRows(features)
	}
	return features, pids, camids, nil
}

// dumpRankedResults writes the top-k ranked gallery indices per query as JSON
// under the save directory.
func dumpRankedResults(saveDir, datasetName, modelName string, dist [][]float64, topK int) error {
	ranked := make([][]int, len(dist))
	for qi, row := range dist {
		order := make([]int, len(row))
		for i := range order {
			order[i] = i
		}
		// selection of topK nearest is enough; full sort keeps it simple
		sortByDistance(order, row)
		if topK < len(order) {
			order = order[:topK]
		}
		ranked[qi] = order
	}

	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return fmt.Errorf("create ranked-results directory: %w", err)
	}
	path := filepath.Join(saveDir, fmt.Sprintf("visrank_%s_%s.json", datasetName, modelName))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ranked-results file: %w", err)
	}
	defer file.Close()

	payload := struct {
		Dataset string  `json:"dataset"`
		Model   string  `json:"model"`
		TopK    int     `json:"top_k"`
		Ranked  [][]int `json:"ranked"`
	}{datasetName, modelName, topK, ranked}

	if err := json.NewEncoder(file).Encode(&payload); err != nil {
		return fmt.Errorf("encode ranked results: %w", err)
	}
	return nil
}

func sortByDistance(order []int, row []float64) {
	sort.SliceStable(order, func(a, b int) bool { return row[order[a]] < row[order[b]] })
}
