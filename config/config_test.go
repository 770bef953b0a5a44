package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const fullConfig = `
engine:
  freeze_aux_models: true
  freeze_interval:
    first: 1
    last: 10
    inside: true
  save_checkpoints: true
  early_stopping: true
  train_patience: 5
  floor_lr: 0.00001
  initial_lr: 0.0035
  run_info:
    experiment: baseline
run:
  save_dir: /tmp/run
  max_epoch: 40
  start_epoch: 0
  print_freq: 20
  fixbase_epoch: 2
  open_layers: [classifier]
  start_eval: 10
  eval_freq: 5
eval:
  dist_metric: cosine
  normalize_feature: true
  flip_eval: true
  rerank: true
  rerank_k1: 20
  rerank_k2: 6
  rerank_lambda: 0.3
  ranks: [1, 5, 10]
`

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	ec := cfg.EngineConfig()
	assert.True(t, ec.FreezeAuxModels)
	require.NotNil(t, ec.FreezeInterval)
	require.NotNil(t, ec.FreezeInterval.First)
	assert.Equal(t, 1, *ec.FreezeInterval.First)
	require.NotNil(t, ec.FreezeInterval.Last)
	assert.Equal(t, 10, *ec.FreezeInterval.Last)
	assert.True(t, ec.FreezeInterval.Inside)
	assert.Nil(t, ec.MutualOffInterval)
	assert.True(t, ec.SaveCheckpoints)
	assert.True(t, ec.EarlyStopping)
	assert.Equal(t, 5, ec.TrainPatience)
	assert.InDelta(t, 1e-5, ec.FloorLR, 1e-12)
	assert.InDelta(t, 0.0035, ec.InitialLR, 0)
	assert.Equal(t, "baseline", ec.RunInfo["experiment"])

	ro := cfg.RunOptions()
	assert.Equal(t, "/tmp/run", ro.SaveDir)
	assert.Equal(t, 40, ro.MaxEpoch)
	assert.Equal(t, 20, ro.PrintFreq)
	assert.Equal(t, 2, ro.FixbaseEpoch)
	assert.Equal(t, []string{"classifier"}, ro.OpenLayers)
	assert.Equal(t, 10, ro.StartEval)
	assert.Equal(t, 5, ro.EvalFreq)

	assert.Equal(t, "cosine", ro.Eval.DistMetric)
	assert.True(t, ro.Eval.NormalizeFeature)
	assert.True(t, ro.Eval.FlipEval)
	assert.True(t, ro.Eval.Rerank)
	assert.Equal(t, []int{1, 5, 10}, ro.Eval.Ranks)
	assert.Equal(t, "/tmp/run", ro.Eval.SaveDir, "ranked-results dumps land in the run's save dir")
}

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "run:\n  max_epoch: 1\n"))
	require.NoError(t, err)

	ec := cfg.EngineConfig()
	assert.False(t, ec.FreezeAuxModels)
	assert.Nil(t, ec.FreezeInterval)
	assert.Equal(t, 1, cfg.RunOptions().MaxEpoch)
}

func TestLoadRejectsUnboundedInterval(t *testing.T) {
	body := `
engine:
  freeze_interval:
    inside: true
run:
  max_epoch: 1
`
	_, err := Load(writeConfig(t, body))
	assert.Error(t, err)
}

func TestLoadRejectsNegativeMaxEpoch(t *testing.T) {
	_, err := Load(writeConfig(t, "run:\n  max_epoch: -3\n"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "run: [not a mapping"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
