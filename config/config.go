// Package config loads engine and run settings from YAML files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openvinotoolkit/deep-object-reid/engine"
)

// Interval mirrors engine.EpochInterval for YAML.
type Interval struct {
	First   *int `yaml:"first"`
	Last    *int `yaml:"last"`
	Inside  bool `yaml:"inside"`
	Outside bool `yaml:"outside"`
}

// Config is the file layout for a training/evaluation run.
type Config struct {
	Engine struct {
		FreezeAuxModels   bool              `yaml:"freeze_aux_models"`
		FreezeInterval    *Interval         `yaml:"freeze_interval"`
		MutualOffInterval *Interval         `yaml:"mutual_off_interval"`
		SaveCheckpoints   bool              `yaml:"save_checkpoints"`
		EarlyStopping     bool              `yaml:"early_stopping"`
		TrainPatience     int               `yaml:"train_patience"`
		FloorLR           float64           `yaml:"floor_lr"`
		InitialLR         float64           `yaml:"initial_lr"`
		RunInfo           map[string]string `yaml:"run_info"`
	} `yaml:"engine"`

	Run struct {
		SaveDir      string   `yaml:"save_dir"`
		MaxEpoch     int      `yaml:"max_epoch"`
		StartEpoch   int      `yaml:"start_epoch"`
		PrintFreq    int      `yaml:"print_freq"`
		FixbaseEpoch int      `yaml:"fixbase_epoch"`
		OpenLayers   []string `yaml:"open_layers"`
		StartEval    int      `yaml:"start_eval"`
		EvalFreq     int      `yaml:"eval_freq"`
		TestOnly     bool     `yaml:"test_only"`
		LRSearch     bool     `yaml:"lr_search"`
	} `yaml:"run"`

	Eval struct {
		DistMetric        string  `yaml:"dist_metric"`
		NormalizeFeature  bool    `yaml:"normalize_feature"`
		FlipEval          bool    `yaml:"flip_eval"`
		Rerank            bool    `yaml:"rerank"`
		RerankK1          int     `yaml:"rerank_k1"`
		RerankK2          int     `yaml:"rerank_k2"`
		RerankLambda      float64 `yaml:"rerank_lambda"`
		Ranks             []int   `yaml:"ranks"`
		SingleGalleryShot bool    `yaml:"single_gallery_shot"`
		VisRank           bool    `yaml:"visrank"`
		VisRankTopK       int     `yaml:"visrank_topk"`
	} `yaml:"eval"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for name, iv := range map[string]*Interval{
		"freeze_interval":     c.Engine.FreezeInterval,
		"mutual_off_interval": c.Engine.MutualOffInterval,
	} {
		if iv != nil && iv.First == nil && iv.Last == nil {
			return fmt.Errorf("config: %s needs at least one of first/last", name)
		}
	}
	if c.Run.MaxEpoch < 0 {
		return fmt.Errorf("config: max_epoch must not be negative")
	}
	return nil
}

// EngineConfig converts the file layout into engine construction settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		FreezeAuxModels:   c.Engine.FreezeAuxModels,
		FreezeInterval:    c.Engine.FreezeInterval.toEngine(),
		MutualOffInterval: c.Engine.MutualOffInterval.toEngine(),
		SaveCheckpoints:   c.Engine.SaveCheckpoints,
		EarlyStopping:     c.Engine.EarlyStopping,
		TrainPatience:     c.Engine.TrainPatience,
		FloorLR:           c.Engine.FloorLR,
		InitialLR:         c.Engine.InitialLR,
		RunInfo:           c.Engine.RunInfo,
	}
}

// RunOptions converts the file layout into per-run settings.
func (c *Config) RunOptions() engine.RunOptions {
	return engine.RunOptions{
		SaveDir:      c.Run.SaveDir,
		MaxEpoch:     c.Run.MaxEpoch,
		StartEpoch:   c.Run.StartEpoch,
		PrintFreq:    c.Run.PrintFreq,
		FixbaseEpoch: c.Run.FixbaseEpoch,
		OpenLayers:   c.Run.OpenLayers,
		StartEval:    c.Run.StartEval,
		EvalFreq:     c.Run.EvalFreq,
		TestOnly:     c.Run.TestOnly,
		LRSearch:     c.Run.LRSearch,
		Eval: engine.EvalOptions{
			DistMetric:        c.Eval.DistMetric,
			NormalizeFeature:  c.Eval.NormalizeFeature,
			FlipEval:          c.Eval.FlipEval,
			Rerank:            c.Eval.Rerank,
			RerankK1:          c.Eval.RerankK1,
			RerankK2:          c.Eval.RerankK2,
			RerankLambda:      c.Eval.RerankLambda,
			Ranks:             c.Eval.Ranks,
			SingleGalleryShot: c.Eval.SingleGalleryShot,
			VisRank:           c.Eval.VisRank,
			VisRankTopK:       c.Eval.VisRankTopK,
			SaveDir:           c.Run.SaveDir,
		},
	}
}

func (iv *Interval) toEngine() *engine.EpochInterval {
	if iv == nil {
		return nil
	}
	return &engine.EpochInterval{
		First:   iv.First,
		Last:    iv.Last,
		Inside:  iv.Inside,
		Outside: iv.Outside,
	}
}
