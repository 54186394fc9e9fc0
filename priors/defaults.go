package priors

import (
	"github.com/ptops/ptriage/model"
	"github.com/ptops/ptriage/numerics"
)

// Default returns the embedded prior set.
//
// The shape of the defaults encodes the class semantics: abandoned processes
// are old, orphaned, idle on CPU/IO/net; useful_bad processes burn CPU;
// zombies are identified almost entirely by the scheduler state flag, so
// their binary-feature priors stay near flat.
func Default() *Priors {
	return &Priors{
		PriorStrength: 10,
		Classes: map[string]*ClassPrior{
			model.ClassUseful.String(): {
				Weight: 1,
				Features: map[string]numerics.BetaParams{
					FeatureCpu:      {Alpha: 3, Beta: 2},
					FeatureOrphan:   {Alpha: 1, Beta: 9},
					FeatureTTY:      {Alpha: 4, Beta: 6},
					FeatureNet:      {Alpha: 5, Beta: 5},
					FeatureIOActive: {Alpha: 5, Beta: 5},
				},
				AgeWeights:   [NumAgeBuckets]float64{0.30, 0.35, 0.20, 0.15},
				StateWeights: [model.NumStateFlags]float64{0.30, 0.60, 0.05, 0.001, 0.01, 0.03, 0.009},
				CategoryWeights: map[string]float64{
					"web_server":  0.20,
					"database":    0.20,
					"shell":       0.15,
					"build_tool":  0.10,
					"editor":      0.10,
					"test_runner": 0.05,
					"script":      0.10,
				},
				CategoryDefault: 0.10,
			},
			model.ClassUsefulBad.String(): {
				Weight: 1,
				Features: map[string]numerics.BetaParams{
					FeatureCpu:      {Alpha: 6, Beta: 2},
					FeatureOrphan:   {Alpha: 1, Beta: 9},
					FeatureTTY:      {Alpha: 3, Beta: 7},
					FeatureNet:      {Alpha: 6, Beta: 4},
					FeatureIOActive: {Alpha: 6, Beta: 4},
				},
				AgeWeights:   [NumAgeBuckets]float64{0.35, 0.35, 0.20, 0.10},
				StateWeights: [model.NumStateFlags]float64{0.55, 0.35, 0.07, 0.001, 0.01, 0.015, 0.004},
				CategoryWeights: map[string]float64{
					"web_server":  0.15,
					"database":    0.15,
					"build_tool":  0.20,
					"test_runner": 0.05,
					"script":      0.20,
				},
				CategoryDefault: 0.10,
			},
			model.ClassAbandoned.String(): {
				Weight: 1,
				Features: map[string]numerics.BetaParams{
					FeatureCpu:      {Alpha: 1.2, Beta: 8},
					FeatureOrphan:   {Alpha: 6, Beta: 2},
					FeatureTTY:      {Alpha: 1, Beta: 19},
					FeatureNet:      {Alpha: 1, Beta: 9},
					FeatureIOActive: {Alpha: 1, Beta: 9},
				},
				AgeWeights:   [NumAgeBuckets]float64{0.10, 0.20, 0.35, 0.35},
				StateWeights: [model.NumStateFlags]float64{0.05, 0.55, 0.05, 0.001, 0.05, 0.28, 0.019},
				CategoryWeights: map[string]float64{
					"test_runner": 0.25,
					"build_tool":  0.20,
					"script":      0.20,
					"editor":      0.10,
					"web_server":  0.05,
					"database":    0.02,
				},
				CategoryDefault: 0.10,
			},
			model.ClassZombie.String(): {
				// Zombies are state-driven; binary features stay flat so the
				// state flag decides.
				Weight: 1,
				Features: map[string]numerics.BetaParams{
					FeatureCpu:      {Alpha: 1, Beta: 1},
					FeatureOrphan:   {Alpha: 1, Beta: 1},
					FeatureTTY:      {Alpha: 1, Beta: 1},
					FeatureNet:      {Alpha: 1, Beta: 1},
					FeatureIOActive: {Alpha: 1, Beta: 1},
				},
				AgeWeights:   [NumAgeBuckets]float64{0.25, 0.25, 0.25, 0.25},
				StateWeights: [model.NumStateFlags]float64{0.005, 0.02, 0.005, 0.90, 0.02, 0.02, 0.03},
				CategoryWeights: map[string]float64{
					"test_runner": 0.10,
					"script":      0.15,
				},
				CategoryDefault: 0.10,
			},
		},
	}
}
