package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"backend/internal/explainer"
	"backend/internal/models"

	"go.uber.org/zap"
)

// topKFeatures is how many leading features the faithfulness and robustness
// checks consider.
const topKFeatures = 5

// perturbationRounds is how many deterministic perturbations the robustness
// check averages over.
const perturbationRounds = 3

// noiseFraction scales perturbation noise relative to each feature's spread.
const noiseFraction = 0.01

// QualityScorer computes the three advisory quality dimensions for a
// completed explanation. Every score is deterministic for identical inputs:
// all sampling and noise is driven by the seed derived from the explanation's
// own id. A dimension that cannot be computed comes back nil.
type QualityScorer interface {
	Score(ctx context.Context, expl *models.Explanation, seed int64) (faithfulness, robustness, complexity *float64)
}

type qualityScorer struct {
	client     ExplainerClient
	logger     *zap.Logger
	sampleSize int
}

// NewQualityScorer creates a quality scorer backed by the explainer service's
// prediction capability.
func NewQualityScorer(client ExplainerClient, logger *zap.Logger, sampleSize int) QualityScorer {
	if sampleSize <= 0 {
		sampleSize = 50
	}
	return &qualityScorer{client: client, logger: logger, sampleSize: sampleSize}
}

func (q *qualityScorer) Score(ctx context.Context, expl *models.Explanation, seed int64) (*float64, *float64, *float64) {
	var faithfulness, robustness, complexity *float64

	sample, err := q.client.Sample(ctx, &explainer.SampleRequest{
		ModelID:    expl.ModelID,
		SampleSize: q.sampleSize,
		Seed:       seed,
	})
	if err != nil {
		q.logger.Warn("Quality scoring could not draw an evaluation sample",
			zap.String("explanation_id", expl.ID),
			zap.Error(err))
		sample = nil
	}

	if sample != nil {
		if score, err := q.faithfulness(ctx, expl, sample); err != nil {
			q.logger.Warn("Faithfulness calculation failed",
				zap.String("explanation_id", expl.ID),
				zap.Error(err))
		} else {
			faithfulness = score
		}
	}

	if expl.Scope == models.ScopeLocal && sample != nil {
		if score, err := q.robustness(ctx, expl, sample, seed); err != nil {
			q.logger.Warn("Robustness calculation failed",
				zap.String("explanation_id", expl.ID),
				zap.Error(err))
		} else {
			robustness = score
		}
	}

	if score, err := q.complexity(expl); err != nil {
		q.logger.Warn("Complexity calculation failed",
			zap.String("explanation_id", expl.ID),
			zap.Error(err))
	} else {
		complexity = score
	}

	return faithfulness, robustness, complexity
}

// faithfulness measures agreement between the explanation's top-k ranking and
// the effect of ablating those features to their sample median, blended with
// the mean probability drop itself.
func (q *qualityScorer) faithfulness(ctx context.Context, expl *models.Explanation, sample *explainer.EvaluationSample) (*float64, error) {
	topK := rankedFeatureNames(expl.FeatureImportance, sample.FeatureNames, topKFeatures)
	if len(topK) == 0 {
		return nil, fmt.Errorf("no ranked features overlap the evaluation sample")
	}

	baseResp, err := q.client.Predict(ctx, &explainer.PredictRequest{ModelID: expl.ModelID, Instances: sample.Rows})
	if err != nil {
		return nil, fmt.Errorf("baseline prediction failed: %w", err)
	}

	type ablation struct {
		feature string
		drop    float64
	}
	ablations := make([]ablation, 0, len(topK))
	for _, feature := range topK {
		col := featureColumn(sample.FeatureNames, feature)
		med := median(columnValues(sample.Rows, col))

		ablated := make([][]float64, len(sample.Rows))
		for i, row := range sample.Rows {
			copied := make([]float64, len(row))
			copy(copied, row)
			copied[col] = med
			ablated[i] = copied
		}

		resp, err := q.client.Predict(ctx, &explainer.PredictRequest{ModelID: expl.ModelID, Instances: ablated})
		if err != nil {
			return nil, fmt.Errorf("ablated prediction for %s failed: %w", feature, err)
		}

		var drop float64
		for i := range baseResp.Probabilities {
			drop += baseResp.Probabilities[i] - resp.Probabilities[i]
		}
		drop /= float64(len(baseResp.Probabilities))
		if drop < 0 {
			drop = 0
		}
		ablations = append(ablations, ablation{feature: feature, drop: drop})
	}

	// Rank by ablation effect, ties broken by original feature-name order so
	// repeated scoring never flips equal-effect features.
	byEffect := make([]ablation, len(ablations))
	copy(byEffect, ablations)
	sort.SliceStable(byEffect, func(i, j int) bool {
		if byEffect[i].drop != byEffect[j].drop {
			return byEffect[i].drop > byEffect[j].drop
		}
		return byEffect[i].feature < byEffect[j].feature
	})

	effectPos := make(map[string]int, len(byEffect))
	for i, a := range byEffect {
		effectPos[a.feature] = i
	}

	// Normalized Spearman footrule between importance order and effect order.
	n := len(ablations)
	agreement := 1.0
	if n > 1 {
		var displacement int
		for i, a := range ablations {
			d := i - effectPos[a.feature]
			if d < 0 {
				d = -d
			}
			displacement += d
		}
		maxDisplacement := (n * n) / 2
		agreement = 1 - float64(displacement)/float64(maxDisplacement)
	}

	var drops []float64
	for _, a := range ablations {
		drops = append(drops, a.drop)
	}
	monotonicity := clamp01(mean(drops))

	return floatPtr(clamp01(0.6*agreement + 0.4*monotonicity)), nil
}

// robustness measures how stable the local top-k ranking is when the instance
// is nudged by deterministic noise scaled to each feature's sample spread.
func (q *qualityScorer) robustness(ctx context.Context, expl *models.Explanation, sample *explainer.EvaluationSample, seed int64) (*float64, error) {
	if expl.InstanceIndex == nil {
		return nil, fmt.Errorf("local explanation has no instance index")
	}
	instance, err := q.client.GetInstance(ctx, expl.ModelID, *expl.InstanceIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instance: %w", err)
	}

	// Sized to the value vector, not the name list: the two can disagree in a
	// malformed service response and the noise loop indexes by value position.
	stds := make([]float64, len(instance.Features))
	for col := range stds {
		if col < len(sample.FeatureNames) {
			stds[col] = populationStd(columnValues(sample.Rows, col))
		}
	}

	original := rankedFeatureNames(expl.FeatureImportance, instance.FeatureNames, topKFeatures)
	if len(original) == 0 {
		return nil, fmt.Errorf("no ranked features overlap the instance")
	}

	var overlaps []float64
	for round := 1; round <= perturbationRounds; round++ {
		rng := rand.New(rand.NewSource(seed + int64(round)))
		perturbed := make([]float64, len(instance.Features))
		for col, v := range instance.Features {
			perturbed[col] = v + rng.NormFloat64()*noiseFraction*stds[col]
		}

		resp, err := q.client.VectorExplain(ctx, &explainer.VectorExplainRequest{
			ModelID:  expl.ModelID,
			Method:   expl.Method,
			Features: perturbed,
			Seed:     seed,
		})
		if err != nil {
			return nil, fmt.Errorf("perturbed explanation failed: %w", err)
		}

		normalized := explainer.NormalizeImportance(resp.Features)
		perturbedTop := rankedFeatureNames(normalized, instance.FeatureNames, topKFeatures)

		overlaps = append(overlaps, topSetOverlap(original, perturbedTop))
	}

	return floatPtr(clamp01(mean(overlaps))), nil
}

// complexity is the inverse of the normalized entropy of the importance
// weights: a concentrated explanation scores high, a diffuse one low.
func (q *qualityScorer) complexity(expl *models.Explanation) (*float64, error) {
	var weights []float64
	for _, fw := range expl.FeatureImportance {
		if fw.Feature == models.OtherFeaturesKey {
			continue
		}
		weights = append(weights, math.Abs(fw.Weight))
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("explanation has no feature weights")
	}
	if len(weights) == 1 {
		return floatPtr(1.0), nil
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("all feature weights are zero")
	}

	var entropy float64
	for _, w := range weights {
		p := w / total
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}
	maxEntropy := math.Log(float64(len(weights)))

	return floatPtr(clamp01(1 - entropy/maxEntropy)), nil
}

// rankedFeatureNames returns up to k ranked feature names that exist in the
// given feature-name universe, skipping the aggregate bucket.
func rankedFeatureNames(list models.FeatureImportanceList, universe []string, k int) []string {
	known := make(map[string]bool, len(universe))
	for _, name := range universe {
		known[name] = true
	}
	var out []string
	for _, fw := range list {
		if fw.Feature == models.OtherFeaturesKey || !known[fw.Feature] {
			continue
		}
		out = append(out, fw.Feature)
		if len(out) == k {
			break
		}
	}
	return out
}

func featureColumn(names []string, feature string) int {
	for i, name := range names {
		if name == feature {
			return i
		}
	}
	return -1
}

func columnValues(rows [][]float64, col int) []float64 {
	if col < 0 {
		return nil
	}
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		if col < len(row) {
			values = append(values, row[col])
		}
	}
	return values
}

func topSetOverlap(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	inA := make(map[string]bool, len(a))
	for _, f := range a {
		inA[f] = true
	}
	var shared int
	for _, f := range b {
		if inA[f] {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}
