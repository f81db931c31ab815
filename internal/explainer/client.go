package explainer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"backend/internal/models"
)

// Client is a client for the Explainer Service API. The service hosts the
// actual SHAP/LIME implementations and the trained model artifacts; this core
// only consumes them as capabilities.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// RankedFeature is one raw importance entry as the explainer service emits it.
type RankedFeature struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// GlobalExplainRequest asks for aggregate importance over a sample set.
type GlobalExplainRequest struct {
	ModelID    string `json:"model_id"`
	Method     string `json:"method"`
	SampleSize int    `json:"sample_size"`
	Seed       int64  `json:"seed"`
}

// LocalExplainRequest asks for importance on one evaluation-set instance.
type LocalExplainRequest struct {
	ModelID       string `json:"model_id"`
	Method        string `json:"method"`
	InstanceIndex int    `json:"instance_index"`
	Seed          int64  `json:"seed"`
}

// VectorExplainRequest asks for importance on an arbitrary feature vector.
// Used by the quality scorer to re-explain perturbed instances.
type VectorExplainRequest struct {
	ModelID  string    `json:"model_id"`
	Method   string    `json:"method"`
	Features []float64 `json:"features"`
	Seed     int64     `json:"seed"`
}

// ExplainResponse is the raw ranked importance list from the service.
type ExplainResponse struct {
	Features []RankedFeature `json:"features"`
}

// PredictRequest asks for positive-class probabilities on feature rows.
type PredictRequest struct {
	ModelID   string      `json:"model_id"`
	Instances [][]float64 `json:"instances"`
}

// PredictResponse carries predict_proba results for binary classification.
type PredictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// SampleRequest draws a seeded evaluation sample from the model's test set.
type SampleRequest struct {
	ModelID    string `json:"model_id"`
	SampleSize int    `json:"sample_size"`
	Seed       int64  `json:"seed"`
}

// EvaluationSample is a slice of the model's held-out evaluation data.
type EvaluationSample struct {
	FeatureNames []string    `json:"feature_names"`
	Rows         [][]float64 `json:"rows"`
}

// Instance is one evaluation-set row with its label and prediction.
type Instance struct {
	InstanceIndex  int       `json:"instance_index"`
	FeatureNames   []string  `json:"feature_names"`
	Features       []float64 `json:"features"`
	TrueLabel      string    `json:"true_label"`
	PredictedLabel string    `json:"predicted_label"`
	Confidence     float64   `json:"confidence"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded int    `json:"models_loaded"`
	Message      string `json:"message"`
}

// NewClient creates a new Explainer Service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GlobalExplain computes aggregate feature importance over a seeded sample of
// the model's evaluation set. Deterministic for a fixed seed.
func (c *Client) GlobalExplain(ctx context.Context, req *GlobalExplainRequest) (*ExplainResponse, error) {
	var result ExplainResponse
	if err := c.post(ctx, "/api/v1/explain/global", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LocalExplain computes feature importance for one predicted instance.
func (c *Client) LocalExplain(ctx context.Context, req *LocalExplainRequest) (*ExplainResponse, error) {
	var result ExplainResponse
	if err := c.post(ctx, "/api/v1/explain/local", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VectorExplain computes feature importance for an arbitrary feature vector.
func (c *Client) VectorExplain(ctx context.Context, req *VectorExplainRequest) (*ExplainResponse, error) {
	var result ExplainResponse
	if err := c.post(ctx, "/api/v1/explain/vector", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Predict returns positive-class probabilities for the given feature rows.
func (c *Client) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	var result PredictResponse
	if err := c.post(ctx, "/api/v1/predict", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Sample draws a seeded sample from the model's evaluation set.
func (c *Client) Sample(ctx context.Context, req *SampleRequest) (*EvaluationSample, error) {
	var result EvaluationSample
	if err := c.post(ctx, "/api/v1/sample", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetInstance fetches one evaluation-set instance with its prediction.
func (c *Client) GetInstance(ctx context.Context, modelID string, instanceIndex int) (*Instance, error) {
	url := fmt.Sprintf("%s/api/v1/models/%s/instances/%d", c.baseURL, modelID, instanceIndex)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("explainer service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Instance
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// HealthCheck checks if the explainer service is healthy.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("explainer service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, out interface{}) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("explainer service returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// NormalizeImportance converts a raw ranked feature list into the canonical
// stored form: sorted by absolute weight descending (ties by feature name),
// top MaxRankedFeatures entries retained, the remainder folded into a single
// aggregate entry.
func NormalizeImportance(raw []RankedFeature) models.FeatureImportanceList {
	sorted := make([]RankedFeature, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		wi, wj := abs(sorted[i].Weight), abs(sorted[j].Weight)
		if wi != wj {
			return wi > wj
		}
		return sorted[i].Feature < sorted[j].Feature
	})

	list := make(models.FeatureImportanceList, 0, len(sorted))
	var other float64
	for i, f := range sorted {
		if i < models.MaxRankedFeatures {
			list = append(list, models.FeatureWeight{Feature: f.Feature, Weight: f.Weight})
			continue
		}
		other += abs(f.Weight)
	}
	if len(sorted) > models.MaxRankedFeatures {
		list = append(list, models.FeatureWeight{Feature: models.OtherFeaturesKey, Weight: other})
	}
	return list
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
