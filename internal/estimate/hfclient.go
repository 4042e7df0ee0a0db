package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultHFBaseURL = "https://huggingface.co"

// HFClient fetches model metadata from the HuggingFace API.
type HFClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHFClient creates a new HuggingFace API client.
func NewHFClient() *HFClient {
	return &HFClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultHFBaseURL,
	}
}

// NewHFClientWithEndpoint targets a HuggingFace mirror instead of huggingface.co.
func NewHFClientWithEndpoint(endpoint string) *HFClient {
	c := NewHFClient()
	if endpoint != "" {
		c.baseURL = strings.TrimRight(endpoint, "/")
	}
	return c
}

// hfModelResponse is the subset of the HuggingFace /api/models response we need.
type hfModelResponse struct {
	Safetensors *struct {
		Parameters map[string]int64 `json:"parameters"`
		Total      int64            `json:"total"`
	} `json:"safetensors"`
	Config *struct {
		ModelType string `json:"model_type"`
	} `json:"config"`
	// Gated is false for public models, or "auto"/"manual" for gated models.
	Gated any `json:"gated"`
}

// hfConfigJSON is the subset of a model's config.json we need.
type hfConfigJSON struct {
	HiddenSize            int    `json:"hidden_size"`
	IntermediateSize      int    `json:"intermediate_size"`
	NumAttentionHeads     int    `json:"num_attention_heads"`
	NumKeyValueHeads      int    `json:"num_key_value_heads"`
	NumHiddenLayers       int    `json:"num_hidden_layers"`
	NumLocalExperts       int    `json:"num_local_experts"`
	NumExpertsPerTok      int    `json:"num_experts_per_tok"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	VocabSize             int    `json:"vocab_size"`
	TorchDtype            string `json:"torch_dtype"`
	ModelType             string `json:"model_type"`
}

// FetchModelConfig fetches model metadata from HuggingFace and returns a
// ModelConfig. The safetensors metadata and config.json are requested
// concurrently.
func (c *HFClient) FetchModelConfig(ctx context.Context, modelID, hfToken string) (*ModelConfig, error) {
	var (
		model     hfModelResponse
		config    hfConfigJSON
		configErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url := fmt.Sprintf("%s/api/models/%s?expand[]=safetensors", c.baseURL, modelID)
		if err := c.doGet(gctx, url, hfToken, &model); err != nil {
			return fmt.Errorf("fetch model info: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// A config.json failure is reported after both requests finish so a
		// gated model can be explained from the model info.
		url := fmt.Sprintf("%s/%s/resolve/main/config.json", c.baseURL, modelID)
		if err := c.doGet(gctx, url, hfToken, &config); err != nil {
			configErr = fmt.Errorf("fetch config.json: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if configErr != nil {
		if isGated(model.Gated) {
			return nil, &HFError{
				StatusCode: http.StatusForbidden,
				Message:    "model is gated on HuggingFace; provide an HF token with access",
			}
		}
		return nil, configErr
	}

	cfg := &ModelConfig{
		HiddenSize:            config.HiddenSize,
		IntermediateSize:      config.IntermediateSize,
		NumAttentionHeads:     config.NumAttentionHeads,
		NumKeyValueHeads:      config.NumKeyValueHeads,
		NumHiddenLayers:       config.NumHiddenLayers,
		NumLocalExperts:       config.NumLocalExperts,
		NumExpertsPerTok:      config.NumExpertsPerTok,
		MaxPositionEmbeddings: config.MaxPositionEmbeddings,
		VocabSize:             config.VocabSize,
		TorchDtype:            config.TorchDtype,
		ModelType:             config.ModelType,
	}
	if model.Safetensors != nil {
		cfg.ParameterCount = model.Safetensors.Total
	}
	if model.Config != nil && cfg.ModelType == "" {
		cfg.ModelType = model.Config.ModelType
	}

	// Default num_key_value_heads to num_attention_heads if not set (non-GQA models).
	if cfg.NumKeyValueHeads == 0 {
		cfg.NumKeyValueHeads = cfg.NumAttentionHeads
	}

	return cfg, nil
}

func (c *HFClient) doGet(ctx context.Context, url, hfToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if hfToken != "" {
		req.Header.Set("Authorization", "Bearer "+hfToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &HFError{StatusCode: resp.StatusCode, Message: "model is gated; provide an HF token with access"}
	}
	if resp.StatusCode == http.StatusNotFound {
		msg := "model not found on HuggingFace"
		if hfToken == "" {
			msg += "; if this is a private or gated model, provide an HF token"
		}
		return &HFError{StatusCode: resp.StatusCode, Message: msg}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HFError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// isGated returns true if the HuggingFace gated field indicates the model is gated.
func isGated(v any) bool {
	switch g := v.(type) {
	case bool:
		return g
	case string:
		return g != "" && g != "false"
	default:
		return false
	}
}

// HFError represents an error from the HuggingFace API.
type HFError struct {
	StatusCode int
	Message    string
}

func (e *HFError) Error() string {
	return fmt.Sprintf("huggingface API %d: %s", e.StatusCode, e.Message)
}
