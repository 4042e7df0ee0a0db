// Package estimate approximates training FLOPs per sample from model
// architecture metadata, for models that are not in the reference table.
package estimate

import (
	"errors"
	"fmt"
)

// ErrIncompleteConfig reports a model config lacking the fields the estimate needs.
var ErrIncompleteConfig = errors.New("incomplete model config")

// ModelConfig holds architecture metadata fetched from HuggingFace.
type ModelConfig struct {
	ParameterCount        int64  `json:"parameter_count"`
	HiddenSize            int    `json:"hidden_size"`
	IntermediateSize      int    `json:"intermediate_size,omitempty"`
	NumAttentionHeads     int    `json:"num_attention_heads"`
	NumKeyValueHeads      int    `json:"num_key_value_heads"`
	NumHiddenLayers       int    `json:"num_hidden_layers"`
	NumLocalExperts       int    `json:"num_local_experts,omitempty"`
	NumExpertsPerTok      int    `json:"num_experts_per_tok,omitempty"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	VocabSize             int    `json:"vocab_size,omitempty"`
	TorchDtype            string `json:"torch_dtype"`
	ModelType             string `json:"model_type"`
}

// IsMoE reports whether the config describes a mixture-of-experts model.
func (c ModelConfig) IsMoE() bool {
	return c.NumLocalExperts > 1 && c.NumExpertsPerTok > 0 && c.IntermediateSize > 0
}

// Estimate is an approximate FLOPs-per-sample figure and its breakdown.
type Estimate struct {
	SeqLen         int     `json:"seq_len"`
	TotalParams    int64   `json:"total_params"`
	ActiveParams   int64   `json:"active_params"`
	ParamsInferred bool    `json:"params_inferred"`
	DenseFLOPs     float64 `json:"dense_flops"`
	AttentionFLOPs float64 `json:"attention_flops"`
	FLOPsPerSample float64 `json:"flops_per_sample"`
}

// FLOPsPerSample estimates forward plus backward FLOPs for one training
// sample of seqLen tokens:
//
//	6 * active_params * seq_len + 12 * layers * hidden * seq_len^2
//
// Mixture-of-experts models count only the experts routed per token. When
// the parameter count is unknown it is inferred from the layer shapes.
func FLOPsPerSample(cfg ModelConfig, seqLen int) (*Estimate, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", seqLen)
	}
	if cfg.NumHiddenLayers <= 0 || cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("%w: num_hidden_layers and hidden_size are required", ErrIncompleteConfig)
	}

	est := &Estimate{SeqLen: seqLen, TotalParams: cfg.ParameterCount}
	if est.TotalParams <= 0 {
		inferred, err := inferParams(cfg)
		if err != nil {
			return nil, err
		}
		est.TotalParams = inferred
		est.ParamsInferred = true
	}

	est.ActiveParams = est.TotalParams
	if cfg.IsMoE() {
		expert := expertParams(cfg)
		routed := expert * int64(cfg.NumExpertsPerTok) / int64(cfg.NumLocalExperts)
		if active := est.TotalParams - expert + routed; active > 0 {
			est.ActiveParams = active
		}
	}

	seq := float64(seqLen)
	est.DenseFLOPs = 6 * float64(est.ActiveParams) * seq
	est.AttentionFLOPs = 12 * float64(cfg.NumHiddenLayers) * float64(cfg.HiddenSize) * seq * seq
	est.FLOPsPerSample = est.DenseFLOPs + est.AttentionFLOPs
	return est, nil
}

// expertParams is the parameter count of all gated-MLP experts.
func expertParams(cfg ModelConfig) int64 {
	return int64(cfg.NumHiddenLayers) * int64(cfg.NumLocalExperts) * 3 *
		int64(cfg.HiddenSize) * int64(cfg.IntermediateSize)
}

// inferParams approximates a decoder-only transformer's parameter count
// from its shapes: attention projections, gated MLP, and untied embeddings.
func inferParams(cfg ModelConfig) (int64, error) {
	if cfg.IntermediateSize <= 0 || cfg.VocabSize <= 0 || cfg.NumAttentionHeads <= 0 {
		return 0, fmt.Errorf("%w: parameter count unknown and intermediate_size, vocab_size or num_attention_heads missing", ErrIncompleteConfig)
	}
	h := int64(cfg.HiddenSize)
	kvHeads := int64(cfg.NumKeyValueHeads)
	if kvHeads == 0 {
		kvHeads = int64(cfg.NumAttentionHeads)
	}
	headDim := h / int64(cfg.NumAttentionHeads)
	attn := 2*h*h + 2*h*kvHeads*headDim

	experts := int64(1)
	if cfg.IsMoE() {
		experts = int64(cfg.NumLocalExperts)
	}
	mlp := experts * 3 * h * int64(cfg.IntermediateSize)

	perLayer := attn + mlp
	return int64(cfg.NumHiddenLayers)*perLayer + 2*int64(cfg.VocabSize)*h, nil
}
