package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/replicate/replicate-go"
)

// predictionRunner is the part of *replicate.Client the chat model needs.
type predictionRunner interface {
	Run(ctx context.Context, identifier string, input replicate.PredictionInput, webhook *replicate.Webhook) (replicate.PredictionOutput, error)
}

// ReplicateChatModel exposes a Replicate text model as an eino chat model.
// The input messages are flattened into the single prompt the Llama2 chat
// versions expect; their array output becomes the fragment stream.
type ReplicateChatModel struct {
	runner     predictionRunner
	identifier string
}

var _ model.BaseChatModel = (*ReplicateChatModel)(nil)

type ReplicateConfig struct {
	Token      string
	BaseURL    string
	Identifier string
}

func NewReplicateChatModel(cfg *ReplicateConfig) (*ReplicateChatModel, error) {
	if cfg == nil || cfg.Identifier == "" {
		return nil, errors.New("replicate model identifier is required")
	}
	opts := []replicate.ClientOption{replicate.WithToken(cfg.Token)}
	if cfg.BaseURL != "" {
		opts = append(opts, replicate.WithBaseURL(cfg.BaseURL))
	}
	client, err := replicate.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("replicate client: %w", err)
	}
	return &ReplicateChatModel{runner: client, identifier: cfg.Identifier}, nil
}

type replicateOptions struct {
	RepetitionPenalty *float64
}

// WithRepetitionPenalty sets the Replicate-only repetition_penalty input.
func WithRepetitionPenalty(p float64) model.Option {
	return model.WrapImplSpecificOptFn(func(o *replicateOptions) {
		o.RepetitionPenalty = &p
	})
}

func (m *ReplicateChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	fragments, err := m.run(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(strings.Join(fragments, ""), nil), nil
}

func (m *ReplicateChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	fragments, err := m.run(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	chunks := make([]*schema.Message, 0, len(fragments))
	for _, f := range fragments {
		chunks = append(chunks, schema.AssistantMessage(f, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *ReplicateChatModel) run(ctx context.Context, input []*schema.Message, opts ...model.Option) ([]string, error) {
	if len(input) == 0 {
		return nil, errors.New("prompt is required")
	}
	common := model.GetCommonOptions(&model.Options{}, opts...)
	specific := model.GetImplSpecificOptions(&replicateOptions{}, opts...)

	prompt := make([]string, 0, len(input))
	for _, msg := range input {
		if msg != nil {
			prompt = append(prompt, msg.Content)
		}
	}
	payload := replicate.PredictionInput{"prompt": strings.Join(prompt, "\n\n")}
	if common.Temperature != nil {
		payload["temperature"] = round32(*common.Temperature)
	}
	if common.TopP != nil {
		payload["top_p"] = round32(*common.TopP)
	}
	if common.MaxTokens != nil {
		payload["max_length"] = *common.MaxTokens
	}
	if specific.RepetitionPenalty != nil {
		payload["repetition_penalty"] = *specific.RepetitionPenalty
	}

	output, err := m.runner.Run(ctx, m.identifier, payload, nil)
	if err != nil {
		return nil, classify(err)
	}
	return fragmentsOf(output), nil
}

// round32 undoes float32 widening noise so 0.1 is sent as 0.1.
func round32(v float32) float64 {
	return math.Round(float64(v)*1e6) / 1e6
}

func fragmentsOf(output replicate.PredictionOutput) []string {
	switch v := output.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}
