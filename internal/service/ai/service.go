package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"travelbot/internal/config"
	"travelbot/internal/credential"
	"travelbot/internal/models"
)

// ModelFactory builds a chat model for one catalog entry and credential.
type ModelFactory func(ctx context.Context, mc models.ModelConfig, token string) (model.BaseChatModel, error)

type modelKey struct {
	provider   string
	identifier string
	token      string
}

// Invoker sends transcripts to the remote model selected from the catalog.
// Built chat models are cached per provider, identifier and credential.
type Invoker struct {
	replicateBaseURL string
	providers        map[string]config.ProviderConfig
	factory          ModelFactory

	mu    sync.Mutex
	cache map[modelKey]model.BaseChatModel
}

// NewInvoker wires the Replicate endpoint and the optional providers from cfg.
func NewInvoker(cfg *config.Config) *Invoker {
	inv := &Invoker{
		providers: make(map[string]config.ProviderConfig),
		cache:     make(map[modelKey]model.BaseChatModel),
	}
	if cfg != nil {
		inv.replicateBaseURL = cfg.Replicate.BaseURL
		for name, p := range cfg.Providers {
			inv.providers[name] = p
		}
	}
	inv.factory = inv.newChatModel
	return inv
}

// NewInvokerWithFactory is used by tests and callers that supply their own models.
func NewInvokerWithFactory(cfg *config.Config, factory ModelFactory) *Invoker {
	inv := NewInvoker(cfg)
	if factory != nil {
		inv.factory = factory
	}
	return inv
}

// ResolveCredential returns the credential to use for mc. Replicate models use
// the session credential; other providers use the key from the config file.
func (i *Invoker) ResolveCredential(mc models.ModelConfig, sessionCredential string) (string, error) {
	if mc.Provider == models.ProviderReplicate {
		if !credential.Valid(sessionCredential) {
			return "", credential.ErrMissing
		}
		return sessionCredential, nil
	}
	key := strings.TrimSpace(i.providers[mc.Provider].APIKey)
	if key == "" {
		return "", credential.ErrMissing
	}
	return key, nil
}

// Generate issues a single remote call for transcript and returns the reply as
// a stream of text fragments. The caller must drain or close the stream.
func (i *Invoker) Generate(ctx context.Context, transcript string, mc models.ModelConfig, token string) (*schema.StreamReader[*schema.Message], error) {
	token, err := i.ResolveCredential(mc, token)
	if err != nil {
		return nil, err
	}
	cm, err := i.chatModel(ctx, mc, token)
	if err != nil {
		return nil, err
	}
	slog.Debug("invoking model",
		"model", mc.Name,
		"provider", mc.Provider,
		"credential", credential.Mask(token),
		"prompt_chars", len(transcript),
	)
	sr, err := cm.Stream(ctx, []*schema.Message{schema.UserMessage(transcript)},
		model.WithTemperature(float32(mc.Temperature)),
		model.WithTopP(float32(mc.TopP)),
		model.WithMaxTokens(mc.MaxLength),
		WithRepetitionPenalty(mc.RepetitionPenalty),
	)
	if err != nil {
		return nil, classify(err)
	}
	return sr, nil
}

// Forget drops cached models built with token, e.g. after a credential change.
func (i *Invoker) Forget(token string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k := range i.cache {
		if k.token == token {
			delete(i.cache, k)
		}
	}
}

func (i *Invoker) chatModel(ctx context.Context, mc models.ModelConfig, token string) (model.BaseChatModel, error) {
	key := modelKey{provider: mc.Provider, identifier: mc.Identifier, token: token}
	i.mu.Lock()
	cm, ok := i.cache[key]
	i.mu.Unlock()
	if ok {
		return cm, nil
	}
	cm, err := i.factory(ctx, mc, token)
	if err != nil {
		return nil, &InvocationError{Kind: KindTransport, Err: err}
	}
	i.mu.Lock()
	i.cache[key] = cm
	i.mu.Unlock()
	return cm, nil
}

func (i *Invoker) newChatModel(ctx context.Context, mc models.ModelConfig, token string) (model.BaseChatModel, error) {
	provCfg := i.providers[mc.Provider]
	switch mc.Provider {
	case models.ProviderReplicate:
		return NewReplicateChatModel(&ReplicateConfig{
			Token:      token,
			BaseURL:    i.replicateBaseURL,
			Identifier: mc.Identifier,
		})
	case models.ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   mc.Identifier,
			APIKey:  token,
		})
	case models.ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: token,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  mc.Identifier,
		})
	case models.ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    token,
			Model:     mc.Identifier,
			BaseURL:   baseURLPtr,
			MaxTokens: mc.MaxLength,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", mc.Provider)
	}
}

// Drain reads every fragment from sr, calling fn for each non-empty one, and
// returns the concatenated reply. The stream is always closed.
func Drain(sr *schema.StreamReader[*schema.Message], fn func(fragment string) error) (string, error) {
	if sr == nil {
		return "", nil
	}
	defer sr.Close()
	var sb strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), classify(err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if fn != nil {
			if err := fn(chunk.Content); err != nil {
				return sb.String(), err
			}
		}
	}
}

// Join concatenates every fragment of sr.
func Join(sr *schema.StreamReader[*schema.Message]) (string, error) {
	return Drain(sr, nil)
}
