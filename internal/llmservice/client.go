package llmservice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"company-rag/internal/config"
)

// Generator produces an answer from a system prompt and a user message
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// NewGenerator builds the configured chat model
func NewGenerator(cfg *config.LLMConfig) (Generator, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("Creating generator")
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIGenerator(cfg), nil
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama client: %v", err)
		}
		return NewLangchainGenerator(llm, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint, e.g. Groq
type OpenAIGenerator struct {
	client      *goopenai.Client
	model       string
	temperature float32
}

func NewOpenAIGenerator(cfg *config.LLMConfig) *OpenAIGenerator {
	clientCfg := goopenai.DefaultConfig(strings.TrimPrefix(cfg.Key, "Bearer "))
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	temperature := float32(cfg.Temperature)
	if temperature == 0 {
		// a zero temperature is dropped from the request by omitempty
		temperature = math.SmallestNonzeroFloat32
	}
	return &OpenAIGenerator{
		client:      goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: temperature,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// LangchainGenerator adapts any langchaingo model
type LangchainGenerator struct {
	llm         llms.Model
	temperature float64
}

func NewLangchainGenerator(llm llms.Model, temperature float64) *LangchainGenerator {
	return &LangchainGenerator{llm: llm, temperature: temperature}
}

// call llm
func (g *LangchainGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := g.llm.GenerateContent(ctx, messages, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", fmt.Errorf("generate content failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
