package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 60 * time.Second

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // empty for api.openai.com
	Model          string // e.g. "gpt-4o-mini"
	EmbeddingModel string // e.g. "text-embedding-3-small"
	Temperature    float32
	MaxTokens      int
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// OpenAIProvider implements Provider against any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	logger         *zap.Logger
}

// NewOpenAIProvider creates a provider from the given config.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("NewOpenAIProvider: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	m := cfg.Model
	if m == "" {
		m = openai.GPT4oMini
	}
	em := cfg.EmbeddingModel
	if em == "" {
		em = string(openai.SmallEmbedding3)
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          m,
		embeddingModel: em,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        timeout,
		logger:         logger,
	}, nil
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("Generate: no choices in response")
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		ToolCalls:    fromOpenAIToolCalls(choice.Message.ToolCalls),
		FinishReason: string(choice.FinishReason),
	}
	p.logger.Debug("model response",
		zap.String("finish_reason", out.FinishReason),
		zap.Int("tool_calls", len(out.ToolCalls)),
	)
	return out, nil
}

// GenerateStream implements Provider. Fragments are delivered in order;
// the channel is closed after the final chunk.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, fmt.Errorf("GenerateStream: %w", err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- StreamChunk{Err: fmt.Errorf("GenerateStream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Content: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// GetEmbedding implements Provider.
func (p *OpenAIProvider) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("GetEmbedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("GetEmbedding: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(messages),
		Stream:   stream,
	}
	if p.temperature > 0 {
		req.Temperature = p.temperature
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
	}
	return req
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{
			ID: c.ID,
			Function: FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}
