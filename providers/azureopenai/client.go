// Package azureopenai adapts the go-openai SDK for Azure OpenAI
// deployments. Azure routes requests by deployment name rather than model
// name, so the configured deployment always wins over the request model.
package azureopenai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/frdeange/BotPlusAzureOpenAI/llm"
)

type Config struct {
	Endpoint       string
	APIKey         string
	Deployment     string
	APIVersion     string
	RequestTimeout time.Duration
}

type Client struct {
	api        *goopenai.Client
	deployment string
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(strings.TrimRight(cfg.Endpoint, "/"))
	if endpoint == "" {
		return nil, fmt.Errorf("azure openai endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("azure openai api key is required")
	}
	deployment := strings.TrimSpace(cfg.Deployment)
	if deployment == "" {
		return nil, fmt.Errorf("azure openai deployment is required")
	}

	acfg := goopenai.DefaultAzureConfig(strings.TrimSpace(cfg.APIKey), endpoint)
	if v := strings.TrimSpace(cfg.APIVersion); v != "" {
		acfg.APIVersion = v
	}
	if cfg.RequestTimeout > 0 {
		acfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		api:        goopenai.NewClientWithConfig(acfg),
		deployment: deployment,
	}, nil
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	if c == nil || c.api == nil {
		return llm.Result{}, fmt.Errorf("azure openai client is not initialized")
	}
	start := time.Now()

	body := goopenai.ChatCompletionRequest{
		Model:    c.deployment,
		Messages: convertMessages(req.Messages),
	}
	if req.ForceJSON {
		body.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, body)
	if err != nil {
		return llm.Result{}, fmt.Errorf("azure openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("azure openai: empty choices")
	}
	return llm.Result{
		Text: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

func (c *Client) ChatStream(ctx context.Context, req llm.Request, onDelta func(llm.Delta) error) (llm.Result, error) {
	if c == nil || c.api == nil {
		return llm.Result{}, fmt.Errorf("azure openai client is not initialized")
	}
	start := time.Now()

	stream, err := c.api.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    c.deployment,
		Messages: convertMessages(req.Messages),
		Stream:   true,
	})
	if err != nil {
		return llm.Result{}, fmt.Errorf("azure openai stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return llm.Result{}, fmt.Errorf("azure openai stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(llm.Delta{Text: delta}); err != nil {
				return llm.Result{}, err
			}
		}
	}
	if onDelta != nil {
		if err := onDelta(llm.Delta{Done: true}); err != nil {
			return llm.Result{}, err
		}
	}
	return llm.Result{
		Text:     full.String(),
		Duration: time.Since(start),
	}, nil
}

func convertMessages(in []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}
