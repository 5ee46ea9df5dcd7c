package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/cleaning-check/pkg/client"
	"github.com/menta2k/cleaning-check/pkg/types"
)

// Client classifies cleaning photos through a local Ollama server. It is the
// self-hosted alternative to the OpenAI backend and honors the same response
// contract and retry policy.
type Client struct {
	model string
	api   *api.Client

	chat func(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// New creates a classifier against the given Ollama server URL. Any path on
// the URL (such as /api/chat) is discarded.
func New(serverURL, model string) (*Client, error) {
	c := &Client{model: strings.TrimSpace(model)}

	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return c, nil
	}
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	c.api = api.NewClient(base, http.DefaultClient)
	c.chat = c.api.Chat
	return c, nil
}

// Available reports whether a server and a model are configured.
func (c *Client) Available() bool {
	return c.chat != nil && c.model != ""
}

// Classify sends one normalized JPEG with the fixed instruction pair. Ollama
// has no JSON response mode worth trusting across models, so the prompt
// carries the schema and the shared sanitizer handles the fallout.
func (c *Client) Classify(ctx context.Context, jpegData []byte) (*types.ClassificationResponse, error) {
	if !c.Available() {
		return nil, fmt.Errorf("ollama classifier not available")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "system",
				Content: client.SystemInstruction,
			},
			{
				Role:    "user",
				Content: client.UserInstruction,
				Images:  []api.ImageData{api.ImageData(jpegData)},
			},
		},
		Stream: &streamFalse,
	}

	return client.Classify(ctx, func() (*types.ClassificationResponse, error) {
		var content string
		err := c.chat(ctx, req, func(resp api.ChatResponse) error {
			content = resp.Message.Content
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ollama chat error: %w", err)
		}
		if content == "" {
			return nil, fmt.Errorf("empty response from ollama")
		}
		return client.ParseResponse(content)
	})
}
