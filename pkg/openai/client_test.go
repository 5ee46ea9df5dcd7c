package openai

import (
	"context"
	"errors"
	"strings"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
)

func TestAvailable(t *testing.T) {
	cases := []struct {
		name   string
		opts   Options
		expect bool
	}{
		{"key and model", Options{APIKey: "sk-test", Model: "gpt-5-nano"}, true},
		{"missing key", Options{Model: "gpt-5-nano"}, false},
		{"missing model", Options{APIKey: "sk-test"}, false},
		{"neither", Options{}, false},
	}
	for _, tc := range cases {
		if got := New(tc.opts).Available(); got != tc.expect {
			t.Errorf("%s: Available() = %v, want %v", tc.name, got, tc.expect)
		}
	}
}

func TestSupportsTemperature(t *testing.T) {
	cases := map[string]bool{
		"gpt-5-nano": false,
		"gpt-5-mini": false,
		"o4-MINI":    false,
		"gpt-4o":     true,
		"gpt-5":      true,
		"llava:13b":  true,
	}
	for model, want := range cases {
		c := New(Options{APIKey: "sk-test", Model: model})
		if got := c.supportsTemperature(); got != want {
			t.Errorf("supportsTemperature(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestClassifyUnavailable(t *testing.T) {
	c := New(Options{})
	if _, err := c.Classify(context.Background(), []byte("jpeg")); err == nil {
		t.Error("unavailable client must refuse to classify")
	}
}

func TestClassifyRequestShape(t *testing.T) {
	c := New(Options{APIKey: "sk-test", Model: "gpt-5-nano"})

	var captured goopenai.ChatCompletionRequest
	c.call = func(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
		captured = req
		return goopenai.ChatCompletionResponse{
			Choices: []goopenai.ChatCompletionChoice{{
				Message: goopenai.ChatCompletionMessage{
					Content: `{"labels":[],"scores":{"quality":0.2},"comments":["良好"],"presence":{"tv":true}}`,
				},
			}},
		}, nil
	}

	resp, err := c.Classify(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}

	if captured.Model != "gpt-5-nano" {
		t.Errorf("unexpected model: %s", captured.Model)
	}
	if captured.Temperature != 0 {
		t.Errorf("nano model must omit temperature, got %v", captured.Temperature)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != goopenai.ChatCompletionResponseFormatTypeJSONObject {
		t.Error("request must demand a JSON object response")
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != goopenai.ChatMessageRoleSystem {
		t.Error("first message must be the system instruction")
	}
	parts := captured.Messages[1].MultiContent
	if len(parts) != 2 || parts[1].ImageURL == nil {
		t.Fatal("user message must carry instruction text plus image part")
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("image must be sent as a JPEG data URL, got %q", parts[1].ImageURL.URL)
	}

	if v := resp.Presence["tv"]; v == nil || !*v {
		t.Error("parsed presence lost the strict true")
	}
}

func TestClassifyIncludesTemperatureForFullModels(t *testing.T) {
	c := New(Options{APIKey: "sk-test", Model: "gpt-4o"})

	var captured goopenai.ChatCompletionRequest
	c.call = func(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
		captured = req
		return goopenai.ChatCompletionResponse{
			Choices: []goopenai.ChatCompletionChoice{{
				Message: goopenai.ChatCompletionMessage{Content: `{"labels":[],"scores":{},"comments":[],"presence":{}}`},
			}},
		}, nil
	}

	if _, err := c.Classify(context.Background(), []byte{0xff, 0xd8}); err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	if captured.Temperature != 0.2 {
		t.Errorf("full models must pin temperature 0.2, got %v", captured.Temperature)
	}
}

func TestClassifyRetriesParseFailures(t *testing.T) {
	c := New(Options{APIKey: "sk-test", Model: "gpt-5-nano"})

	calls := 0
	c.call = func(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
		calls++
		if calls < 2 {
			return goopenai.ChatCompletionResponse{
				Choices: []goopenai.ChatCompletionChoice{{
					Message: goopenai.ChatCompletionMessage{Content: "not json at all"},
				}},
			}, nil
		}
		return goopenai.ChatCompletionResponse{
			Choices: []goopenai.ChatCompletionChoice{{
				Message: goopenai.ChatCompletionMessage{Content: `{"labels":[],"scores":{},"comments":[],"presence":{}}`},
			}},
		}, nil
	}

	if _, err := c.Classify(context.Background(), []byte{0xff, 0xd8}); err != nil {
		t.Fatalf("parse failure must be retried, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a retry after the parse failure, got %d calls", calls)
	}
}

func TestClassifyPropagatesFinalError(t *testing.T) {
	c := New(Options{APIKey: "sk-test", Model: "gpt-5-nano"})

	boom := errors.New("backend down")
	calls := 0
	c.call = func(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
		calls++
		return goopenai.ChatCompletionResponse{}, boom
	}

	_, err := c.Classify(context.Background(), []byte{0xff, 0xd8})
	if !errors.Is(err, boom) {
		t.Errorf("final error must propagate, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}
