// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai registers the "openai" completion backend for any
// OpenAI-compatible /v1/chat/completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/leseb/docqa/pkg/answer"
	"github.com/leseb/docqa/pkg/core/errs"
)

func init() {
	answer.Completers.Register("openai", func(_ context.Context, params map[string]string) (answer.Completer, error) {
		cfg := Config{BaseURL: params["base_url"], APIKey: params["api_key"]}
		if v := params["max_retries"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("openai completion: invalid max_retries %q", v)
			}
			cfg.MaxRetries = n
		}
		if v := params["temperature"]; v != "" {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("openai completion: invalid temperature %q", v)
			}
			cfg.Temperature = &t
		}
		return New(cfg), nil
	})
}

// Config for the OpenAI completion backend.
type Config struct {
	BaseURL string
	APIKey  string

	// MaxRetries is the SDK retry count per model. Defaults to zero; a rate
	// limit moves on to the next model instead.
	MaxRetries  int
	Temperature *float64
}

// Completer implements answer.Completer with the OpenAI SDK.
type Completer struct {
	client      openai.Client
	temperature *float64
}

var _ answer.Completer = (*Completer)(nil)

// New creates a completer.
func New(cfg Config) *Completer {
	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey("dummy"))
	}
	return &Completer{client: openai.NewClient(opts...), temperature: cfg.Temperature}
}

func (c *Completer) Name() string { return "openai" }

// Complete sends prompt as a single user message.
func (c *Completer) Complete(ctx context.Context, model, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		ext := &errs.ExternalError{Service: "openai completions", Model: model, Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			ext.Status = apiErr.StatusCode
		}
		return "", ext
	}
	if len(resp.Choices) == 0 {
		return "", &errs.ExternalError{Service: "openai completions", Model: model, Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}
