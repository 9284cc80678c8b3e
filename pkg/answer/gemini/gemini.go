// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini registers the "gemini" completion backend using the Google
// Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/leseb/docqa/pkg/answer"
	"github.com/leseb/docqa/pkg/core/errs"
)

func init() {
	answer.Completers.Register("gemini", func(ctx context.Context, params map[string]string) (answer.Completer, error) {
		return New(ctx, Config{APIKey: params["api_key"], BaseURL: params["base_url"]})
	})
}

// Config for the Gemini backend.
type Config struct {
	APIKey  string
	BaseURL string
}

// Completer implements answer.Completer with genai.
type Completer struct {
	client *genai.Client
}

var _ answer.Completer = (*Completer)(nil)

// New creates a Gemini API client.
func New(ctx context.Context, cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini completion: api_key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini completion: %w", err)
	}
	return &Completer{client: client}, nil
}

func (c *Completer) Name() string { return "gemini" }

// Complete sends prompt as a single user turn.
func (c *Completer) Complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &errs.ExternalError{Service: "gemini", Model: model, Status: statusOf(err), Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &errs.ExternalError{Service: "gemini", Model: model, Err: errors.New("response has no text")}
	}
	return text, nil
}

// statusOf extracts the HTTP status from a genai API error, or 0.
func statusOf(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
