// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package answer turns retrieved chunks into a completion request and
// returns the model's reply.
package answer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/observability/logging"
	"github.com/leseb/docqa/pkg/provider"
	"github.com/leseb/docqa/pkg/retrieval"
)

// Completers is the registry of completion backends.
// Import implementation packages with blank imports to register them:
//
//	import _ "github.com/leseb/docqa/pkg/answer/openai"
//	import _ "github.com/leseb/docqa/pkg/answer/gemini"
var Completers = provider.NewRegistry[Completer]("completion")

// Completer sends one prompt to one model. Failures carry an
// *errs.ExternalError with the HTTP status where one is known.
type Completer interface {
	Name() string
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Retriever is the part of retrieval.Service used here.
type Retriever interface {
	Query(ctx context.Context, tenant, text string, k int) ([]retrieval.Result, error)
}

const DefaultMaxContextChars = 6000

// BreakerConfig tunes the circuit breaker around the completer.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures    uint32
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// Config for a Service.
type Config struct {
	// Models are tried in order; a rate-limited model hands over to the next.
	Models          []string
	MaxContextChars int
	K               int
	Breaker         BreakerConfig
}

// Answer is a completed reply and the chunks it was grounded on.
type Answer struct {
	Text             string             `json:"answer"`
	Model            string             `json:"model"`
	Sources          []retrieval.Result `json:"sources"`
	ContextTruncated bool               `json:"context_truncated"`
}

// Service answers questions for a tenant.
type Service struct {
	retriever Retriever
	completer Completer
	cfg       Config
	breaker   *gobreaker.CircuitBreaker
	log       *logging.Logger
}

// New creates a Service. cfg.Models must not be empty.
func New(retriever Retriever, completer Completer, cfg Config, logger *logging.Logger) (*Service, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("answer: at least one model is required")
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.Breaker.Failures == 0 {
		cfg.Breaker.Failures = 5
	}
	if cfg.Breaker.Timeout <= 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}

	log := logging.OrDiscard(logger).Component("answer")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        completer.Name(),
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.Failures
		},
		// Rate limits rotate models and cancellations are the caller's doing;
		// neither says the backend is down.
		IsSuccessful: func(err error) bool {
			return err == nil || errs.IsRateLimited(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
		},
	})

	return &Service{
		retriever: retriever,
		completer: completer,
		cfg:       cfg,
		breaker:   breaker,
		log:       log,
	}, nil
}

// Answer retrieves context for question and asks the configured models.
func (s *Service) Answer(ctx context.Context, tn, question string) (*Answer, error) {
	results, err := s.retriever.Query(ctx, tn, question, s.cfg.K)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	contextText, truncated := BuildContext(texts, s.cfg.MaxContextChars)
	prompt := Prompt(question, contextText)

	var lastErr error
	for i, model := range s.cfg.Models {
		text, err := s.complete(ctx, model, prompt)
		if err == nil {
			return &Answer{Text: text, Model: model, Sources: results, ContextTruncated: truncated}, nil
		}
		lastErr = err
		if !errs.IsRateLimited(err) || ctx.Err() != nil {
			break
		}
		if i < len(s.cfg.Models)-1 {
			s.log.Warn("model rate limited, trying next", "tenant", tn, "model", model, "next", s.cfg.Models[i+1])
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("answer for %q: %w", tn, lastErr)
}

func (s *Service) complete(ctx context.Context, model, prompt string) (string, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.completer.Complete(ctx, model, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &errs.ExternalError{Service: s.completer.Name(), Model: model, Status: http.StatusServiceUnavailable, Err: err}
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// BuildContext joins chunk texts with blank lines, keeping whole chunks while
// they fit in maxChars runes. If even the first chunk is too long it is cut.
// The second result reports whether anything was left out.
func BuildContext(texts []string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}
	const sep = "\n\n"
	var (
		sb   strings.Builder
		used int
	)
	for i, t := range texts {
		n := len([]rune(t))
		if i > 0 {
			n += len(sep)
		}
		if used+n > maxChars {
			if i == 0 {
				sb.WriteString(string([]rune(t)[:maxChars]))
			}
			return sb.String(), true
		}
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(t)
		used += n
	}
	return sb.String(), false
}

// Prompt renders the single prompt template.
func Prompt(question, context string) string {
	return "Answer the following question using only this context.\n\n" +
		"Question: " + strings.TrimSpace(question) + "\n\n" +
		"Context: " + context + "\n"
}
