package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"studyreel/internal/config"
	"studyreel/internal/logging"
)

// Chain tries a sequence of providers in declared order. Each provider gets
// its own retry budget before the chain advances to the next one.
type Chain struct {
	clients []*Client
	log     *slog.Logger
}

// NewChain builds one client per provider entry. Options apply to every
// client in the chain.
func NewChain(providers []config.Provider, logger *slog.Logger, opts ...Option) *Chain {
	if logger == nil {
		logger = logging.NewNop()
	}
	chain := &Chain{log: logging.NewComponentLogger(logger, "llm")}
	for _, provider := range providers {
		chain.clients = append(chain.clients, NewClient(provider, opts...))
	}
	return chain
}

// Len reports how many providers are configured.
func (ch *Chain) Len() int {
	if ch == nil {
		return 0
	}
	return len(ch.clients)
}

// CompleteJSON runs the prompt against each provider until one succeeds.
// It returns the payload and the name of the provider that served it.
func (ch *Chain) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, string, error) {
	if ch == nil || len(ch.clients) == 0 {
		return "", "", errors.New("llm chain: no providers configured")
	}
	var failures []string
	for _, client := range ch.clients {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		content, err := client.CompleteJSON(ctx, systemPrompt, userPrompt)
		if err == nil {
			return content, client.Name(), nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", "", err
		}
		ch.log.Warn("provider failed, advancing chain",
			logging.String("provider", client.Name()),
			logging.Error(err))
		failures = append(failures, fmt.Sprintf("%s: %v", client.Name(), err))
	}
	return "", "", fmt.Errorf("llm chain: all providers failed: %s", strings.Join(failures, "; "))
}

// HealthCheck pings the first provider in the chain.
func (ch *Chain) HealthCheck(ctx context.Context) error {
	if ch == nil || len(ch.clients) == 0 {
		return errors.New("llm chain: no providers configured")
	}
	return ch.clients[0].HealthCheck(ctx)
}
