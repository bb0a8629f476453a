package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a provider's circuit breaker rejects calls.
var ErrCircuitOpen = errors.New("llm: circuit open")

// BreakerConfig configures the circuit breaker around a provider.
type BreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	MaxRequests      uint32        `json:"max_requests" yaml:"max_requests"`           // probes allowed while half-open
	Interval         time.Duration `json:"interval" yaml:"interval"`                   // closed-state counter reset period
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`                     // open duration before half-open
	MinRequests      uint32        `json:"min_requests" yaml:"min_requests"`           // requests before the ratio is evaluated
	FailureThreshold float64       `json:"failure_threshold" yaml:"failure_threshold"` // failure ratio that trips the breaker
}

// DefaultBreakerConfig returns the settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.6,
	}
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps p so that repeated failures open a circuit and fail
// fast with ErrCircuitOpen. Caller cancellations and client errors (4xx
// other than 429) do not count as failures.
func WithBreaker(name string, p Provider, cfg BreakerConfig) Provider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm: circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && !apiErr.Retryable() {
				return true
			}
			return false
		},
	})
	return &breakerProvider{next: p, cb: cb}
}

func (b *breakerProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Chat(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*ChatResponse), nil
}

func (b *breakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, texts)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.([][]float32), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}
