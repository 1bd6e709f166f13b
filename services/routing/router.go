// Package routing defines the seam between the admission pipeline and the
// downstream provider router. The real router lives outside this core; the
// pipeline only needs something that takes a selected (provider, model) and
// returns a completion with usage.
package routing

import (
	"context"

	"github.com/zeroveil/gateway/models"
)

// Completion is the provider router's answer for an admitted request
type Completion struct {
	Content      string
	FinishReason string
	Usage        models.Usage
}

// Router forwards an admitted request to a model backend
type Router interface {
	Complete(ctx context.Context, provider, model string, messages []models.ChatMessage) (*Completion, error)
}

// StubRouter returns a canned response without contacting any backend
type StubRouter struct{}

// NewStubRouter creates a StubRouter
func NewStubRouter() *StubRouter {
	return &StubRouter{}
}

// Complete implements Router with a fixed completion and zero usage
func (r *StubRouter) Complete(_ context.Context, _, _ string, _ []models.ChatMessage) (*Completion, error) {
	return &Completion{
		Content:      "stubbed_response",
		FinishReason: "stop",
		Usage:        models.Usage{},
	}, nil
}
