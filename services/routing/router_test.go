package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeroveil/gateway/models"
)

func TestStubRouter_Complete(t *testing.T) {
	r := NewStubRouter()

	completion, err := r.Complete(context.Background(), "anthropic", "claude-3-5-sonnet",
		[]models.ChatMessage{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "stubbed_response", completion.Content)
	assert.Equal(t, "stop", completion.FinishReason)
	assert.Zero(t, completion.Usage.TotalTokens)
}
