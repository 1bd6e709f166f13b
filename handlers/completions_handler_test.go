package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeroveil/gateway/models"
	"github.com/zeroveil/gateway/services"
	"github.com/zeroveil/gateway/services/admission"
	"github.com/zeroveil/gateway/utils"
	"go.uber.org/zap"
)

// fakePipeline records the admission request and returns a canned outcome
type fakePipeline struct {
	gotReq admission.Request
	result *admission.Result
	err    error
}

func (f *fakePipeline) Admit(_ context.Context, req admission.Request) (*admission.Result, error) {
	f.gotReq = req
	return f.result, f.err
}

func intPtr(v int) *int { return &v }

func allowResult() *admission.Result {
	return &admission.Result{
		RequestID:    "zv_0123456789abcdef",
		TenantID:     "acme",
		Provider:     "anthropic",
		Model:        "claude-3-5-sonnet",
		Content:      "stubbed_response",
		FinishReason: "stop",
		Usage:        models.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
		RPMRemaining: intPtr(59),
		TPDRemaining: intPtr(99992),
		Created:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func postCompletions(t *testing.T, pipeline AdmissionService, body string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	h := NewCompletionsHandler(pipeline, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if setup != nil {
		setup(req)
	}

	rec := httptest.NewRecorder()
	h.HandleChatCompletions(rec, req)
	return rec
}

func TestHandleChatCompletions_Allow(t *testing.T) {
	fake := &fakePipeline{result: allowResult()}
	body := `{
		"model": "claude-3-5-sonnet",
		"messages": [{"role": "user", "content": "hello"}],
		"zdr_only": true,
		"metadata": {"scrubbed": true}
	}`

	rec := postCompletions(t, fake, body, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer acme-key")
		r.Header.Set("X-ZeroVeil-Tenant", "acme")
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining-RPM"))
	assert.Equal(t, "99992", rec.Header().Get("X-RateLimit-Remaining-TPD"))

	var resp ChatCompletionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "zv_0123456789abcdef", resp.ID)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "claude-3-5-sonnet", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "stubbed_response", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 8, resp.Usage.TotalTokens)

	// The handler passes transport fields through to the pipeline.
	assert.Equal(t, "Bearer acme-key", fake.gotReq.Authorization)
	assert.Equal(t, "acme", fake.gotReq.TenantHint)
	assert.True(t, fake.gotReq.ZDROnly)
	assert.True(t, fake.gotReq.Metadata.Scrubbed)
}

func TestHandleChatCompletions_ZDRDefaultsTrue(t *testing.T) {
	fake := &fakePipeline{result: allowResult()}

	postCompletions(t, fake, `{"messages": [{"role": "user", "content": "hi"}]}`, nil)

	assert.True(t, fake.gotReq.ZDROnly, "zdr_only omitted must default to true")
}

func TestHandleChatCompletions_ZDRExplicitFalse(t *testing.T) {
	fake := &fakePipeline{result: allowResult()}

	postCompletions(t, fake, `{"messages": [{"role": "user", "content": "hi"}], "zdr_only": false}`, nil)

	assert.False(t, fake.gotReq.ZDROnly)
}

func TestHandleChatCompletions_MalformedBody(t *testing.T) {
	fake := &fakePipeline{result: allowResult()}

	rec := postCompletions(t, fake, `{"messages": [`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error.Code)
	assert.Equal(t, "Invalid request body", resp.Error.Message)
	assert.Empty(t, fake.gotReq.Messages, "the pipeline must not run on a malformed body")
}

func TestHandleChatCompletions_DenialStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *services.DomainError
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", services.NewUnauthorized("Invalid API key", nil), http.StatusUnauthorized, "unauthorized"},
		{"invalid request", services.NewInvalidRequest("messages must be non-empty", nil), http.StatusBadRequest, "invalid_request"},
		{"pii detected", services.NewPIIDetected("Request contains unscrubbed PII. Scrub before retry.", nil), http.StatusForbidden, "pii_detected"},
		{"policy denied", services.NewPolicyDenied("zdr_only must be true", nil), http.StatusForbidden, "policy_denied"},
		{"rate limited", services.NewRateLimited("Rate limit exceeded", nil), http.StatusTooManyRequests, "rate_limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePipeline{err: tt.err}

			rec := postCompletions(t, fake, `{"messages": [{"role": "user", "content": "hi"}]}`, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp utils.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
		})
	}
}

func TestHandleChatCompletions_DenialDetails(t *testing.T) {
	fake := &fakePipeline{err: services.NewPIIDetected(
		"Request contains unscrubbed PII. Scrub before retry.",
		map[string]interface{}{
			"field":          "messages[0].content",
			"detected_types": []string{"ssn"},
		})}

	rec := postCompletions(t, fake, `{"messages": [{"role": "user", "content": "x"}]}`, nil)

	var resp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "messages[0].content", resp.Error.Details["field"])
	assert.Equal(t, []interface{}{"ssn"}, resp.Error.Details["detected_types"])
}

func TestHandleChatCompletions_InternalErrorIsGeneric(t *testing.T) {
	fake := &fakePipeline{err: services.NewInternal("audit log write failed", errors.New("disk full"))}

	rec := postCompletions(t, fake, `{"messages": [{"role": "user", "content": "hi"}]}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.Error.Code)
	assert.Equal(t, "An internal error occurred", resp.Error.Message)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestHandleChatCompletions_NoRateHeadersWhenUnlimited(t *testing.T) {
	result := allowResult()
	result.RPMRemaining = nil
	result.TPDRemaining = nil
	fake := &fakePipeline{result: result}

	rec := postCompletions(t, fake, `{"messages": [{"role": "user", "content": "hi"}]}`, nil)

	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining-RPM"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining-TPD"))
}
