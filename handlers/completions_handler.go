package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zeroveil/gateway/middleware"
	"github.com/zeroveil/gateway/models"
	"github.com/zeroveil/gateway/services/admission"
	"github.com/zeroveil/gateway/utils"
	"go.uber.org/zap"
)

// tenantHintHeader carries an optional caller-supplied tenant identifier,
// used for audit attribution before authentication resolves the tenant
const tenantHintHeader = "X-ZeroVeil-Tenant"

// ChatCompletionsRequest is the wire shape of a completion request
type ChatCompletionsRequest struct {
	Messages []models.ChatMessage   `json:"messages"`
	Model    string                 `json:"model,omitempty"`
	ZDROnly  *bool                  `json:"zdr_only,omitempty"` // defaults to true
	Metadata models.RequestMetadata `json:"metadata"`
}

// ChatChoice represents a completion choice
type ChatChoice struct {
	Index        int                `json:"index"`
	Message      models.ChatMessage `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

// ChatCompletionsResponse is the wire shape of an admitted completion
type ChatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   models.Usage `json:"usage"`
}

// AdmissionService defines the pipeline seam the handler depends on
type AdmissionService interface {
	Admit(ctx context.Context, req admission.Request) (*admission.Result, error)
}

// CompletionsHandler handles chat completion HTTP requests. It is a thin
// translator: decode, run the pipeline, encode.
type CompletionsHandler struct {
	pipeline AdmissionService
	logger   *zap.Logger
}

// NewCompletionsHandler creates a CompletionsHandler
func NewCompletionsHandler(pipeline AdmissionService, logger *zap.Logger) *CompletionsHandler {
	return &CompletionsHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

// HandleChatCompletions handles POST /v1/chat/completions
func (h *CompletionsHandler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body ChatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	zdrOnly := true
	if body.ZDROnly != nil {
		zdrOnly = *body.ZDROnly
	}

	result, err := h.pipeline.Admit(ctx, admission.Request{
		Authorization: r.Header.Get("Authorization"),
		TenantHint:    r.Header.Get(tenantHintHeader),
		ClientIP:      r.RemoteAddr,
		UserAgent:     r.UserAgent(),
		Model:         body.Model,
		Messages:      body.Messages,
		ZDROnly:       zdrOnly,
		Metadata:      body.Metadata,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if result.RPMRemaining != nil {
		w.Header().Set("X-RateLimit-Remaining-RPM", strconv.Itoa(*result.RPMRemaining))
	}
	if result.TPDRemaining != nil {
		w.Header().Set("X-RateLimit-Remaining-TPD", strconv.Itoa(*result.TPDRemaining))
	}

	resp := ChatCompletionsResponse{
		ID:      result.RequestID,
		Object:  "chat.completion",
		Created: result.Created.Unix(),
		Model:   result.Model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      models.ChatMessage{Role: "assistant", Content: result.Content},
				FinishReason: result.FinishReason,
			},
		},
		Usage: result.Usage,
	}

	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write completion response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
