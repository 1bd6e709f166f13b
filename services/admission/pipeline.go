// Package admission implements the request admission pipeline: a strict,
// ordered sequence of checks per request where the first failing check
// short-circuits, and every decision, deny or allow, is paired with exactly
// one audit event.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/zeroveil/gateway/config"
	"github.com/zeroveil/gateway/models"
	"github.com/zeroveil/gateway/services"
	"github.com/zeroveil/gateway/services/audit"
	"github.com/zeroveil/gateway/services/pii"
	"github.com/zeroveil/gateway/services/routing"
	"github.com/zeroveil/gateway/services/tenants"
	"go.uber.org/zap"
)

// Request is the transport-agnostic shape of an admission request
type Request struct {
	Authorization string // raw Authorization header value
	TenantHint    string
	ClientIP      string
	UserAgent     string
	Model         string
	Messages      []models.ChatMessage
	ZDROnly       bool
	Metadata      models.RequestMetadata
}

// Result is an admitted routing decision plus response metadata.
// RPMRemaining/TPDRemaining are nil for unlimited dimensions.
type Result struct {
	RequestID    string
	TenantID     string
	Provider     string
	Model        string
	Content      string
	FinishReason string
	Usage        models.Usage
	RPMRemaining *int
	TPDRemaining *int
	Created      time.Time
}

// Config holds the pipeline's collaborators
type Config struct {
	Policy        *config.Policy
	Detector      *pii.Detector
	Authenticator Authenticator
	Registry      *tenants.Registry // nil unless Authenticator is registry-backed
	Audit         audit.Sink
	Router        routing.Router
	Logger        *zap.Logger
	Now           func() time.Time
}

// Pipeline orchestrates the ordered admission checks. It is safe for
// concurrent use; the only shared mutable state lives in its collaborators.
type Pipeline struct {
	policy   *config.Policy
	detector *pii.Detector
	auth     Authenticator
	registry *tenants.Registry
	sink     audit.Sink
	router   routing.Router
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Pipeline from config
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		policy:   cfg.Policy,
		detector: cfg.Detector,
		auth:     cfg.Authenticator,
		registry: cfg.Registry,
		sink:     cfg.Audit,
		router:   cfg.Router,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if p.auth == nil {
		p.auth = NewAnonymousAuthenticator()
	}
	if p.router == nil {
		p.router = routing.NewStubRouter()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// newRequestID returns a fresh gateway request identifier
func newRequestID() string {
	return "zv_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// Admit runs the ordered checks for one request. On success it hands the
// selected (provider, model) to the provider router and records token usage
// against the tenant; on any failure it emits a deny audit event and
// returns a typed error.
func (p *Pipeline) Admit(ctx context.Context, req Request) (*Result, error) {
	started := p.now()
	requestID := newRequestID()
	tenantID := defaultTenant(req.TenantHint)

	deny := func(derr *services.DomainError) error {
		p.logDecision(audit.ActionDeny, string(derr.Code), tenantID, requestID, "", req.Model,
			models.Usage{}, req, started, map[string]interface{}{"details": derr.Details})
		return derr
	}

	// 1. Authentication
	authTenantID, record, derr := p.auth.Authenticate(req.Authorization, req.TenantHint)
	if derr != nil {
		return nil, deny(derr)
	}
	tenantID = authTenantID

	// 2. Rate limiting (tenant-authenticated requests only)
	if record != nil && !p.registry.CheckRateLimit(tenantID) {
		details := map[string]interface{}{
			"rpm_remaining": remainingDetail(p.registry.RPMRemaining(tenantID)),
			"tpd_remaining": remainingDetail(p.registry.TPDRemaining(tenantID)),
		}
		return nil, deny(services.NewRateLimited("Rate limit exceeded", details))
	}

	// 3. Structural validity
	if len(req.Messages) == 0 {
		return nil, deny(services.NewInvalidRequest("messages must be non-empty",
			map[string]interface{}{"field": "messages"}))
	}
	for i, msg := range req.Messages {
		if !models.RoleAllowed(msg.Role) {
			return nil, deny(services.NewInvalidRequest("Invalid message role", map[string]interface{}{
				"field":   fmt.Sprintf("messages[%d].role", i),
				"value":   msg.Role,
				"allowed": models.RoleList(),
			}))
		}
	}
	for i, msg := range req.Messages {
		if msg.ContentMissing {
			return nil, deny(services.NewInvalidRequest("message content must be a string",
				map[string]interface{}{"field": fmt.Sprintf("messages[%d].content", i)}))
		}
		if strings.ContainsRune(msg.Content, '\x00') {
			return nil, deny(services.NewInvalidRequest("message content contains null bytes",
				map[string]interface{}{"field": fmt.Sprintf("messages[%d].content", i)}))
		}
	}

	// 4. Content screening
	if p.detector.Enabled() {
		for i, msg := range req.Messages {
			matches := p.detector.Scan(msg.Content)
			if len(matches) > 0 {
				// Report types detected, never the matched text
				return nil, deny(services.NewPIIDetected(
					"Request contains unscrubbed PII. Scrub before retry.",
					map[string]interface{}{
						"field":          fmt.Sprintf("messages[%d].content", i),
						"detected_types": pii.DetectedTypes(matches),
					}))
			}
		}
	}

	// 5. Policy limits
	if len(req.Messages) > p.policy.MaxMessages {
		return nil, deny(services.NewPolicyDenied("Too many messages",
			map[string]interface{}{"limit": p.policy.MaxMessages}))
	}
	if req.Model != "" && !p.policy.ModelAllowed(req.Model) {
		return nil, deny(services.NewPolicyDenied("Model not allowed by policy", map[string]interface{}{
			"field":   "model",
			"value":   req.Model,
			"allowed": p.policy.AllowedModels,
		}))
	}
	for i, msg := range req.Messages {
		if utf8.RuneCountInString(msg.Content) > p.policy.MaxCharsPerMessage {
			return nil, deny(services.NewPolicyDenied("Message too large", map[string]interface{}{
				"index": i,
				"limit": p.policy.MaxCharsPerMessage,
			}))
		}
	}

	// 6. Attestations
	if p.policy.EnforceZDROnly && !req.ZDROnly {
		return nil, deny(services.NewPolicyDenied("zdr_only must be true",
			map[string]interface{}{"field": "zdr_only"}))
	}
	if p.policy.RequireScrubbedAttestation && !req.Metadata.Scrubbed {
		return nil, deny(services.NewPolicyDenied(
			"Scrub attestation required (metadata.scrubbed=true); content is never scrubbed server-side",
			map[string]interface{}{"field": "metadata.scrubbed"}))
	}

	// 7. Admitted: hand off to the provider router
	provider := p.policy.AllowedProviders[0]
	model := req.Model
	if model == "" {
		model = "stub"
	}

	completion, err := p.router.Complete(ctx, provider, model, req.Messages)
	if err != nil {
		internal := services.NewInternal("provider routing failed", err)
		p.logDecision(audit.ActionDeny, string(internal.Code), tenantID, requestID, provider, model,
			models.Usage{}, req, started, map[string]interface{}{"details": internal.Details})
		return nil, internal
	}

	// No admission without its audit line: a failed allow write fails the
	// request rather than leaving the trail incomplete.
	if err := p.logDecision(audit.ActionAllow, "ok", tenantID, requestID, provider, model,
		completion.Usage, req, started, map[string]interface{}{"policy_version": p.policy.Version}); err != nil {
		return nil, services.NewInternal("audit log write failed", err)
	}

	result := &Result{
		RequestID:    requestID,
		TenantID:     tenantID,
		Provider:     provider,
		Model:        model,
		Content:      completion.Content,
		FinishReason: completion.FinishReason,
		Usage:        completion.Usage,
		Created:      started,
	}

	if record != nil {
		if remaining, limited := p.registry.RPMRemaining(tenantID); limited {
			result.RPMRemaining = &remaining
		}
		if remaining, limited := p.registry.TPDRemaining(tenantID); limited {
			result.TPDRemaining = &remaining
		}
		if err := p.registry.RecordUsage(tenantID, completion.Usage.TotalTokens); err != nil {
			p.logger.Warn("failed to record token usage",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	return result, nil
}

// logDecision emits the single audit event for a decision. Deny-path write
// failures are reported operationally and swallowed so the caller still
// receives the denial; the allow path checks the returned error.
func (p *Pipeline) logDecision(action audit.Action, reason, tenantID, requestID, provider, model string,
	usage models.Usage, req Request, started time.Time, extra map[string]interface{}) error {

	totalChars := 0
	for _, msg := range req.Messages {
		totalChars += utf8.RuneCountInString(msg.Content)
	}

	event := audit.NewEvent(p.now())
	event.RequestID = requestID
	event.TenantID = tenantID
	event.ClientIP = req.ClientIP
	event.UserAgent = req.UserAgent
	event.Action = action
	event.Reason = reason
	event.Provider = provider
	event.Model = model
	event.TokensPrompt = usage.PromptTokens
	event.TokensCompletion = usage.CompletionTokens
	event.MessageCount = len(req.Messages)
	event.TotalChars = totalChars
	event.ZDROnly = req.ZDROnly
	event.ScrubbedAttested = req.Metadata.Scrubbed
	event.LatencyMs = p.now().Sub(started).Milliseconds()
	event.Extra = extra

	if err := p.sink.Log(event); err != nil {
		if action == audit.ActionAllow {
			return err
		}
		p.logger.Error("failed to write deny audit event",
			zap.String("request_id", requestID),
			zap.String("reason", reason),
			zap.Error(err))
	}
	return nil
}

// remainingDetail renders a remaining-quota figure for denial details,
// using nil for the unlimited dimension
func remainingDetail(remaining int, limited bool) interface{} {
	if !limited {
		return nil
	}
	return remaining
}
