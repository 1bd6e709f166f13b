package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zeroveil/gateway/services/pii"
)

// PolicyError indicates an invalid policy document. Policy errors are fatal
// at startup: the process must refuse to serve traffic rather than run with
// ambiguous policy.
type PolicyError struct {
	msg string
}

// Error implements the error interface
func (e *PolicyError) Error() string {
	return e.msg
}

func policyErrorf(format string, args ...interface{}) *PolicyError {
	return &PolicyError{msg: fmt.Sprintf(format, args...)}
}

// LoggingSink selects where audit events are written
type LoggingSink string

const (
	SinkJSONL  LoggingSink = "jsonl"
	SinkStdout LoggingSink = "stdout"
)

// LoggingModeMetadataOnly is the single supported logging mode: audit lines
// carry request metadata, never message content.
const LoggingModeMetadataOnly = "metadata_only"

// RetentionConfig bounds the audit log's size and history
type RetentionConfig struct {
	MaxSizeMB   int
	MaxAgeDays  int
	RotateCount int
}

// DefaultRetention returns the default retention settings
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		MaxSizeMB:   100,
		MaxAgeDays:  30,
		RotateCount: 5,
	}
}

// Policy is the validated, immutable admission policy. Construct only via
// ParsePolicy/LoadPolicy; a Policy that exists is a Policy that validated.
type Policy struct {
	Version                    string
	EnforceZDROnly             bool
	RequireScrubbedAttestation bool
	AllowedProviders           []string
	AllowedModels              []string
	MaxMessages                int
	MaxCharsPerMessage         int
	LoggingMode                string
	LoggingSink                LoggingSink
	LoggingPath                string
	Retention                  RetentionConfig
	PIIGate                    pii.Config
}

// ModelAllowed reports whether the requested model passes the allow-list.
// A wildcard entry "*" admits any model.
func (p *Policy) ModelAllowed(model string) bool {
	for _, m := range p.AllowedModels {
		if m == "*" || m == model {
			return true
		}
	}
	return false
}

// rawPolicy mirrors the policy file layout before validation
type rawPolicy struct {
	Version                    string        `json:"version"`
	EnforceZDROnly             *bool         `json:"enforce_zdr_only"`
	RequireScrubbedAttestation *bool         `json:"require_scrubbed_attestation"`
	AllowedProviders           []string      `json:"allowed_providers"`
	AllowedModels              []string      `json:"allowed_models"`
	Limits                     *rawLimits    `json:"limits"`
	Logging                    *rawLogging   `json:"logging"`
	Retention                  *rawRetention `json:"retention"`
	PIIGate                    *rawPIIGate   `json:"pii_gate"`
}

type rawLimits struct {
	MaxMessages        *int `json:"max_messages"`
	MaxCharsPerMessage *int `json:"max_chars_per_message"`
}

type rawLogging struct {
	Mode string `json:"mode"`
	Sink string `json:"sink"`
	Path string `json:"path"`
}

type rawRetention struct {
	MaxSizeMB   *int `json:"max_size_mb"`
	MaxAgeDays  *int `json:"max_age_days"`
	RotateCount *int `json:"rotate_count"`
}

type rawPIIGate struct {
	Enabled  *bool    `json:"enabled"`
	Patterns []string `json:"patterns"`
}

// LoadPolicy reads and validates a policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses raw policy JSON into a validated Policy. Construction
// fails atomically: any violation returns a PolicyError and no Policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var raw rawPolicy
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, policyErrorf("policy file must be a JSON object: %v", err)
	}

	p := &Policy{
		Version:                    raw.Version,
		EnforceZDROnly:             boolOr(raw.EnforceZDROnly, true),
		RequireScrubbedAttestation: boolOr(raw.RequireScrubbedAttestation, true),
		AllowedProviders:           append([]string(nil), raw.AllowedProviders...),
		AllowedModels:              append([]string(nil), raw.AllowedModels...),
		MaxMessages:                50,
		MaxCharsPerMessage:         16000,
		LoggingMode:                LoggingModeMetadataOnly,
		LoggingSink:                SinkJSONL,
		Retention:                  DefaultRetention(),
		PIIGate:                    pii.DefaultConfig(),
	}
	if p.Version == "" {
		p.Version = "0"
	}
	if len(p.AllowedModels) == 0 {
		p.AllowedModels = []string{"*"}
	}
	if raw.Limits != nil {
		p.MaxMessages = intOr(raw.Limits.MaxMessages, p.MaxMessages)
		p.MaxCharsPerMessage = intOr(raw.Limits.MaxCharsPerMessage, p.MaxCharsPerMessage)
	}

	if len(p.AllowedProviders) == 0 {
		return nil, policyErrorf("allowed_providers must be non-empty")
	}

	if raw.Logging != nil {
		if raw.Logging.Mode != "" {
			p.LoggingMode = raw.Logging.Mode
		}
		if raw.Logging.Sink != "" {
			p.LoggingSink = LoggingSink(raw.Logging.Sink)
		}
		p.LoggingPath = raw.Logging.Path
	}
	if p.LoggingMode != LoggingModeMetadataOnly {
		return nil, policyErrorf("unsupported logging mode: %q", p.LoggingMode)
	}
	if p.LoggingSink != SinkJSONL && p.LoggingSink != SinkStdout {
		return nil, policyErrorf("unsupported logging sink: %q", p.LoggingSink)
	}
	if p.LoggingSink == SinkJSONL && p.LoggingPath == "" {
		return nil, policyErrorf("logging.path required when logging.sink is jsonl")
	}

	if raw.Retention != nil {
		p.Retention.MaxSizeMB = intOr(raw.Retention.MaxSizeMB, p.Retention.MaxSizeMB)
		p.Retention.MaxAgeDays = intOr(raw.Retention.MaxAgeDays, p.Retention.MaxAgeDays)
		p.Retention.RotateCount = intOr(raw.Retention.RotateCount, p.Retention.RotateCount)
	}
	if p.Retention.MaxSizeMB < 0 {
		return nil, policyErrorf("retention.max_size_mb must be >= 0")
	}
	if p.Retention.MaxAgeDays < 0 {
		return nil, policyErrorf("retention.max_age_days must be >= 0")
	}
	if p.Retention.RotateCount < 0 {
		return nil, policyErrorf("retention.rotate_count must be >= 0")
	}

	if raw.PIIGate != nil {
		p.PIIGate = pii.NewConfig(boolOr(raw.PIIGate.Enabled, true), raw.PIIGate.Patterns)
	}

	return p, nil
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}
