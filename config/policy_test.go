package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeroveil/gateway/services/pii"
)

const minimalPolicy = `{
	"allowed_providers": ["anthropic"],
	"logging": {"sink": "stdout"}
}`

func TestParsePolicy_Defaults(t *testing.T) {
	p, err := ParsePolicy([]byte(minimalPolicy))
	require.NoError(t, err)

	assert.Equal(t, "0", p.Version)
	assert.True(t, p.EnforceZDROnly)
	assert.True(t, p.RequireScrubbedAttestation)
	assert.Equal(t, []string{"anthropic"}, p.AllowedProviders)
	assert.Equal(t, []string{"*"}, p.AllowedModels)
	assert.Equal(t, 50, p.MaxMessages)
	assert.Equal(t, 16000, p.MaxCharsPerMessage)
	assert.Equal(t, LoggingModeMetadataOnly, p.LoggingMode)
	assert.Equal(t, SinkStdout, p.LoggingSink)
	assert.Equal(t, DefaultRetention(), p.Retention)
	assert.True(t, p.PIIGate.Enabled)
}

func TestParsePolicy_FullDocument(t *testing.T) {
	doc := `{
		"version": "2024-06-01",
		"enforce_zdr_only": false,
		"require_scrubbed_attestation": false,
		"allowed_providers": ["anthropic", "openai"],
		"allowed_models": ["claude-3-5-sonnet"],
		"limits": {"max_messages": 10, "max_chars_per_message": 500},
		"logging": {"mode": "metadata_only", "sink": "jsonl", "path": "logs/audit.jsonl"},
		"retention": {"max_size_mb": 10, "max_age_days": 7, "rotate_count": 3},
		"pii_gate": {"enabled": true, "patterns": ["ssn", "email"]}
	}`

	p, err := ParsePolicy([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "2024-06-01", p.Version)
	assert.False(t, p.EnforceZDROnly)
	assert.False(t, p.RequireScrubbedAttestation)
	assert.Equal(t, []string{"anthropic", "openai"}, p.AllowedProviders)
	assert.Equal(t, []string{"claude-3-5-sonnet"}, p.AllowedModels)
	assert.Equal(t, 10, p.MaxMessages)
	assert.Equal(t, 500, p.MaxCharsPerMessage)
	assert.Equal(t, SinkJSONL, p.LoggingSink)
	assert.Equal(t, "logs/audit.jsonl", p.LoggingPath)
	assert.Equal(t, RetentionConfig{MaxSizeMB: 10, MaxAgeDays: 7, RotateCount: 3}, p.Retention)
	assert.Equal(t, []pii.Type{pii.TypeSSN, pii.TypeEmail}, p.PIIGate.Patterns)
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "not json",
			doc:     `not json`,
			wantErr: "policy file must be a JSON object",
		},
		{
			name:    "missing providers",
			doc:     `{"logging": {"sink": "stdout"}}`,
			wantErr: "allowed_providers must be non-empty",
		},
		{
			name:    "empty providers",
			doc:     `{"allowed_providers": [], "logging": {"sink": "stdout"}}`,
			wantErr: "allowed_providers must be non-empty",
		},
		{
			name:    "unsupported logging mode",
			doc:     `{"allowed_providers": ["anthropic"], "logging": {"mode": "full", "sink": "stdout"}}`,
			wantErr: `unsupported logging mode: "full"`,
		},
		{
			name:    "unsupported sink",
			doc:     `{"allowed_providers": ["anthropic"], "logging": {"sink": "syslog"}}`,
			wantErr: `unsupported logging sink: "syslog"`,
		},
		{
			name:    "jsonl without path",
			doc:     `{"allowed_providers": ["anthropic"], "logging": {"sink": "jsonl"}}`,
			wantErr: "logging.path required when logging.sink is jsonl",
		},
		{
			name:    "negative max size",
			doc:     `{"allowed_providers": ["anthropic"], "logging": {"sink": "stdout"}, "retention": {"max_size_mb": -1}}`,
			wantErr: "retention.max_size_mb must be >= 0",
		},
		{
			name:    "negative max age",
			doc:     `{"allowed_providers": ["anthropic"], "logging": {"sink": "stdout"}, "retention": {"max_age_days": -1}}`,
			wantErr: "retention.max_age_days must be >= 0",
		},
		{
			name:    "negative rotate count",
			doc:     `{"allowed_providers": ["anthropic"], "logging": {"sink": "stdout"}, "retention": {"rotate_count": -1}}`,
			wantErr: "retention.rotate_count must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.doc))
			assert.Nil(t, p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var policyErr *PolicyError
			assert.ErrorAs(t, err, &policyErr)
		})
	}
}

func TestParsePolicy_Deterministic(t *testing.T) {
	first, err := ParsePolicy([]byte(minimalPolicy))
	require.NoError(t, err)
	second, err := ParsePolicy([]byte(minimalPolicy))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPolicy_ModelAllowed(t *testing.T) {
	tests := []struct {
		name   string
		models []string
		model  string
		want   bool
	}{
		{"wildcard admits anything", []string{"*"}, "any-model", true},
		{"exact match", []string{"claude-3-5-sonnet"}, "claude-3-5-sonnet", true},
		{"no match", []string{"claude-3-5-sonnet"}, "gpt-4", false},
		{"wildcard among entries", []string{"claude-3-5-sonnet", "*"}, "gpt-4", true},
		{"empty list", nil, "gpt-4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Policy{AllowedModels: tt.models}
			assert.Equal(t, tt.want, p.ModelAllowed(tt.model))
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalPolicy), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic"}, p.AllowedProviders)
}

func TestLoadPolicy_Missing(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy file")
}

func TestDefaultRetention(t *testing.T) {
	r := DefaultRetention()
	assert.Equal(t, 100, r.MaxSizeMB)
	assert.Equal(t, 30, r.MaxAgeDays)
	assert.Equal(t, 5, r.RotateCount)
}
