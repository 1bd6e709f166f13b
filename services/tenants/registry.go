// Package tenants implements tenant authentication and per-tenant sliding
// window rate limiting over a JSON tenant manifest loaded once at startup.
package tenants

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zeroveil/gateway/utils"
	"go.uber.org/zap"
)

const (
	rpmWindow = 60 * time.Second
	tpdWindow = 24 * time.Hour
)

// HashKey returns the lowercase hex SHA-256 digest of an API key. Secrets
// are never stored or compared in plaintext.
func HashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// KeyHash is a validated SHA-256 digest of an API key
type KeyHash string

// NewKeyHash validates a key hash: exactly 64 lowercase hex characters.
// Uppercase or non-hex input fails; callers normalize before constructing.
func NewKeyHash(s string) (KeyHash, error) {
	if len(s) != 64 {
		return "", fmt.Errorf("api key hash must be a 64-character sha256 hex digest")
	}
	for _, ch := range s {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return "", fmt.Errorf("api key hash must be lowercase hex")
		}
	}
	return KeyHash(s), nil
}

// Record is a single tenant's identity, credentials and quotas.
// A rate limit of 0 means unlimited for that dimension.
type Record struct {
	TenantID     string
	APIKeyHashes []KeyHash
	RateLimitRPM int
	RateLimitTPD int
	Enabled      bool
}

// manifestEntry mirrors one tenant object in the manifest file
type manifestEntry struct {
	TenantID     string   `json:"tenant_id" validate:"required"`
	APIKeyHashes []string `json:"api_key_hashes" validate:"required,min=1,dive,required"`
	RateLimitRPM int      `json:"rate_limit_rpm" validate:"gte=0"`
	RateLimitTPD int      `json:"rate_limit_tpd" validate:"gte=0"`
	Enabled      *bool    `json:"enabled"`
}

type manifest struct {
	Tenants []manifestEntry `json:"tenants"`
}

// tokenEntry is one usage sample in the TPD window
type tokenEntry struct {
	at     time.Time
	tokens int
}

// tenantWindows holds one tenant's mutable rate state. The mutex scopes the
// prune -> check -> append sequence to a single critical section per tenant,
// so unrelated tenants never block each other.
type tenantWindows struct {
	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenEntry
}

func (w *tenantWindows) pruneRequests(now time.Time) {
	cutoff := now.Add(-rpmWindow)
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}
}

func (w *tenantWindows) pruneTokens(now time.Time) {
	cutoff := now.Add(-tpdWindow)
	i := 0
	for i < len(w.tokens) && !w.tokens[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.tokens = append(w.tokens[:0], w.tokens[i:]...)
	}
}

func (w *tenantWindows) tokensUsed() int {
	used := 0
	for _, e := range w.tokens {
		used += e.tokens
	}
	return used
}

// Registry authenticates bearer tokens against tenant key hashes and
// enforces per-tenant sliding-window rate limits. The tenant set is
// immutable after construction; only the rate windows mutate.
type Registry struct {
	tenants map[string]*Record
	order   []string // registration order, see Authenticate
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex // guards windows map, not the windows themselves
	windows map[string]*tenantWindows
}

// NewRegistry creates a Registry from tenant records. Duplicate tenant IDs
// are a construction error.
func NewRegistry(records []Record, logger *zap.Logger) (*Registry, error) {
	return NewRegistryWithClock(records, logger, time.Now)
}

// NewRegistryWithClock is NewRegistry with an injectable clock for tests
func NewRegistryWithClock(records []Record, logger *zap.Logger, now func() time.Time) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		tenants: make(map[string]*Record, len(records)),
		logger:  logger,
		now:     now,
		windows: make(map[string]*tenantWindows),
	}
	for i := range records {
		rec := records[i]
		if strings.TrimSpace(rec.TenantID) == "" {
			return nil, fmt.Errorf("tenant_id must be non-empty")
		}
		if rec.RateLimitRPM < 0 || rec.RateLimitTPD < 0 {
			return nil, fmt.Errorf("tenant %q: rate limits must be >= 0", rec.TenantID)
		}
		if _, exists := r.tenants[rec.TenantID]; exists {
			return nil, fmt.Errorf("duplicate tenant_id: %s", rec.TenantID)
		}
		r.tenants[rec.TenantID] = &rec
		r.order = append(r.order, rec.TenantID)
	}
	return r, nil
}

// Load reads, validates and parses a tenant manifest file
func Load(path string, logger *zap.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant manifest: %w", err)
	}
	return Parse(data, logger)
}

// Parse builds a Registry from raw manifest JSON
func Parse(data []byte, logger *zap.Logger) (*Registry, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid tenants JSON: %w", err)
	}
	if m.Tenants == nil {
		return nil, fmt.Errorf("tenants JSON must be an object with a 'tenants' key")
	}

	records := make([]Record, 0, len(m.Tenants))
	for i, entry := range m.Tenants {
		if err := utils.ValidateStruct(&entry); err != nil {
			return nil, fmt.Errorf("tenant entry %d: %w", i, err)
		}
		hashes := make([]KeyHash, 0, len(entry.APIKeyHashes))
		for _, h := range entry.APIKeyHashes {
			kh, err := NewKeyHash(strings.ToLower(strings.TrimSpace(h)))
			if err != nil {
				return nil, fmt.Errorf("tenant %q: %w", entry.TenantID, err)
			}
			hashes = append(hashes, kh)
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		records = append(records, Record{
			TenantID:     entry.TenantID,
			APIKeyHashes: hashes,
			RateLimitRPM: entry.RateLimitRPM,
			RateLimitTPD: entry.RateLimitTPD,
			Enabled:      enabled,
		})
	}
	return NewRegistry(records, logger)
}

// Get returns the tenant record for an ID
func (r *Registry) Get(tenantID string) (*Record, bool) {
	rec, ok := r.tenants[tenantID]
	return rec, ok
}

// Count returns the number of registered tenants
func (r *Registry) Count() int {
	return len(r.tenants)
}

// Authenticate hashes the bearer token and compares it against every
// enabled tenant's key hashes in constant time. When the same hash is
// registered under multiple enabled tenants, the LAST match in registration
// order wins. That behavior is load-order dependent and documented here so
// nobody mistakes it for a feature; operators should keep key hashes unique.
func (r *Registry) Authenticate(bearerToken string) *Record {
	token := strings.TrimSpace(bearerToken)
	if token == "" {
		return nil
	}

	digest := []byte(HashKey(token))
	var matched *Record
	for _, id := range r.order {
		rec := r.tenants[id]
		for _, candidate := range rec.APIKeyHashes {
			if subtle.ConstantTimeCompare(digest, []byte(candidate)) == 1 && rec.Enabled {
				matched = rec
			}
		}
	}
	return matched
}

func (r *Registry) windowsFor(tenantID string) *tenantWindows {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[tenantID]
	if !ok {
		w = &tenantWindows{}
		r.windows[tenantID] = w
	}
	return w
}

// CheckRateLimit reports whether the tenant may proceed. The TPD window is
// checked first; the RPM check appends the current request timestamp on
// success. Unknown or disabled tenants are always denied. A zero limit
// disables that dimension entirely.
func (r *Registry) CheckRateLimit(tenantID string) bool {
	rec, ok := r.tenants[tenantID]
	if !ok || !rec.Enabled {
		return false
	}

	w := r.windowsFor(tenantID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := r.now()

	if rec.RateLimitTPD != 0 {
		w.pruneTokens(now)
		if rec.RateLimitTPD-w.tokensUsed() <= 0 {
			return false
		}
	}

	if rec.RateLimitRPM == 0 {
		return true
	}

	w.pruneRequests(now)
	if len(w.requests) >= rec.RateLimitRPM {
		return false
	}
	w.requests = append(w.requests, now)
	return true
}

// RPMRemaining returns the requests remaining in the current minute window.
// limited is false when the tenant has no RPM limit. Unknown or disabled
// tenants report zero remaining.
func (r *Registry) RPMRemaining(tenantID string) (remaining int, limited bool) {
	rec, ok := r.tenants[tenantID]
	if !ok || !rec.Enabled {
		return 0, true
	}
	if rec.RateLimitRPM == 0 {
		return 0, false
	}

	w := r.windowsFor(tenantID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneRequests(r.now())
	remaining = rec.RateLimitRPM - len(w.requests)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// TPDRemaining returns the tokens remaining in the current day window.
// limited is false when the tenant has no TPD limit. Unknown or disabled
// tenants report zero remaining.
func (r *Registry) TPDRemaining(tenantID string) (remaining int, limited bool) {
	rec, ok := r.tenants[tenantID]
	if !ok || !rec.Enabled {
		return 0, true
	}
	if rec.RateLimitTPD == 0 {
		return 0, false
	}

	w := r.windowsFor(tenantID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneTokens(r.now())
	remaining = rec.RateLimitTPD - w.tokensUsed()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// RecordUsage appends a token usage sample to the tenant's TPD window.
// No-op for tenants without a TPD limit. Negative counts are rejected.
func (r *Registry) RecordUsage(tenantID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be >= 0")
	}
	rec, ok := r.tenants[tenantID]
	if !ok || !rec.Enabled {
		return nil
	}
	if rec.RateLimitTPD == 0 {
		return nil
	}

	w := r.windowsFor(tenantID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := r.now()
	w.pruneTokens(now)
	w.tokens = append(w.tokens, tokenEntry{at: now, tokens: tokens})
	return nil
}
