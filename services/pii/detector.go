// Package pii implements the regex-based content screening gate.
//
// The gate is a tripwire, not a comprehensive detector: it catches obvious
// patterns (SSN, email, phone, credit card, IPv4) and deliberately favors
// false positives. There is no name/address detection and no context
// awareness ("not my SSN" still triggers). Screening is enabled by default;
// security is opt-out, not opt-in.
package pii

import "regexp"

// Type represents a category of sensitive data the gate can detect
type Type string

const (
	TypeSSN        Type = "ssn"
	TypeEmail      Type = "email"
	TypePhone      Type = "phone"
	TypeCreditCard Type = "credit_card"
	TypeIPAddress  Type = "ip_address"
)

// typeOrder fixes the iteration order so Scan output is deterministic
var typeOrder = []Type{TypeSSN, TypeEmail, TypePhone, TypeCreditCard, TypeIPAddress}

var patterns = map[Type]*regexp.Regexp{
	// SSN: 123-45-6789 or 123 45 6789
	TypeSSN: regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`),
	// Email: user@domain.tld
	TypeEmail: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	// US phone: (123) 456-7890, 123-456-7890, 123.456.7890, 1234567890
	TypePhone: regexp.MustCompile(`(?:\(\d{3}\)\s?|\b\d{3}[-.\s]?)\d{3}[-.\s]?\d{4}\b`),
	// Credit card: 16 digits with optional separators
	TypeCreditCard: regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	// IPv4 address (potential identifier)
	TypeIPAddress: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

// Match is a detected instance of sensitive data. The matched substring is
// never stored, only its offsets, so matches are safe to log.
type Match struct {
	Type  Type
	Start int
	End   int
}

// Config controls which patterns the detector applies.
// The zero value is NOT a usable config; use DefaultConfig or NewConfig.
type Config struct {
	Enabled  bool
	Patterns []Type
}

// DefaultConfig enables every pattern. Fail-safe: enabled by default.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Patterns: append([]Type(nil), typeOrder...),
	}
}

// NewConfig builds a Config from raw pattern names. Unknown names are
// ignored; if none of the names are valid the full default set applies.
func NewConfig(enabled bool, patternNames []string) Config {
	var valid []Type
	for _, name := range patternNames {
		t := Type(name)
		if _, ok := patterns[t]; ok {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		valid = append([]Type(nil), typeOrder...)
	}
	return Config{Enabled: enabled, Patterns: valid}
}

// Detector scans text for the configured pattern types. It is stateless and
// safe for concurrent use.
type Detector struct {
	config Config
	active map[Type]*regexp.Regexp
}

// NewDetector creates a Detector from config
func NewDetector(config Config) *Detector {
	active := make(map[Type]*regexp.Regexp, len(config.Patterns))
	for _, t := range config.Patterns {
		if p, ok := patterns[t]; ok {
			active[t] = p
		}
	}
	return &Detector{config: config, active: active}
}

// Enabled reports whether the gate is on. When off, every operation returns
// empty results unconditionally.
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// Scan returns all matches across the enabled pattern types, in canonical
// type order then match position. Returns nil when the detector is disabled.
func (d *Detector) Scan(text string) []Match {
	if !d.config.Enabled {
		return nil
	}

	var matches []Match
	for _, t := range typeOrder {
		pattern, ok := d.active[t]
		if !ok {
			continue
		}
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{Type: t, Start: loc[0], End: loc[1]})
		}
	}
	return matches
}

// ContainsPII reports whether text matches any enabled pattern. It
// short-circuits on the first match, so it is cheaper than Scan when only a
// boolean is needed.
func (d *Detector) ContainsPII(text string) bool {
	if !d.config.Enabled {
		return false
	}

	for _, t := range typeOrder {
		pattern, ok := d.active[t]
		if !ok {
			continue
		}
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// ScanMessages scans each text independently and returns a map from index
// to matches. Only indices with at least one match are included.
func (d *Detector) ScanMessages(texts []string) map[int][]Match {
	if !d.config.Enabled {
		return map[int][]Match{}
	}

	results := make(map[int][]Match)
	for i, text := range texts {
		if matches := d.Scan(text); len(matches) > 0 {
			results[i] = matches
		}
	}
	return results
}

// DetectedTypes returns the unique set of match types in canonical order,
// for inclusion in denial details (never the matched text).
func DetectedTypes(matches []Match) []string {
	seen := make(map[Type]bool, len(matches))
	for _, m := range matches {
		seen[m.Type] = true
	}
	var types []string
	for _, t := range typeOrder {
		if seen[t] {
			types = append(types, string(t))
		}
	}
	return types
}
