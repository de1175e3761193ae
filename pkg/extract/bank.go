package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed banks.json
var defaultBankRules []byte

// BankRule maps a source app identifier marker to a bank label.
type BankRule struct {
	// Marker is matched as a substring of the lower-cased source app id.
	Marker string `json:"marker"`
	Label  string `json:"label"`
	// AppendSuffix appends the masked card suffix to Label.
	AppendSuffix bool `json:"appendSuffix,omitempty"`
}

// BankResolver resolves a source app id to a normalized bank label.
// Rules are evaluated in order and the first match wins.
type BankResolver struct {
	rules []BankRule
}

// NewBankResolver creates a resolver over the given ordered rules.
func NewBankResolver(rules []BankRule) *BankResolver {
	normalized := make([]BankRule, len(rules))
	for i, r := range rules {
		r.Marker = strings.ToLower(r.Marker)
		normalized[i] = r
	}
	return &BankResolver{rules: normalized}
}

// DefaultBankResolver returns a resolver over the built-in bank table.
func DefaultBankResolver() (*BankResolver, error) {
	rules, err := ParseBankRules(defaultBankRules)
	if err != nil {
		return nil, fmt.Errorf("parsing built-in bank rules: %w", err)
	}
	return NewBankResolver(rules), nil
}

// ParseBankRules decodes an ordered JSON array of bank rules.
func ParseBankRules(data []byte) ([]BankRule, error) {
	var rules []BankRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	for i, r := range rules {
		if r.Marker == "" {
			return nil, fmt.Errorf("rule %d: marker is required", i)
		}
		if r.Label == "" {
			return nil, fmt.Errorf("rule %d (%s): label is required", i, r.Marker)
		}
	}
	return rules, nil
}

// Resolve returns the bank label for sourceApp, or an empty string when the
// source is not a recognized bank or wallet.
func (b *BankResolver) Resolve(sourceApp, maskedSuffix string) string {
	app := strings.ToLower(sourceApp)
	for _, r := range b.rules {
		if !strings.Contains(app, r.Marker) {
			continue
		}
		if r.AppendSuffix {
			return r.Label + maskedSuffix
		}
		return r.Label
	}
	return ""
}

// Rules returns a copy of the resolver's rules in evaluation order.
func (b *BankResolver) Rules() []BankRule {
	out := make([]BankRule, len(b.rules))
	copy(out, b.rules)
	return out
}
