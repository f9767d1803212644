// Package compliance evaluates datasets and sources against the legal
// usage policy: license/terms blocklists, the zero-cost review
// escalation, domain blocks, freshness gates, and the rollout sign-off
// gate.
package compliance

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Mode selects how blocked sources are handled.
type Mode string

const (
	// ModeEnforce drops blocked sources from the usable set.
	ModeEnforce Mode = "enforce"
	// ModeAudit reports blocked sources but retains them.
	ModeAudit Mode = "audit"
)

// Action is the per-dataset compliance decision.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionBlock  Action = "block"
	ActionReview Action = "review"
)

// Signoff records the operator approval for a rollout. Both fields must
// be populated before the gate clears.
type Signoff struct {
	Required   bool   `yaml:"required"`
	ApprovedBy string `yaml:"approvedBy"`
	ApprovedAt string `yaml:"approvedAt"`
}

// Blocklist holds the three independently maintained restriction pattern
// lists. Patterns are case-insensitive regular expressions.
type Blocklist struct {
	LicensePatterns []string `yaml:"licensePatterns"`
	TermsPatterns   []string `yaml:"termsPatterns"`
	AccessPatterns  []string `yaml:"accessPatterns"`
}

// Review configures the zero-cost escalation applied to datasets that
// pass the blocklists.
type Review struct {
	RequireLicense bool     `yaml:"requireLicense"`
	RequireTerms   bool     `yaml:"requireTerms"`
	CostPatterns   []string `yaml:"costPatterns"`
}

// Policy is the full compliance policy document.
type Policy struct {
	Mode                Mode      `yaml:"mode"`
	Signoff             Signoff   `yaml:"signoff"`
	BlockedDomains      []string  `yaml:"blockedDomains"`
	Blocklist           Blocklist `yaml:"blocklist"`
	Review              Review    `yaml:"review"`
	AttributionTemplate string    `yaml:"attributionTemplate"`
	AttributionFallback string    `yaml:"attributionFallback"`
	RequireAttribution  bool      `yaml:"requireAttribution"`
}

// DefaultPolicy returns the built-in policy used when no policy file is
// configured.
func DefaultPolicy() Policy {
	return Policy{
		Mode: ModeEnforce,
		Signoff: Signoff{
			Required: true,
		},
		Blocklist: Blocklist{
			LicensePatterns: []string{
				`all rights reserved`,
				`\bnon[-\s]?commercial\b`,
				`\bno\s+commercial\b`,
				`\bno\s+redistribution\b`,
				`\bno\s+reuse\b`,
				`\bno\s+derivatives?\b`,
				`\bpermission\s+required\b`,
				`\bproprietary\b`,
				`\bconfidential\b`,
				`\binternal\s+use\s+only\b`,
			},
			TermsPatterns: []string{
				`\bno\s+scraping\b`,
				`\bno\s+automated\b`,
				`\brobots?\b`,
				`\baccess\s+restricted\b`,
				`\blogin\s+required\b`,
				`\baccount\s+required\b`,
				`\bdo\s+not\s+use\b`,
				`\bprohibited\b`,
			},
			AccessPatterns: []string{
				`\brestricted\b`,
				`\blicense\s+required\b`,
				`\bpermission\s+required\b`,
				`\bconfidential\b`,
			},
		},
		Review: Review{
			RequireLicense: true,
			RequireTerms:   true,
			CostPatterns: []string{
				`\bfee\b`,
				`\bsubscription\b`,
				`\bpaid\b`,
				`\bpurchase\b`,
				`\bpricing\b`,
			},
		},
		AttributionTemplate: `{source} — "{title}" ({portalDomain})`,
		AttributionFallback: `{portalDomain} — "{title}"`,
		RequireAttribution:  true,
	}
}

// LoadPolicy reads a YAML policy file over the defaults. Fields absent
// from the file keep their default values.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, eris.Wrap(err, "compliance: read policy file")
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, eris.Wrap(err, "compliance: parse policy file")
	}
	return policy, nil
}

// Engine applies a compiled policy.
type Engine struct {
	policy  Policy
	license []*regexp.Regexp
	terms   []*regexp.Regexp
	access  []*regexp.Regexp
	cost    []*regexp.Regexp
}

// NewEngine compiles a policy. Invalid patterns fail loudly rather than
// silently weakening the blocklist.
func NewEngine(policy Policy) (*Engine, error) {
	e := &Engine{policy: policy}
	var err error
	if e.license, err = compilePatterns(policy.Blocklist.LicensePatterns); err != nil {
		return nil, eris.Wrap(err, "compliance: license patterns")
	}
	if e.terms, err = compilePatterns(policy.Blocklist.TermsPatterns); err != nil {
		return nil, eris.Wrap(err, "compliance: terms patterns")
	}
	if e.access, err = compilePatterns(policy.Blocklist.AccessPatterns); err != nil {
		return nil, eris.Wrap(err, "compliance: access patterns")
	}
	if e.cost, err = compilePatterns(policy.Review.CostPatterns); err != nil {
		return nil, eris.Wrap(err, "compliance: cost patterns")
	}
	return e, nil
}

// MustEngine compiles the default policy; the built-in patterns are
// known-good.
func MustEngine() *Engine {
	e, err := NewEngine(DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return e
}

// Policy returns the policy the engine was built from.
func (e *Engine) Policy() Policy { return e.policy }

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, eris.Wrapf(err, "compile %q", p)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchesAny(value string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
