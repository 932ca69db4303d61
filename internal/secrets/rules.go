package secrets

import (
	"context"
	"fmt"
	"regexp"
)

// Rule is one regular-expression secret pattern.
type Rule struct {
	ID      string
	Pattern string
	// Keywords gate the rule: it only runs when one of them appears in the
	// text, case-insensitively. Empty means always run.
	Keywords []string
}

// DefaultRules covers credentials with self-identifying prefixes and
// assignments of obviously sensitive names.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`},
		{ID: "aws-secret-access-key", Pattern: `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}`, Keywords: []string{"aws", "secret"}},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{ID: "github-token", Pattern: `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `(?:sk|rk)_live_[A-Za-z0-9]{24,}`},
		{ID: "jwt", Pattern: `eyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`},
		{ID: "google-api-key", Pattern: `AIza[A-Za-z0-9_\-]{35}`},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9_\-]{40,}`},
		{ID: "database-url", Pattern: `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@[^\s]+`},
		{ID: "basic-auth-header", Pattern: `(?i)authorization\s*:\s*basic\s+[A-Za-z0-9+/=]{12,}`, Keywords: []string{"authorization"}},
		{ID: "password-assignment", Pattern: `(?i)\b(?:password|passwd|pwd|secret_key|api_secret)\s*[:=]\s*['"]?[^\s'"]{8,}`, Keywords: []string{"pass", "pwd", "secret"}},
	}
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// RuleDetector matches text against regular-expression rules. Matches that
// also match an allowlist pattern are ignored.
type RuleDetector struct {
	rules     []compiledRule
	allowlist []*regexp.Regexp
}

// NewRuleDetector compiles rules and allowlist patterns.
func NewRuleDetector(rules []Rule, allowlist *Allowlist) (*RuleDetector, error) {
	d := &RuleDetector{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRegex, r.ID, err)
		}
		cr := compiledRule{id: r.ID, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		d.rules = append(d.rules, cr)
	}

	if allowlist != nil {
		for _, p := range allowlist.Regexes {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("%w: allowlist %q: %v", ErrInvalidRegex, p, err)
			}
			d.allowlist = append(d.allowlist, re)
		}
	}
	return d, nil
}

// Detect implements Detector.
func (d *RuleDetector) Detect(ctx context.Context, text string) ([]string, error) {
	found := make(map[string]bool)
	for _, r := range d.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.applies(text) {
			continue
		}
		for _, m := range r.pattern.FindAllString(text, -1) {
			if !d.allowed(m) {
				found[r.id] = true
				break
			}
		}
	}
	return sortedKeys(found), nil
}

func (r compiledRule) applies(text string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}

func (d *RuleDetector) allowed(match string) bool {
	for _, re := range d.allowlist {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
