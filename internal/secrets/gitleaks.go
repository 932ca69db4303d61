package secrets

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// GitleaksDetector scans text with the gitleaks default rule set.
type GitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksDetector loads the gitleaks default config once and merges
// allowlist into it. allowlist may be nil.
func NewGitleaksDetector(allowlist *Allowlist) (*GitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}
	if allowlist != nil {
		if err := applyAllowlist(&d.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &GitleaksDetector{detector: d}, nil
}

// Detect implements Detector.
func (g *GitleaksDetector) Detect(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The detector accumulates findings internally; one scan at a time.
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	found := make(map[string]bool, len(findings))
	for _, f := range findings {
		found[f.RuleID] = true
	}
	return sortedKeys(found), nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "ragd allowlist"}
	for _, p := range allowlist.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: allowlist %q: %v", ErrInvalidRegex, p, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
