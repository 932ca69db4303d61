// Package secrets detects credentials in text before it is indexed.
//
// Detectors report categories, never the matched values. A category is the
// identifier of the rule that matched (for example "aws-access-key-id").
package secrets

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrInvalidRegex indicates a rule or allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Detector reports the categories of secrets found in text. A nil slice
// means nothing was found.
type Detector interface {
	Detect(ctx context.Context, text string) ([]string, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, text string) ([]string, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

// Multi runs every detector and returns the sorted union of their
// categories. The first error aborts the scan.
func Multi(detectors ...Detector) Detector {
	return DetectorFunc(func(ctx context.Context, text string) ([]string, error) {
		seen := make(map[string]bool)
		for _, d := range detectors {
			cats, err := d.Detect(ctx, text)
			if err != nil {
				return nil, err
			}
			for _, c := range cats {
				seen[c] = true
			}
		}
		return sortedKeys(seen), nil
	})
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
