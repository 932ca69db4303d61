// Package pii finds personal data in text and replaces it with entity
// placeholders such as <EMAIL_ADDRESS>.
package pii

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Anonymizer replaces personal data in text. found reports whether any
// replacement was made; when it is false text is returned unchanged.
type Anonymizer interface {
	Anonymize(ctx context.Context, text string) (anonymized string, found bool, err error)
}

// Entity is one kind of personal data.
type Entity struct {
	Type    string
	Pattern string
	// Check, when set, must accept a match for it to count.
	Check func(match string) bool
}

// DefaultEntities covers contact details and common identifiers.
func DefaultEntities() []Entity {
	return []Entity{
		{Type: "EMAIL_ADDRESS", Pattern: `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`},
		{Type: "US_SSN", Pattern: `\b\d{3}-\d{2}-\d{4}\b`},
		{Type: "CREDIT_CARD", Pattern: `\b(?:\d[ \-]?){12,18}\d\b`, Check: luhn},
		{Type: "PHONE_NUMBER", Pattern: `(?:\+\d{1,3}[ .\-]?)?(?:\(\d{3}\)|\b\d{3})[ .\-]\d{3}[ .\-]\d{4}\b`},
		{Type: "IP_ADDRESS", Pattern: `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`},
		{Type: "IBAN_CODE", Pattern: `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){3,7}(?: ?[A-Z0-9]{1,4})?\b`},
	}
}

type compiledEntity struct {
	typ     string
	pattern *regexp.Regexp
	check   func(string) bool
}

// RegexAnonymizer replaces entity matches with "<TYPE>".
type RegexAnonymizer struct {
	entities []compiledEntity
}

// NewRegexAnonymizer compiles entities. Earlier entities win where matches
// overlap.
func NewRegexAnonymizer(entities []Entity) (*RegexAnonymizer, error) {
	a := &RegexAnonymizer{entities: make([]compiledEntity, 0, len(entities))}
	for _, e := range entities {
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.Type, err)
		}
		a.entities = append(a.entities, compiledEntity{typ: e.Type, pattern: re, check: e.Check})
	}
	return a, nil
}

type span struct {
	start, end int
	typ        string
	rank       int
}

// Anonymize implements Anonymizer.
func (a *RegexAnonymizer) Anonymize(ctx context.Context, text string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var spans []span
	for rank, e := range a.entities {
		for _, m := range e.pattern.FindAllStringIndex(text, -1) {
			if e.check != nil && !e.check(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{start: m[0], end: m[1], typ: e.typ, rank: rank})
		}
	}
	if len(spans) == 0 {
		return text, false, nil
	}

	kept := resolveOverlaps(spans)

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range kept {
		b.WriteString(text[last:s.start])
		b.WriteString("<" + s.typ + ">")
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String(), true, nil
}

// resolveOverlaps keeps non-overlapping spans in text order. On overlap the
// lower rank wins, then the longer span.
func resolveOverlaps(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].rank != spans[j].rank {
			return spans[i].rank < spans[j].rank
		}
		return spans[i].end-spans[i].start > spans[j].end-spans[j].start
	})

	var kept []span
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

func luhn(match string) bool {
	sum, n := 0, 0
	for i := len(match) - 1; i >= 0; i-- {
		c := match[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
