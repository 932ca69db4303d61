// Package citation defines the inline marker models use to cite chunks.
//
// Version 1 grammar:
//
//	marker = "<a class='rag_citation' href='" id "'>"
//	id     = 1*( ALPHA / DIGIT / "_" / "." / ":" / "-" )
//
// Quotes are single quotes and attribute order is fixed. Ids need no
// escaping since quotes and angle brackets are outside the id alphabet.
// Every marker Format produces is found by Extract. Any other markup in an
// answer is ignored.
package citation

import (
	"errors"
	"fmt"
	"regexp"
)

// Version is the grammar revision implemented here.
const Version = 1

const (
	markerPrefix = "<a class='rag_citation' href='"
	markerSuffix = "'>"
	idChars      = `[A-Za-z0-9_.:\-]+`
)

// ErrInvalidID is returned by Format for ids outside the id alphabet.
var ErrInvalidID = errors.New("invalid citation id")

var (
	idPattern     = regexp.MustCompile(`^` + idChars + `$`)
	markerPattern = regexp.MustCompile(regexp.QuoteMeta(markerPrefix) + `(` + idChars + `)` + regexp.QuoteMeta(markerSuffix))
)

// Format returns the opening marker citing id.
func Format(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return markerPrefix + id + markerSuffix, nil
}

// Extract returns the ids cited in text, in order of first appearance.
func Extract(text string) []string {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Instructions is the prompt fragment that teaches a model the grammar.
func Instructions() string {
	return "When a statement in your answer is supported by a context chunk, cite it inline " +
		"immediately after the statement as " + markerPrefix + "NODE_ID" + markerSuffix + "[n]</a> " +
		"where NODE_ID is the exact id shown for that chunk and n counts citations from 1. " +
		"Use single quotes exactly as shown. Do not invent ids and do not cite chunks you did not use."
}
