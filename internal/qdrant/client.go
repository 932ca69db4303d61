// Package qdrant is the vector backend connection used by collection handles.
//
// GRPCClient is constructed once per process and shared. It is safe for
// concurrent use; individual calls are bounded by RequestTimeout and retried
// on transient gRPC failures.
package qdrant

import (
	"context"
	"errors"
)

// ErrInvalidPointID is returned when a point id is not a UUID.
var ErrInvalidPointID = errors.New("invalid point id")

// Client is the subset of the vector backend that ragd depends on.
type Client interface {
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	Count(ctx context.Context, name string) (uint64, error)

	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]*ScoredPoint, error)
	Get(ctx context.Context, collection string, ids []string) ([]*Point, error)
	// Scroll returns up to limit points with payload, and vectors when withVectors is set.
	Scroll(ctx context.Context, collection string, limit uint32, withVectors bool) ([]*Point, error)
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error

	Health(ctx context.Context) error
	Close() error
}

// Point represents a vector point.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint represents a search result with score.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter represents a payload filter.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// Condition matches a payload field. Exactly one of Match or MatchAny is set.
type Condition struct {
	Field    string
	Match    interface{}
	MatchAny []string
}

// FieldEquals builds a filter requiring field == value.
func FieldEquals(field string, value interface{}) *Filter {
	return &Filter{Must: []Condition{{Field: field, Match: value}}}
}

// FieldIn builds a filter requiring field to equal one of values.
func FieldIn(field string, values []string) *Filter {
	return &Filter{Must: []Condition{{Field: field, MatchAny: values}}}
}
