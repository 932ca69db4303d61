package qdrant

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MemoryClient is an in-process Client for tests. Errors mirror the gRPC
// status codes the real server returns.
type MemoryClient struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection

	// Fail, when set, is returned by every call for which it returns non-nil.
	Fail func(op, collection string) error
}

type memoryCollection struct {
	size   uint64
	order  []string
	points map[string]*Point
}

// NewMemoryClient creates an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryClient) fail(op, collection string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op, collection)
}

func notFound(name string) error {
	return status.Errorf(codes.NotFound, "collection %s not found", name)
}

// CreateCollection implements Client.
func (m *MemoryClient) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	if err := m.fail("create_collection", name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = &memoryCollection{size: vectorSize, points: make(map[string]*Point)}
	}
	return nil
}

// DeleteCollection implements Client.
func (m *MemoryClient) DeleteCollection(_ context.Context, name string) error {
	if err := m.fail("delete_collection", name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return notFound(name)
	}
	delete(m.collections, name)
	return nil
}

// CollectionExists implements Client.
func (m *MemoryClient) CollectionExists(_ context.Context, name string) (bool, error) {
	if err := m.fail("collection_exists", name); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// Count implements Client.
func (m *MemoryClient) Count(_ context.Context, name string) (uint64, error) {
	if err := m.fail("count", name); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return 0, notFound(name)
	}
	return uint64(len(c.points)), nil
}

// Upsert implements Client.
func (m *MemoryClient) Upsert(_ context.Context, collection string, points []*Point) error {
	if err := m.fail("upsert", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return notFound(collection)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.size {
			return status.Errorf(codes.InvalidArgument, "vector dimension %d, expected %d", len(p.Vector), c.size)
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		cp := *p
		cp.Payload = roundTripPayload(p.Payload)
		c.points[p.ID] = &cp
	}
	return nil
}

// roundTripPayload stores values as the server would return them, so ints
// come back as int64 and string slices as []interface{}.
func roundTripPayload(payload map[string]interface{}) map[string]interface{} {
	converted := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		converted[k] = convertToQdrantValue(v)
	}
	return extractPayload(converted)
}

// Search implements Client with exact cosine similarity.
func (m *MemoryClient) Search(_ context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]*ScoredPoint, error) {
	if err := m.fail("search", collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, notFound(collection)
	}

	var out []*ScoredPoint
	for _, id := range c.order {
		p, ok := c.points[id]
		if !ok || !matchesFilter(p.Payload, filter) {
			continue
		}
		out = append(out, &ScoredPoint{Point: *p, Score: cosine(vector, p.Vector)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get implements Client.
func (m *MemoryClient) Get(_ context.Context, collection string, ids []string) ([]*Point, error) {
	if err := m.fail("get", collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, notFound(collection)
	}
	var out []*Point
	for _, id := range ids {
		if p, ok := c.points[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Scroll implements Client.
func (m *MemoryClient) Scroll(_ context.Context, collection string, limit uint32, withVectors bool) ([]*Point, error) {
	if err := m.fail("scroll", collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, notFound(collection)
	}
	var out []*Point
	for _, id := range c.order {
		if uint32(len(out)) >= limit {
			break
		}
		p, ok := c.points[id]
		if !ok {
			continue
		}
		cp := *p
		if !withVectors {
			cp.Vector = nil
		}
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteByFilter implements Client.
func (m *MemoryClient) DeleteByFilter(_ context.Context, collection string, filter *Filter) error {
	if filter == nil {
		return fmt.Errorf("delete by filter requires a filter")
	}
	if err := m.fail("delete_by_filter", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return notFound(collection)
	}
	kept := c.order[:0]
	for _, id := range c.order {
		if matchesFilter(c.points[id].Payload, filter) {
			delete(c.points, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return nil
}

// Health implements Client.
func (m *MemoryClient) Health(context.Context) error {
	return m.fail("health", "")
}

// Close implements Client.
func (m *MemoryClient) Close() error { return nil }

func matchesFilter(payload map[string]interface{}, f *Filter) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !matchesCondition(payload, c) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if matchesCondition(payload, c) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if matchesCondition(payload, c) {
			return true
		}
	}
	return false
}

func matchesCondition(payload map[string]interface{}, c Condition) bool {
	got := fmt.Sprint(payload[c.Field])
	if c.MatchAny != nil {
		for _, want := range c.MatchAny {
			if got == want {
				return true
			}
		}
		return false
	}
	return got == fmt.Sprint(c.Match)
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Client = (*MemoryClient)(nil)
