package metadata

import (
	"context"
	"sync"
)

// Static is an in-memory metadata source for tests and single-node setups.
type Static struct {
	mu          sync.RWMutex
	dataSources map[int64]DataSource
	sessions    map[int64]Session
}

// NewStatic creates an empty Static.
func NewStatic() *Static {
	return &Static{
		dataSources: make(map[int64]DataSource),
		sessions:    make(map[int64]Session),
	}
}

// PutDataSource stores or replaces ds.
func (s *Static) PutDataSource(ds DataSource) {
	s.mu.Lock()
	s.dataSources[ds.ID] = ds
	s.mu.Unlock()
}

// PutSession stores or replaces sess.
func (s *Static) PutSession(sess Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// DataSource implements DataSources.
func (s *Static) DataSource(_ context.Context, id int64) (*DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.dataSources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ds, nil
}

// Session implements Sessions.
func (s *Static) Session(_ context.Context, id int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess.DataSourceIDs = append([]int64(nil), sess.DataSourceIDs...)
	return &sess, nil
}
