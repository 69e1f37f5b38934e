package rules

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrFlowNotFound is returned by stores when no flow has the requested ID.
var ErrFlowNotFound = errors.New("flow not found")

// ErrFlowExists is returned by Add when the ID is already taken.
var ErrFlowExists = errors.New("flow already exists")

// FlowStore manages flow persistence and retrieval
type FlowStore interface {
	// Add a new flow
	Add(flow *Flow) error

	// Get a flow by ID
	Get(id string) (*Flow, error)

	// List all flows, oldest first
	List() ([]*Flow, error)

	// Update an existing flow, replacing its rules
	Update(flow *Flow) error

	// Delete a flow
	Delete(id string) error
}

// InMemoryFlowStore implements FlowStore using an in-memory map
// Thread-safe with RWMutex. Flows are copied on the way in and out so callers
// never share rule slices with the store.
type InMemoryFlowStore struct {
	flows map[string]*Flow
	order []string
	mu    sync.RWMutex
}

// NewInMemoryFlowStore creates a new in-memory flow store
func NewInMemoryFlowStore() *InMemoryFlowStore {
	return &InMemoryFlowStore{
		flows: make(map[string]*Flow),
	}
}

// Add adds a new flow to the store
// Sets CreatedAt and UpdatedAt timestamps
func (s *InMemoryFlowStore) Add(flow *Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[flow.ID]; exists {
		return fmt.Errorf("%w: %s", ErrFlowExists, flow.ID)
	}

	now := time.Now()
	flow.CreatedAt = now
	flow.UpdatedAt = now
	s.flows[flow.ID] = flow.Clone()
	s.order = append(s.order, flow.ID)
	return nil
}

// Get retrieves a flow by ID
func (s *InMemoryFlowStore) Get(id string) (*Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, exists := s.flows[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return flow.Clone(), nil
}

// List returns all flows in insertion order
func (s *InMemoryFlowStore) List() ([]*Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flows := make([]*Flow, 0, len(s.order))
	for _, id := range s.order {
		flows = append(flows, s.flows[id].Clone())
	}
	return flows, nil
}

// Update replaces an existing flow
// Updates UpdatedAt timestamp, preserves CreatedAt
func (s *InMemoryFlowStore) Update(flow *Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.flows[flow.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, flow.ID)
	}

	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now()
	s.flows[flow.ID] = flow.Clone()
	return nil
}

// Delete removes a flow from the store
func (s *InMemoryFlowStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[id]; !exists {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}

	delete(s.flows, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return nil
}
