package messaging

import (
	"fmt"
	"sync"
)

// Registry maps correlation ids to in-flight requests. Insert, lookup and
// removal are atomic with respect to each other; removal is the point where
// a reply, an expiration and a cancellation race for the same request.
type Registry struct {
	requests map[string]*Request
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		requests: make(map[string]*Request),
	}
}

// Add registers a pending request
func (r *Registry) Add(request *Request) error {
	if request == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if request.ID() == "" {
		return fmt.Errorf("correlation ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[request.ID()]; exists {
		return fmt.Errorf("request already registered: %s", request.ID())
	}

	r.requests[request.ID()] = request
	return nil
}

// Get returns the pending request for correlationID, or nil
func (r *Registry) Get(correlationID string) *Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.requests[correlationID]
}

// Remove deregisters and returns the pending request. Only the first caller
// for a given id gets a non-nil result.
func (r *Registry) Remove(correlationID string) *Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, exists := r.requests[correlationID]
	if !exists {
		return nil
	}

	delete(r.requests, correlationID)
	return request
}

// Drain removes and returns every pending request
func (r *Registry) Drain() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]*Request, 0, len(r.requests))
	for id, request := range r.requests {
		pending = append(pending, request)
		delete(r.requests, id)
	}

	return pending
}

// Len returns the number of pending requests
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.requests)
}
