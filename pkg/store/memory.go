package store

import (
	"context"
	"sync"
)

// MemoryHistory is the in-memory map-of-lists history backend. Safe for
// concurrent use across sessions; per-session access is already serialized
// by the gateway queue.
type MemoryHistory struct {
	mu    sync.RWMutex
	lists map[string][]string
}

// NewMemoryHistory returns an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{lists: make(map[string][]string)}
}

func (h *MemoryHistory) Append(_ context.Context, sessionID, entry string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lists[sessionID] = append(h.lists[sessionID], entry)
	return nil
}

func (h *MemoryHistory) Get(_ context.Context, sessionID string) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := h.lists[sessionID]
	cp := make([]string, len(src))
	copy(cp, src)
	return cp, nil
}

func (h *MemoryHistory) Last(_ context.Context, sessionID string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := h.lists[sessionID]
	if n < len(src) {
		src = src[len(src)-n:]
	}
	cp := make([]string, len(src))
	copy(cp, src)
	return cp, nil
}

func (h *MemoryHistory) Clear(_ context.Context, sessionID string, keepLast int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if keepLast <= 0 {
		delete(h.lists, sessionID)
		return nil
	}
	src := h.lists[sessionID]
	if keepLast < len(src) {
		kept := make([]string, keepLast)
		copy(kept, src[len(src)-keepLast:])
		h.lists[sessionID] = kept
	}
	return nil
}

// MemoryState is the in-memory state backend.
type MemoryState struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemoryState returns an empty in-memory state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{data: make(map[string]map[string]any)}
}

func (s *MemoryState) Get(_ context.Context, sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.data[sessionID]
	if !ok {
		return map[string]any{}, nil
	}
	cp := make(map[string]any, len(src))
	for k, v := range src {
		cp[k] = v
	}
	return cp, nil
}

func (s *MemoryState) Set(_ context.Context, sessionID string, data map[string]any) error {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = cp
	return nil
}

func (s *MemoryState) GetField(ctx context.Context, sessionID, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[sessionID][key], nil
}

func (s *MemoryState) SetField(_ context.Context, sessionID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[sessionID] == nil {
		s.data[sessionID] = map[string]any{}
	}
	s.data[sessionID][key] = value
	return nil
}

func (s *MemoryState) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

func (s *MemoryState) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string]any)
	return nil
}
