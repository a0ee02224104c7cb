// Package cache stores ranked lists between record or model changes.
//
// Invalidation never deletes entries. Every key embeds a generation number
// and Invalidate bumps it, so stale lists simply stop being addressed and
// expire on their own.
package cache

import (
	"context"
	"sync"

	"github.com/gartstein/priority/internal/priority/models"
)

// Memory is a process-local cache.
type Memory struct {
	mu    sync.RWMutex
	lists map[string]models.RankedList
}

func NewMemory() *Memory {
	return &Memory{lists: make(map[string]models.RankedList)}
}

func (m *Memory) Get(_ context.Context, key string) (models.RankedList, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[key]
	return l, ok
}

func (m *Memory) Set(_ context.Context, key string, list models.RankedList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = list
}

func (m *Memory) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = make(map[string]models.RankedList)
	return nil
}
