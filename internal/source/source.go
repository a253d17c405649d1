// Package source provides read access to the server-owned content that
// offline items mirror.
package source

import (
	"context"
	"errors"
	"sync"

	"github.com/kalambet/offsync/internal/kind"
)

// ErrNotFound is returned when the source has no item with the given id.
var ErrNotFound = errors.New("source item not found")

// ContentSource fetches the current server copy of an item.
type ContentSource interface {
	GetSourceItem(ctx context.Context, k kind.Kind, sourceID string) (kind.Payload, error)
}

type memKey struct {
	kind kind.Kind
	id   string
}

// Memory is an in-process ContentSource. The zero value is not usable; call NewMemory.
type Memory struct {
	mu    sync.RWMutex
	items map[memKey]kind.Payload
}

func NewMemory() *Memory {
	return &Memory{items: make(map[memKey]kind.Payload)}
}

// Put stores or replaces an item.
func (m *Memory) Put(k kind.Kind, sourceID string, p kind.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[memKey{k, sourceID}] = clonePayload(p)
}

// Delete removes an item.
func (m *Memory) Delete(k kind.Kind, sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, memKey{k, sourceID})
}

func (m *Memory) GetSourceItem(ctx context.Context, k kind.Kind, sourceID string) (kind.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[memKey{k, sourceID}]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayload(p), nil
}

func clonePayload(p kind.Payload) kind.Payload {
	out := make(kind.Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
