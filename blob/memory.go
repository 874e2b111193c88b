package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Stores objects in memory. Used in tests and for dry runs.
type Memory struct {
	mutex       sync.Mutex
	objects     map[string][]byte
	invalidated []string
}

func NewMemory() *Memory {
	return &Memory{
		objects: map[string][]byte{},
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, found := m.objects[key]
	if !found {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, options PutOptions) error {
	if options.Compress {
		data = Compress(data)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = stored
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	keys := []string{}
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Invalidate(ctx context.Context, paths []string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.invalidated = append(m.invalidated, paths...)
	return nil
}

// Invalidated returns all paths passed to Invalidate, in order.
func (m *Memory) Invalidated() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]string{}, m.invalidated...)
}
