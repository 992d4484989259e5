package cache

import (
	"sort"
	"strings"
	"sync"
)

// Memory implements Storage with an in-process map
type Memory struct {
	mutex sync.RWMutex
	db    map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		db: make(map[string][]byte),
	}
}

func (m *Memory) Init() error {
	return nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	data, ok := m.db[key]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (m *Memory) PutAll(entries map[string][]byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key, data := range entries {
		m.db[key] = append([]byte(nil), data...)
	}
	return nil
}

func (m *Memory) Keys(prefix string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error {
	return nil
}
