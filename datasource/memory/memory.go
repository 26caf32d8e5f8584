package memory

import (
	"fmt"
	"sync"

	"github.com/featurestore/featurestore-go-sdk/api"
)

// Memory is an in-process datasource holding offline tables and online
// key-value tables.
type Memory struct {
	Name string

	mu     sync.RWMutex
	tables map[string]*api.Table
	kv     map[string]*KVTable
}

// KVTable is a single online projection. Callers hold Mu while reading or
// swapping values.
type KVTable struct {
	Mu     sync.RWMutex
	Values map[string]interface{}
}

var memoryInstances sync.Map

func GetMemory(name string) (*Memory, error) {
	value, ok := memoryInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("Memory not found, name:%s", name)
	}
	instance, ok := value.(*Memory)
	if !ok {
		return nil, fmt.Errorf("Memory not found, name:%s", name)
	}
	return instance, nil
}

// RegisterMemory returns the datasource registered under name, creating it
// when needed.
func RegisterMemory(name string) *Memory {
	m := &Memory{
		Name:   name,
		tables: make(map[string]*api.Table),
		kv:     make(map[string]*KVTable),
	}
	actual, _ := memoryInstances.LoadOrStore(name, m)
	return actual.(*Memory)
}

func RemoveMemory(name string) {
	memoryInstances.Delete(name)
}

func (m *Memory) PutTable(name string, table *api.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = table
}

func (m *Memory) GetTable(name string) (*api.Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	return t, ok
}

func (m *Memory) KV(name string) *KVTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.kv[name]
	if !ok {
		t = &KVTable{Values: make(map[string]interface{})}
		m.kv[name] = t
	}
	return t
}
