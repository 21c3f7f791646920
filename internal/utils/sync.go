package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off for owners that are synchronized
// by their caller
type OptionalMutex struct {
	mutex    sync.Mutex
	useMutex bool
}

func NewOptionalMutex(useMutex bool) *OptionalMutex {
	return &OptionalMutex{useMutex: useMutex}
}

func (m *OptionalMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

// OptionalRWMutex is the read/write counterpart of OptionalMutex
type OptionalRWMutex struct {
	mutex    sync.RWMutex
	useMutex bool
}

func NewOptionalRWMutex(useMutex bool) *OptionalRWMutex {
	return &OptionalRWMutex{useMutex: useMutex}
}

func (m *OptionalRWMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.useMutex {
		m.mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.useMutex {
		m.mutex.RUnlock()
	}
}
