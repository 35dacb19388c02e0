package sink

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps files in a map. Fail makes the next uploads return an error.
type Memory struct {
	name string

	mu    sync.Mutex
	files map[string][]byte
	fail  error
}

func NewMemory(name string) *Memory {
	return &Memory{name: name, files: make(map[string][]byte)}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Upload(ctx context.Context, name string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return fmt.Errorf("%s upload %s: %w", m.name, name, m.fail)
	}
	m.files[name] = append([]byte(nil), content...)
	return nil
}

func (m *Memory) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

// Fail sets the error returned by subsequent uploads; nil restores them.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// File returns a stored file.
func (m *Memory) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	return b, ok
}

// Len returns the number of stored files.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
