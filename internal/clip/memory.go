package clip

import (
	"bytes"
	"context"
	"sync"
)

// Memory is a process-local clipboard. It stands in for the system
// clipboard on headless hosts and in tests. Every Write that changes the
// content signals watchers.
type Memory struct {
	mu       sync.Mutex
	data     map[Format][]byte
	watchers map[chan struct{}]struct{}
}

// NewMemory returns an empty Memory clipboard.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[Format][]byte),
		watchers: make(map[chan struct{}]struct{}),
	}
}

func (m *Memory) Name() string { return "headless (in-memory)" }

func (m *Memory) Read(f Format) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.data[f]; ok {
		return bytes.Clone(b)
	}
	return nil
}

// Write replaces the whole clipboard, as a system clipboard does.
func (m *Memory) Write(f Format, data []byte) error {
	if f != FormatText && f != FormatImage {
		return ErrUnsupported
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := len(m.data) != 1 || !bytes.Equal(m.data[f], data)
	m.data = map[Format][]byte{f: bytes.Clone(data)}
	if !changed {
		return nil
	}
	// Watchers are closed under mu; sends never block.
	for ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *Memory) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch
}
