package changestore

import (
	"sync"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/types"
)

// Memory is an in-memory Store for tests and scratch repositories. It
// stores canonical bytes, not decoded values, so Get exercises the
// same verification path as the file store.
type Memory struct {
	mu    sync.RWMutex
	frame map[types.Hash][]byte
}

func NewMemory() *Memory {
	return &Memory{frame: make(map[types.Hash][]byte)}
}

func (s *Memory) Put(c *change.Change) (types.Hash, error) {
	h := c.Hash()
	raw, err := c.Encode()
	if err != nil {
		return h, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frame[h]; !ok {
		s.frame[h] = raw
	}
	return h, nil
}

func (s *Memory) Get(h types.Hash) (*change.Change, error) {
	s.mu.RLock()
	raw, ok := s.frame[h]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return change.DecodeVerify(raw, h)
}

func (s *Memory) Has(h types.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.frame[h]
	return ok, nil
}

func (s *Memory) Del(h types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frame, h)
	return nil
}

func (s *Memory) Contents(h types.Hash, start, end uint64) ([]byte, error) {
	c, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	return c.ContentsSlice(start, end)
}
