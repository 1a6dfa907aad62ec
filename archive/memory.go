/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package archive

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps the most recent results of each room in process.
type Memory struct {
	mu      sync.RWMutex
	keep    int
	results map[string][]Result
}

// NewMemory retains up to keep results per room; keep <= 0 means 100.
func NewMemory(keep int) *Memory {
	if keep <= 0 {
		keep = 100
	}

	return &Memory{
		keep:    keep,
		results: make(map[string][]Result),
	}
}

func (m *Memory) Record(ctx context.Context, r Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(r); err != nil {
		return err
	}

	r.Scores = slices.Clone(r.Scores)

	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.results[r.RoomID], r)
	if len(list) > m.keep {
		list = list[len(list)-m.keep:]
	}
	m.results[r.RoomID] = list

	return nil
}

func (m *Memory) Recent(ctx context.Context, roomID string, limit int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.results[roomID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}

	out := make([]Result, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}

	return out, nil
}

func (m *Memory) Close() {}
