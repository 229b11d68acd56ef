package storage

import (
	"context"
	"sync"
)

// MemoryPositionRepo реализует PositionRepo в памяти.
// Данные теряются при перезапуске сервера.
type MemoryPositionRepo struct {
	mu   sync.RWMutex
	data map[string]PlayerState
}

// NewMemoryPositionRepo создает новый репозиторий положений в памяти
func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{data: make(map[string]PlayerState)}
}

func (r *MemoryPositionRepo) Save(ctx context.Context, name string, st PlayerState) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.data[name] = st
	r.mu.Unlock()
	return nil
}

func (r *MemoryPositionRepo) Load(ctx context.Context, name string) (PlayerState, bool, error) {
	if err := checkName(name); err != nil {
		return PlayerState{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return PlayerState{}, false, err
	}
	r.mu.RLock()
	st, ok := r.data[name]
	r.mu.RUnlock()
	return st, ok, nil
}

func (r *MemoryPositionRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	delete(r.data, name)
	r.mu.Unlock()
	return nil
}

// Count количество сохранённых игроков
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *MemoryPositionRepo) Close() error { return nil }
