// Package draftstore хранит оценённые черновики заказов до подтверждения оплаты.
// Черновики живут ограниченное время и ключуются идентификатором платёжного намерения.
package draftstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

// ErrNotFound возвращается, если черновик отсутствует или истёк.
var ErrNotFound = errors.New("draft not found")

// Store хранит черновики с ограниченным временем жизни.
type Store interface {
	Save(ctx context.Context, d *model.Draft, ttl time.Duration) error
	Get(ctx context.Context, intentID string) (*model.Draft, error)
	Delete(ctx context.Context, intentID string) error
}

type memoryEntry struct {
	draft     model.Draft
	expiresAt time.Time
}

// MemoryStore хранит черновики в памяти процесса. Подходит для одного экземпляра сервиса и тестов.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore создаёт пустое хранилище черновиков в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Save сохраняет черновик и заодно удаляет истёкшие, чтобы брошенные
// черновики не копились в памяти.
func (s *MemoryStore) Save(ctx context.Context, d *model.Draft, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}
	s.entries[d.Intent.ID] = memoryEntry{draft: cloneDraft(d), expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, intentID string) (*model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, intentID)
		return nil, ErrNotFound
	}
	d := cloneDraft(&e.draft)
	return &d, nil
}

func (s *MemoryStore) Delete(ctx context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, intentID)
	return nil
}

func cloneDraft(d *model.Draft) model.Draft {
	c := *d
	c.Items = append([]model.LineItem(nil), d.Items...)
	return c
}
